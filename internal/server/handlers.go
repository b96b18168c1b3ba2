package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwalther/belegmatch/internal/events"
)

// dateRange is the request body shared by the run and import
// endpoints. Both dates are inclusive-from, exclusive-to.
type dateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// parse returns the requested range, falling back to the trailing
// defaultDays window when the body is empty.
func (d *dateRange) parse(defaultDays int) (time.Time, time.Time, error) {
	if d.From == "" && d.To == "" {
		to := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
		return to.AddDate(0, 0, -defaultDays), to, nil
	}

	from, err := time.Parse("2006-01-02", d.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q", d.From)
	}
	to, err := time.Parse("2006-01-02", d.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q", d.To)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be before to")
	}
	return from, to, nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "belegmatch",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleSystemStatus handles system status requests
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	postingCount, err := s.postings.Count()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count postings")
	}

	response := map[string]interface{}{
		"status":   "running",
		"postings": postingCount,
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleReconcileRun runs reconciliation over the requested range.
// POST /api/reconcile/run
func (s *Server) handleReconcileRun(w http.ResponseWriter, r *http.Request) {
	var req dateRange
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	from, to, err := req.parse(30)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, outcomes, err := s.reconciler.ReconcileRange(r.Context(), from, to)
	if err != nil {
		s.log.Error().Err(err).Msg("Reconciliation run failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":    stats,
		"outcomes": outcomes,
	})
}

// handleReconcileStats returns the stats of the most recent run.
// GET /api/reconcile/stats
func (s *Server) handleReconcileStats(w http.ResponseWriter, r *http.Request) {
	stats := s.reconciler.LastRun()
	if stats == nil {
		s.writeError(w, http.StatusNotFound, "no reconciliation run yet")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleListRules returns stored matching rules, most used first.
// GET /api/rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	list, err := s.rules.GetAll(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list rules")
		s.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": list,
		"count": len(list),
	})
}

// feedbackRequest is the body of POST /api/rules/feedback.
type feedbackRequest struct {
	HistoryID        string  `json:"history_id"`
	IsCorrect        bool    `json:"is_correct"`
	CorrectedAccount string  `json:"corrected_account"`
	CorrectedTaxRate float64 `json:"corrected_tax_rate"`
}

// handleFeedback applies user feedback to a past decision.
// POST /api/rules/feedback
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HistoryID == "" {
		s.writeError(w, http.StatusBadRequest, "history_id is required")
		return
	}
	if !req.IsCorrect && req.CorrectedAccount == "" {
		s.writeError(w, http.StatusBadRequest, "corrected_account is required for negative feedback")
		return
	}

	if err := s.rules.ApplyFeedback(req.HistoryID, req.IsCorrect, req.CorrectedAccount, req.CorrectedTaxRate); err != nil {
		s.log.Error().Err(err).Str("history_id", req.HistoryID).Msg("Failed to apply feedback")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.events.Emit(events.FeedbackApplied, "rules", map[string]interface{}{
		"history_id": req.HistoryID,
		"is_correct": req.IsCorrect,
	})

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "applied",
	})
}

// handleRuleHistory returns the decision history for one transaction.
// GET /api/rules/history/{transactionID}
func (s *Server) handleRuleHistory(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	entries, err := s.rules.GetHistoryByTransaction(transactionID)
	if err != nil {
		s.log.Error().Err(err).Str("transaction_id", transactionID).Msg("Failed to load history")
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}

// handleSettlementImport imports settlement data for the requested
// range.
// POST /api/settlement/import
func (s *Server) handleSettlementImport(w http.ResponseWriter, r *http.Request) {
	var req dateRange
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	from, to, err := req.parse(3)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.importJob.ImportRange(from, to); err != nil {
		s.log.Error().Err(err).Msg("Settlement import failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "imported",
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
	})
}

// handleListPostings returns stored postings in a date range.
// GET /api/settlement/postings?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleListPostings(w http.ResponseWriter, r *http.Request) {
	req := dateRange{From: r.URL.Query().Get("from"), To: r.URL.Query().Get("to")}
	from, to, err := req.parse(30)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	postings, err := s.postings.GetByDateRange(from, to)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list postings")
		s.writeError(w, http.StatusInternalServerError, "failed to list postings")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"postings": postings,
		"count":    len(postings),
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
