// Package reconcile orchestrates document matching and account
// classification per transaction. A confirmed document match is more
// authoritative than any heuristic classification, so the classifier
// only ever runs as a fallback.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/mwalther/belegmatch/internal/accounts"
	"github.com/mwalther/belegmatch/internal/domain"
	"github.com/mwalther/belegmatch/internal/events"
	"github.com/mwalther/belegmatch/internal/modules/classify"
	"github.com/mwalther/belegmatch/internal/modules/documents"
	"github.com/mwalther/belegmatch/internal/modules/matching"
)

// Assignment confidence per document match tier.
var documentTierConfidence = map[domain.ConfidenceTier]float64{
	domain.TierHigh:   0.95,
	domain.TierMedium: 0.80,
	domain.TierLow:    0.60,
}

// TransactionStore is the transaction persistence surface the
// orchestrator needs.
type TransactionStore interface {
	GetUnassigned(from, to time.Time) ([]domain.Transaction, error)
	UpdateAssignment(txID string, a *domain.Assignment) error
}

// DocumentStore serves match candidates.
type DocumentStore interface {
	Find(filter documents.Filter) ([]domain.Document, error)
}

// HistoryRecorder appends decision history.
type HistoryRecorder interface {
	RecordHistory(entry *domain.MatchingHistory) error
}

// Config tunes one reconciliation run.
type Config struct {
	// CandidateWindowDays widens the document query beyond the
	// transaction period, so invoices dated before the period can
	// still match payments inside it.
	CandidateWindowDays int
	MinConfidence       float64
	ClassifyWorkers     int
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		CandidateWindowDays: 14,
		MinConfidence:       classify.DefaultMinConfidence,
		ClassifyWorkers:     4,
	}
}

// Service runs the per-transaction reconciliation state machine.
type Service struct {
	cfg        Config
	txStore    TransactionStore
	docStore   DocumentStore
	matcher    *matching.Matcher
	classifier *classify.Classifier
	history    HistoryRecorder
	events     *events.Manager
	log        zerolog.Logger

	mu      sync.Mutex
	lastRun *RunStats
}

// NewService creates a new reconciliation service
func NewService(
	cfg Config,
	txStore TransactionStore,
	docStore DocumentStore,
	matcher *matching.Matcher,
	classifier *classify.Classifier,
	history HistoryRecorder,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		cfg:        cfg,
		txStore:    txStore,
		docStore:   docStore,
		matcher:    matcher,
		classifier: classifier,
		history:    history,
		events:     eventManager,
		log:        log.With().Str("service", "reconcile").Logger(),
	}
}

// ReconcileRange processes all unassigned transactions with value date
// in [from, to). Reads run first (matching, then concurrent
// classification); all writes happen in a sequential commit phase.
// Store failures abort the run; per-record problems are collected into
// the stats instead.
func (s *Service) ReconcileRange(ctx context.Context, from, to time.Time) (*RunStats, []Outcome, error) {
	startedAt := time.Now()
	stats := &RunStats{
		From:       from,
		To:         to,
		StartedAt:  startedAt,
		ByMethod:   make(map[string]int),
		ByProvider: make(map[string]int),
	}

	s.events.Emit(events.RunStarted, "reconcile", map[string]interface{}{
		"from": from.Format("2006-01-02"),
		"to":   to.Format("2006-01-02"),
	})

	txs, err := s.txStore.GetUnassigned(from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	candidates, err := s.docStore.Find(documents.Filter{
		DateFrom: from.AddDate(0, 0, -s.cfg.CandidateWindowDays),
		DateTo:   to.AddDate(0, 0, s.cfg.CandidateWindowDays),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load document candidates: %w", err)
	}

	stats.TotalTransactions = len(txs)

	// Read phase 1: document matching.
	outcomes := make([]Outcome, len(txs))
	var unmatchedIdx []int

	for i := range txs {
		tx := &txs[i]
		outcomes[i] = Outcome{TransactionID: tx.ID, State: StateUnprocessed}

		if err := validateTransaction(tx); err != nil {
			stats.Failed++
			stats.Reasons = append(stats.Reasons, fmt.Sprintf("transaction %s: %v", tx.ID, err))
			s.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Skipping malformed transaction")
			outcomes[i].State = StateUnassigned
			continue
		}

		res := s.matcher.Match(tx, candidates)
		if !res.Found {
			unmatchedIdx = append(unmatchedIdx, i)
			continue
		}

		account, taxRate := deriveDocumentAccount(findDocument(candidates, res.DocumentID))
		state := StateDocumentAndAccount
		if account == "" {
			state = StateDocumentMatched
		}

		outcomes[i] = Outcome{
			TransactionID:  tx.ID,
			State:          state,
			DocumentID:     res.DocumentID,
			DocumentRef:    res.DocumentRef,
			Account:        account,
			TaxRate:        taxRate,
			Method:         res.Method,
			Confidence:     documentTierConfidence[res.Tier],
			PartialPayment: res.PartialPayment,
			PaidFraction:   res.PaidFraction,
		}
	}

	// Read phase 2: classify the unmatched remainder, fanned out over
	// a bounded worker pool. Classification is read-only against the
	// rule store.
	if len(unmatchedIdx) > 0 {
		unmatched := make([]domain.Transaction, len(unmatchedIdx))
		for j, i := range unmatchedIdx {
			unmatched[j] = txs[i]
		}

		results := s.classifier.ClassifyBatch(ctx, unmatched, s.cfg.MinConfidence, s.cfg.ClassifyWorkers)

		for j, res := range results {
			i := unmatchedIdx[j]
			if res.Err != nil {
				return nil, nil, fmt.Errorf("classification failed for %s: %w", res.TransactionID, res.Err)
			}
			if res.Suggestion == nil {
				outcomes[i].State = StateUnassigned
				continue
			}
			outcomes[i] = Outcome{
				TransactionID: res.TransactionID,
				State:         StateAccountOnly,
				Account:       res.Suggestion.Account,
				TaxRate:       res.Suggestion.TaxRate,
				Method:        res.Suggestion.Method,
				Confidence:    res.Suggestion.Confidence,
			}
		}
	}

	// Sequential commit phase: assignment updates and history, no
	// concurrent writes against the stores.
	var confidences []float64
	for i := range txs {
		tx := &txs[i]
		outcome := &outcomes[i]

		switch outcome.State {
		case StateDocumentAndAccount, StateDocumentMatched:
			stats.MatchedDocument++
			if outcome.State == StateDocumentAndAccount {
				stats.MatchedBoth++
			}
		case StateAccountOnly:
			stats.MatchedAccount++
		default:
			stats.Unmatched++
			continue
		}

		stats.ByMethod[outcome.Method]++
		stats.ByProvider[string(tx.Provider)]++
		confidences = append(confidences, outcome.Confidence)

		assignment := &domain.Assignment{
			DocumentID:    outcome.DocumentID,
			DocumentRef:   outcome.DocumentRef,
			LedgerAccount: outcome.Account,
			TaxRate:       outcome.TaxRate,
			MatchSource:   outcome.Method,
			Confidence:    outcome.Confidence,
			AssignedAt:    time.Now().UTC(),
		}
		if err := s.txStore.UpdateAssignment(tx.ID, assignment); err != nil {
			return nil, nil, fmt.Errorf("failed to store assignment for %s: %w", tx.ID, err)
		}

		entry := &domain.MatchingHistory{
			TransactionID: tx.ID,
			Text:          tx.SearchText(),
			DocumentID:    outcome.DocumentID,
			Account:       outcome.Account,
			Method:        outcome.Method,
			Confidence:    outcome.Confidence,
			Tier:          tierForConfidence(outcome.Confidence),
		}
		if err := s.history.RecordHistory(entry); err != nil {
			return nil, nil, fmt.Errorf("failed to record history for %s: %w", tx.ID, err)
		}
	}

	if len(confidences) > 0 {
		stats.MeanConfidence = stat.Mean(confidences, nil)
		if len(confidences) > 1 {
			stats.StdDevConfidence = stat.StdDev(confidences, nil)
		}
	}

	stats.DurationMS = time.Since(startedAt).Milliseconds()

	s.mu.Lock()
	s.lastRun = stats
	s.mu.Unlock()

	s.events.Emit(events.RunCompleted, "reconcile", map[string]interface{}{
		"total":     stats.TotalTransactions,
		"both":      stats.MatchedBoth,
		"account":   stats.MatchedAccount,
		"unmatched": stats.Unmatched,
	})

	s.log.Info().
		Int("total", stats.TotalTransactions).
		Int("matched_document", stats.MatchedDocument).
		Int("matched_account", stats.MatchedAccount).
		Int("unmatched", stats.Unmatched).
		Msg("Reconciliation run completed")

	return stats, outcomes, nil
}

// LastRun returns the stats of the most recent run, nil if none ran
// yet.
func (s *Service) LastRun() *RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func validateTransaction(tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("missing transaction id")
	}
	if tx.ValueDate.IsZero() {
		return fmt.Errorf("missing value date")
	}
	return nil
}

func findDocument(candidates []domain.Document, id string) *domain.Document {
	for i := range candidates {
		if candidates[i].ID == id {
			return &candidates[i]
		}
	}
	return nil
}

// deriveDocumentAccount maps a matched document to its implied revenue
// account via the document's own tax and country attributes. This is a
// deterministic lookup, not a classification.
func deriveDocumentAccount(doc *domain.Document) (string, float64) {
	if doc == nil {
		return "", 0
	}

	if !doc.Tax.IsZero() && !doc.Net.IsZero() {
		rate := doc.Tax.Div(doc.Net).InexactFloat64() * 100
		if rate > 13 {
			return accounts.RevenueStandard, accounts.TaxStandard
		}
		return accounts.RevenueReduced, accounts.TaxReduced
	}

	// Tax-free: distinguish EU supply from export by the tax id flag.
	if doc.Country != "" && doc.Country != "DE" {
		if doc.HasTaxID {
			return accounts.RevenueEUSupply, accounts.TaxFree
		}
		return accounts.RevenueExport, accounts.TaxFree
	}

	return accounts.RevenueStandard, accounts.TaxStandard
}

func tierForConfidence(confidence float64) domain.ConfidenceTier {
	switch {
	case confidence >= 0.9:
		return domain.TierHigh
	case confidence >= 0.7:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}
