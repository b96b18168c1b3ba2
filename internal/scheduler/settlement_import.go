package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwalther/belegmatch/internal/domain"
	"github.com/mwalther/belegmatch/internal/events"
	"github.com/mwalther/belegmatch/internal/modules/settlement"
)

// ExtractSource fetches raw settlement data from the ERP extract
// service.
type ExtractSource interface {
	GetSettlementLines(from, to time.Time) ([]domain.SettlementLineItem, error)
	GetDocumentHeaders(from, to time.Time) ([]domain.Document, settlement.DocumentIndex, error)
}

// DocumentSink persists fetched document headers.
type DocumentSink interface {
	Upsert(doc *domain.Document) error
}

// PostingSink persists aggregated postings.
type PostingSink interface {
	UpsertBatch(postings []domain.Posting) error
}

// SettlementImportJob pulls settlement lines and document headers from
// the ERP, aggregates the lines into postings and persists both.
// Aggregation is deterministic and postings upsert by natural key, so
// re-running the job over the same window is safe.
type SettlementImportJob struct {
	log          zerolog.Logger
	source       ExtractSource
	aggregator   *settlement.Aggregator
	documents    DocumentSink
	postings     PostingSink
	events       *events.Manager
	lookbackDays int

	mu sync.Mutex
}

// SettlementImportConfig holds configuration for the import job
type SettlementImportConfig struct {
	Log          zerolog.Logger
	Source       ExtractSource
	Aggregator   *settlement.Aggregator
	Documents    DocumentSink
	Postings     PostingSink
	Events       *events.Manager
	LookbackDays int
}

// NewSettlementImportJob creates a new settlement import job
func NewSettlementImportJob(cfg SettlementImportConfig) *SettlementImportJob {
	lookback := cfg.LookbackDays
	if lookback < 1 {
		lookback = 3
	}
	return &SettlementImportJob{
		log:          cfg.Log.With().Str("job", "settlement_import").Logger(),
		source:       cfg.Source,
		aggregator:   cfg.Aggregator,
		documents:    cfg.Documents,
		postings:     cfg.Postings,
		events:       cfg.Events,
		lookbackDays: lookback,
	}
}

// Name returns the job name
func (j *SettlementImportJob) Name() string {
	return "settlement_import"
}

// Run imports the trailing lookback window up to today.
func (j *SettlementImportJob) Run() error {
	if !j.mu.TryLock() {
		j.log.Warn().Msg("Settlement import already running, skipping")
		return nil
	}
	defer j.mu.Unlock()

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -j.lookbackDays)
	return j.ImportRange(from, to)
}

// ImportRange imports settlement data posted in [from, to).
func (j *SettlementImportJob) ImportRange(from, to time.Time) error {
	j.log.Info().
		Str("from", from.Format("2006-01-02")).
		Str("to", to.Format("2006-01-02")).
		Msg("Starting settlement import")
	startTime := time.Now()

	lines, err := j.source.GetSettlementLines(from, to)
	if err != nil {
		j.events.EmitError("settlement", err, map[string]interface{}{"step": "fetch-lines"})
		return fmt.Errorf("failed to fetch settlement lines: %w", err)
	}

	docs, index, err := j.source.GetDocumentHeaders(from, to)
	if err != nil {
		j.events.EmitError("settlement", err, map[string]interface{}{"step": "fetch-documents"})
		return fmt.Errorf("failed to fetch document headers: %w", err)
	}

	for i := range docs {
		if err := j.documents.Upsert(&docs[i]); err != nil {
			return fmt.Errorf("failed to store document %s: %w", docs[i].ID, err)
		}
	}

	postings, summary := j.aggregator.Aggregate(lines, index)
	if err := j.postings.UpsertBatch(postings); err != nil {
		return fmt.Errorf("failed to store postings: %w", err)
	}

	for _, reason := range summary.Reasons {
		j.log.Warn().Str("reason", reason).Msg("Settlement line not aggregated")
	}

	j.events.Emit(events.PostingsImported, "settlement", map[string]interface{}{
		"lines":     len(lines),
		"documents": len(docs),
		"postings":  len(postings),
		"failed":    summary.Failed,
	})

	j.log.Info().
		Int("lines", len(lines)).
		Int("documents", len(docs)).
		Int("postings", len(postings)).
		Int("failed_lines", summary.Failed).
		Dur("duration", time.Since(startTime)).
		Msg("Settlement import completed")

	return nil
}
