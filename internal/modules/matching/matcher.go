// Package matching links a payment transaction to an accounting
// document. Strategies are tried in a fixed priority order and the
// first confident hit wins; scoring only happens inside the final
// amount/date fallback.
package matching

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mwalther/belegmatch/internal/domain"
	"github.com/mwalther/belegmatch/internal/modules/extract"
	"github.com/mwalther/belegmatch/internal/modules/similarity"
)

// Match methods, in priority order.
const (
	MethodExplicitReference = "explicit-reference"
	MethodExtractedToken    = "extracted-token"
	MethodAmountDate        = "amount-date"
)

// Config tunes the amount/date fallback and partial payment detection.
type Config struct {
	// AmountTolerance is the candidate filter: documents whose gross
	// differs by more than this are not considered at all.
	AmountTolerance decimal.Decimal
	// AcceptMaxDiff is the stricter final gate on the best candidate.
	// The fallback is the least certain strategy and must not silently
	// accept coarse matches, so this is tighter than the filter.
	AcceptMaxDiff decimal.Decimal
	// WindowBefore / WindowAfter bound the document date relative to
	// the transaction date. Payments typically follow invoices, so the
	// window is asymmetric.
	WindowBeforeDays int
	WindowAfterDays  int
	// MinTier is the weakest amount/date tier still accepted.
	MinTier domain.ConfidenceTier
	// PartialTolerance is the relative shortfall above which a match
	// counts as a partial payment.
	PartialTolerance float64
}

// DefaultConfig returns the default matcher configuration
func DefaultConfig() Config {
	return Config{
		AmountTolerance:  decimal.NewFromFloat(0.50),
		AcceptMaxDiff:    decimal.NewFromFloat(0.25),
		WindowBeforeDays: 7,
		WindowAfterDays:  3,
		MinTier:          domain.TierMedium,
		PartialTolerance: 0.05,
	}
}

// Result is the outcome of one match attempt. Found=false is a normal
// value, not an error.
type Result struct {
	Found          bool                  `json:"found"`
	DocumentID     string                `json:"document_id,omitempty"`
	DocumentRef    string                `json:"document_ref,omitempty"`
	Tier           domain.ConfidenceTier `json:"tier,omitempty"`
	Method         string                `json:"method,omitempty"`
	Score          float64               `json:"score,omitempty"` // amount/date fallback only
	PartialPayment bool                  `json:"partial_payment,omitempty"`
	PaidFraction   float64               `json:"paid_fraction,omitempty"`
}

// Matcher searches documents for a transaction using the strategy
// cascade.
type Matcher struct {
	cfg Config
	log zerolog.Logger
}

// NewMatcher creates a new document matcher
func NewMatcher(cfg Config, log zerolog.Logger) *Matcher {
	return &Matcher{
		cfg: cfg,
		log: log.With().Str("component", "document_matcher").Logger(),
	}
}

// Match tries each strategy in order against the candidate set and
// returns the first hit.
func (m *Matcher) Match(tx *domain.Transaction, candidates []domain.Document) Result {
	if res, ok := m.matchExplicitReference(tx, candidates); ok {
		return m.withPartialPayment(tx, candidates, res)
	}
	if res, ok := m.matchExtractedToken(tx, candidates); ok {
		return m.withPartialPayment(tx, candidates, res)
	}
	if res, ok := m.matchAmountDate(tx, candidates); ok {
		return m.withPartialPayment(tx, candidates, res)
	}
	return Result{Found: false}
}

// matchExplicitReference uses the provider-supplied reference field.
func (m *Matcher) matchExplicitReference(tx *domain.Transaction, candidates []domain.Document) (Result, bool) {
	ref := strings.TrimSpace(tx.Reference)
	if ref == "" {
		return Result{}, false
	}

	for i := range candidates {
		doc := &candidates[i]
		if strings.EqualFold(doc.Number, ref) || doc.ID == ref {
			return Result{
				Found:       true,
				DocumentID:  doc.ID,
				DocumentRef: doc.Number,
				Tier:        domain.TierHigh,
				Method:      MethodExplicitReference,
			}, true
		}
	}
	return Result{}, false
}

// matchExtractedToken pulls tokens out of the transaction free text and
// looks them up by substring containment in both directions, to
// tolerate truncation on either side.
func (m *Matcher) matchExtractedToken(tx *domain.Transaction, candidates []domain.Document) (Result, bool) {
	text := tx.SearchText()

	var tokens []string
	if token, ok := extract.InvoiceNumber(text); ok {
		tokens = append(tokens, token)
	}
	if token, ok := extract.MarketplaceOrderID(text); ok {
		tokens = append(tokens, token)
	}
	if token, ok := extract.OrderReference(text); ok {
		tokens = append(tokens, token)
	}

	for _, token := range tokens {
		lowerToken := strings.ToLower(token)
		for i := range candidates {
			doc := &candidates[i]
			lowerNumber := strings.ToLower(doc.Number)
			if lowerNumber == "" {
				continue
			}
			if strings.Contains(lowerToken, lowerNumber) || strings.Contains(lowerNumber, lowerToken) {
				return Result{
					Found:       true,
					DocumentID:  doc.ID,
					DocumentRef: doc.Number,
					Tier:        domain.TierHigh,
					Method:      MethodExtractedToken,
				}, true
			}
		}
	}
	return Result{}, false
}

// matchAmountDate filters candidates by amount tolerance and date
// window, ranks them by the combined amount/date score, and accepts
// only the best one if it passes both the tier minimum and the strict
// amount gate.
func (m *Matcher) matchAmountDate(tx *domain.Transaction, candidates []domain.Document) (Result, bool) {
	windowStart := tx.ValueDate.AddDate(0, 0, -m.cfg.WindowBeforeDays)
	windowEnd := tx.ValueDate.AddDate(0, 0, m.cfg.WindowAfterDays)

	type scored struct {
		doc   *domain.Document
		score float64
		tier  domain.ConfidenceTier
		diff  decimal.Decimal
	}

	var filtered []scored
	for i := range candidates {
		doc := &candidates[i]
		diff := tx.Amount.Sub(doc.Gross).Abs()
		if diff.GreaterThan(m.cfg.AmountTolerance) {
			continue
		}
		if doc.Date.Before(windowStart) || doc.Date.After(windowEnd) {
			continue
		}
		score, tier := similarity.AmountDateScore(tx.Amount, doc.Gross, tx.ValueDate, doc.Date)
		filtered = append(filtered, scored{doc: doc, score: score, tier: tier, diff: diff})
	}

	if len(filtered) == 0 {
		return Result{}, false
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].score < filtered[j].score
	})

	best := filtered[0]
	if !tierAtLeast(best.tier, m.cfg.MinTier) {
		return Result{}, false
	}
	if !best.diff.LessThan(m.cfg.AcceptMaxDiff) {
		m.log.Debug().
			Str("transaction_id", tx.ID).
			Str("document", best.doc.Number).
			Str("amount_diff", best.diff.String()).
			Msg("Best amount/date candidate rejected by strict amount gate")
		return Result{}, false
	}

	return Result{
		Found:       true,
		DocumentID:  best.doc.ID,
		DocumentRef: best.doc.Number,
		Tier:        best.tier,
		Method:      MethodAmountDate,
		Score:       best.score,
	}, true
}

// withPartialPayment flags matches where the paid amount falls short of
// the document amount by more than the tolerance. This informs
// downstream reconciliation state; it does not change the match.
func (m *Matcher) withPartialPayment(tx *domain.Transaction, candidates []domain.Document, res Result) Result {
	var doc *domain.Document
	for i := range candidates {
		if candidates[i].ID == res.DocumentID {
			doc = &candidates[i]
			break
		}
	}
	if doc == nil || doc.Gross.IsZero() {
		return res
	}

	paid, _ := tx.Amount.Abs().Float64()
	total, _ := doc.Gross.Abs().Float64()
	if total <= 0 {
		return res
	}

	fraction := paid / total
	if fraction < 1.0-m.cfg.PartialTolerance {
		res.PartialPayment = true
		res.PaidFraction = fraction
	}
	return res
}

var tierRank = map[domain.ConfidenceTier]int{
	domain.TierLow:    1,
	domain.TierMedium: 2,
	domain.TierHigh:   3,
}

func tierAtLeast(tier, min domain.ConfidenceTier) bool {
	return tierRank[tier] >= tierRank[min]
}
