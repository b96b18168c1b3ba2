// Package classify assigns a ledger account and tax rate to
// transactions that have no matched document. Four tiers are tried in
// order of decreasing trust; each short-circuits on a hit.
package classify

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mwalther/belegmatch/internal/domain"
)

// Classification methods, one per tier.
const (
	MethodCategory      = "category"
	MethodStaticText    = "static-text"
	MethodLearnedRule   = "learned-rule"
	MethodVendorHistory = "vendor-history"
)

// Confidence policy. All scaling lives here so call sites cannot
// drift apart. Tier confidences decrease with decreasing certainty.
var tierConfidence = map[string]float64{
	MethodCategory:      0.92,
	MethodStaticText:    0.85,
	MethodLearnedRule:   0.80,
	MethodVendorHistory: 0.75, // multiplier on the stored rule confidence
}

// Within the learned-rule tier, looser match types scale the base
// confidence down further.
var learnedRuleScale = map[domain.MatchType]float64{
	domain.MatchExact:   1.0,
	domain.MatchKeyword: 0.9,
}

const learnedRuleFallbackScale = 0.8

// DefaultMinConfidence filters bulk classification results.
const DefaultMinConfidence = 0.7

// Suggestion is a proposed account assignment. A nil suggestion means
// "needs manual assignment", never an error.
type Suggestion struct {
	Account    string  `json:"account"`
	TaxRate    float64 `json:"tax_rate"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// RuleFinder is the read-only rule store surface the classifier needs.
type RuleFinder interface {
	FindRule(text string, matchType domain.MatchType) (*domain.MatchingRule, error)
	FindVendorRule(vendorName string) (*domain.MatchingRule, error)
}

// Classifier runs the four-tier cascade.
type Classifier struct {
	tables Tables
	rules  RuleFinder
	log    zerolog.Logger
}

// NewClassifier creates a new account classifier
func NewClassifier(tables Tables, rules RuleFinder, log zerolog.Logger) *Classifier {
	return &Classifier{
		tables: tables,
		rules:  rules,
		log:    log.With().Str("component", "account_classifier").Logger(),
	}
}

// Classify proposes an account for one transaction. Classification is
// read-only against the rule store.
func (c *Classifier) Classify(tx *domain.Transaction) (*Suggestion, error) {
	// Tier 1: provider-native category tag. The provider itself
	// classified the line, so this carries the highest trust.
	if tx.Category != "" {
		if m := c.tables.FindCategory(tx.Category); m != nil {
			return &Suggestion{
				Account:    m.Account,
				TaxRate:    m.TaxRate,
				Label:      m.Label,
				Confidence: tierConfidence[MethodCategory],
				Method:     MethodCategory,
			}, nil
		}
	}

	text := tx.SearchText()

	// Tier 2: curated static text mappings, independent of learning.
	if text != "" {
		if m := c.tables.FindText(text); m != nil {
			return &Suggestion{
				Account:    m.Account,
				TaxRate:    m.TaxRate,
				Label:      m.Label,
				Confidence: tierConfidence[MethodStaticText],
				Method:     MethodStaticText,
			}, nil
		}
	}

	// Tier 3: learned rules.
	if text != "" {
		rule, err := c.rules.FindRule(text, "")
		if err != nil {
			return nil, fmt.Errorf("rule lookup failed: %w", err)
		}
		if rule != nil {
			scale, ok := learnedRuleScale[rule.MatchType]
			if !ok {
				scale = learnedRuleFallbackScale
			}
			return &Suggestion{
				Account:    rule.Account,
				TaxRate:    rule.TaxRate,
				Label:      rule.Pattern,
				Confidence: tierConfidence[MethodLearnedRule] * scale,
				Method:     MethodLearnedRule,
			}, nil
		}
	}

	// Tier 4: vendor history, only when a counterparty is exposed.
	if tx.Counterparty != "" {
		rule, err := c.rules.FindVendorRule(tx.Counterparty)
		if err != nil {
			return nil, fmt.Errorf("vendor rule lookup failed: %w", err)
		}
		if rule != nil {
			return &Suggestion{
				Account:    rule.Account,
				TaxRate:    rule.TaxRate,
				Label:      rule.Pattern,
				Confidence: tierConfidence[MethodVendorHistory] * rule.Confidence,
				Method:     MethodVendorHistory,
			}, nil
		}
	}

	return nil, nil
}

// BatchResult pairs one transaction with its classification outcome.
type BatchResult struct {
	TransactionID string      `json:"transaction_id"`
	Suggestion    *Suggestion `json:"suggestion,omitempty"`
	Err           error       `json:"-"`
}

// ClassifyBatch classifies a batch with a bounded worker pool.
// Classification is read-only, so items are independent; results below
// minConfidence are filtered to nil. Order of results follows the
// input order.
func (c *Classifier) ClassifyBatch(ctx context.Context, txs []domain.Transaction, minConfidence float64, workers int) []BatchResult {
	if workers < 1 {
		workers = 1
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	results := make([]BatchResult, len(txs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range txs {
		if ctx.Err() != nil {
			results[i] = BatchResult{TransactionID: txs[i].ID, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			tx := &txs[i]
			suggestion, err := c.Classify(tx)
			if err != nil {
				results[i] = BatchResult{TransactionID: tx.ID, Err: err}
				return
			}
			if suggestion != nil && suggestion.Confidence < minConfidence {
				suggestion = nil
			}
			results[i] = BatchResult{TransactionID: tx.ID, Suggestion: suggestion}
		}(i)
	}

	wg.Wait()
	return results
}
