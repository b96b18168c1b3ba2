// Package rules persists learned pattern→account mappings and the
// history of past matching decisions. Rule confidence is reinforcement
// learned: repeated saves nudge it toward 1.0, never down.
package rules

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mwalther/belegmatch/internal/domain"
)

// confidenceIncrement is added on each reinforcement, capped at 1.0.
const confidenceIncrement = 0.05

// feedbackRuleConfidence is the starting confidence of a rule derived
// from a user correction.
const feedbackRuleConfidence = 0.7

// feedbackPatternLength bounds the derived keyword pattern.
const feedbackPatternLength = 50

// Repository handles rule and history persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new rule repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rules").Logger(),
	}
}

// Save upserts a rule keyed by (pattern, matchType). On conflict the
// existing rule is reinforced: usage count +1, last-used refreshed,
// confidence nudged toward 1.0. Account and tax rate of an existing
// rule are kept; save is reinforcement, not replacement.
func (r *Repository) Save(rule *domain.MatchingRule) error {
	if rule.Pattern == "" {
		return fmt.Errorf("rule pattern must not be empty")
	}

	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	usageCount := rule.UsageCount
	if usageCount < 1 {
		usageCount = 1
	}

	query := `
		INSERT INTO matching_rules (
			pattern, match_type, account, tax_rate, confidence,
			usage_count, last_used, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern, match_type) DO UPDATE SET
			usage_count = usage_count + 1,
			last_used = excluded.last_used,
			confidence = MIN(1.0, confidence + ` + fmt.Sprintf("%g", confidenceIncrement) + `)
	`

	_, err := r.db.Exec(
		query,
		rule.Pattern,
		string(rule.MatchType),
		rule.Account,
		rule.TaxRate,
		rule.Confidence,
		usageCount,
		now,
		string(rule.Source),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	return nil
}

// FindRule looks a rule up for the given text, trying exact pattern
// equality first, then case-insensitive substring containment of the
// pattern within the text, then keyword rules whose pattern contains
// any token of the text. First hit wins. A nil result is a normal
// lookup miss, not an error.
func (r *Repository) FindRule(text string, matchType domain.MatchType) (*domain.MatchingRule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	// Exact pattern equality.
	rule, err := r.findOne(
		"pattern = ?"+matchTypeClause(matchType), text, matchType)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return rule, nil
	}

	// Pattern contained in text, case-insensitive. Vendor rules are
	// excluded here; they have their own lookup.
	rule, err = r.findOne(
		"instr(lower(?), lower(pattern)) > 0 AND match_type != 'vendor'"+matchTypeClause(matchType),
		text, matchType)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return rule, nil
	}

	// Keyword rules: any whitespace token of the text contained in the
	// rule pattern.
	return r.findKeywordRule(text)
}

func matchTypeClause(matchType domain.MatchType) string {
	if matchType == "" {
		return " AND ? = ''"
	}
	return " AND match_type = ?"
}

func (r *Repository) findOne(where string, text string, matchType domain.MatchType) (*domain.MatchingRule, error) {
	query := `
		SELECT id, pattern, match_type, account, tax_rate, confidence,
		       usage_count, last_used, source
		FROM matching_rules
		WHERE ` + where + `
		ORDER BY usage_count DESC, confidence DESC, id
		LIMIT 1
	`

	rows, err := r.db.Query(query, text, string(matchType))
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	rule, err := scanRule(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) findKeywordRule(text string) (*domain.MatchingRule, error) {
	query := `
		SELECT id, pattern, match_type, account, tax_rate, confidence,
		       usage_count, last_used, source
		FROM matching_rules
		WHERE match_type = 'keyword'
		ORDER BY usage_count DESC, confidence DESC, id
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword rules: %w", err)
	}
	defer rows.Close()

	tokens := strings.Fields(strings.ToLower(text))

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		pattern := strings.ToLower(rule.Pattern)
		for _, token := range tokens {
			if len(token) < 3 {
				continue
			}
			if strings.Contains(pattern, token) {
				return rule, nil
			}
		}
	}

	return nil, rows.Err()
}

// FindVendorRule matches a counterparty name against vendor-typed
// rules. The most used, most trusted pattern wins among ties.
func (r *Repository) FindVendorRule(vendorName string) (*domain.MatchingRule, error) {
	if strings.TrimSpace(vendorName) == "" {
		return nil, nil
	}

	query := `
		SELECT id, pattern, match_type, account, tax_rate, confidence,
		       usage_count, last_used, source
		FROM matching_rules
		WHERE match_type = 'vendor'
		  AND instr(lower(?), lower(pattern)) > 0
		ORDER BY usage_count DESC, confidence DESC, id
		LIMIT 1
	`

	rows, err := r.db.Query(query, vendorName)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor rules: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	rule, err := scanRule(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vendor rule: %w", err)
	}
	return rule, nil
}

// GetAll returns all rules ordered by usage.
func (r *Repository) GetAll(limit int) ([]domain.MatchingRule, error) {
	query := `
		SELECT id, pattern, match_type, account, tax_rate, confidence,
		       usage_count, last_used, source
		FROM matching_rules
		ORDER BY usage_count DESC, confidence DESC, id
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var result []domain.MatchingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		result = append(result, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return result, nil
}

// RecordHistory appends one decision record. History is append-only.
func (r *Repository) RecordHistory(entry *domain.MatchingHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO matching_history (
			id, transaction_id, text, document_id, account,
			method, confidence, tier, is_correct, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var isCorrect interface{}
	if entry.IsCorrect != nil {
		isCorrect = *entry.IsCorrect
	}

	_, err := r.db.Exec(
		query,
		entry.ID,
		entry.TransactionID,
		entry.Text,
		entry.DocumentID,
		entry.Account,
		entry.Method,
		entry.Confidence,
		string(entry.Tier),
		isCorrect,
		entry.CreatedAt.Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}

	return nil
}

// GetHistory returns one history entry by id.
func (r *Repository) GetHistory(id string) (*domain.MatchingHistory, error) {
	query := `
		SELECT id, transaction_id, text, document_id, account,
		       method, confidence, tier, is_correct, created_at
		FROM matching_history
		WHERE id = ?
	`

	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	entry, err := scanHistory(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	return entry, nil
}

// GetHistoryByTransaction returns all decisions recorded for one
// transaction, newest first.
func (r *Repository) GetHistoryByTransaction(transactionID string) ([]domain.MatchingHistory, error) {
	query := `
		SELECT id, transaction_id, text, document_id, account,
		       method, confidence, tier, is_correct, created_at
		FROM matching_history
		WHERE transaction_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var result []domain.MatchingHistory
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		result = append(result, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return result, nil
}

// ApplyFeedback marks a history entry as correct or incorrect. An
// incorrect decision with a corrected account derives a new keyword
// rule from the start of the original transaction text; repeating the
// same correction reinforces that rule instead of duplicating it.
func (r *Repository) ApplyFeedback(historyID string, isCorrect bool, correctedAccount string, correctedTaxRate float64) error {
	entry, err := r.GetHistory(historyID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("history entry %s not found", historyID)
	}

	if _, err := r.db.Exec(
		"UPDATE matching_history SET is_correct = ? WHERE id = ?",
		isCorrect, historyID,
	); err != nil {
		return fmt.Errorf("failed to update history: %w", err)
	}

	if isCorrect || correctedAccount == "" {
		return nil
	}

	pattern := feedbackPattern(entry.Text)
	if pattern == "" {
		r.log.Warn().Str("history_id", historyID).Msg("Correction without usable text, no rule derived")
		return nil
	}

	rule := &domain.MatchingRule{
		Pattern:    pattern,
		MatchType:  domain.MatchKeyword,
		Account:    correctedAccount,
		TaxRate:    correctedTaxRate,
		Confidence: feedbackRuleConfidence,
		Source:     domain.RuleSourceAuto,
	}

	if err := r.Save(rule); err != nil {
		return fmt.Errorf("failed to save corrected rule: %w", err)
	}

	r.log.Info().
		Str("pattern", pattern).
		Str("account", correctedAccount).
		Msg("Learned rule from correction")

	return nil
}

// feedbackPattern derives the keyword pattern from the first 50
// characters of the transaction text, rune safe.
func feedbackPattern(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > feedbackPatternLength {
		runes = runes[:feedbackPatternLength]
	}
	return strings.TrimSpace(string(runes))
}

func scanRule(rows *sql.Rows) (*domain.MatchingRule, error) {
	var rule domain.MatchingRule
	var matchType, source, lastUsed string

	if err := rows.Scan(
		&rule.ID,
		&rule.Pattern,
		&matchType,
		&rule.Account,
		&rule.TaxRate,
		&rule.Confidence,
		&rule.UsageCount,
		&lastUsed,
		&source,
	); err != nil {
		return nil, err
	}

	rule.MatchType = domain.MatchType(matchType)
	rule.Source = domain.RuleSource(source)
	if t, err := time.Parse("2006-01-02 15:04:05", lastUsed); err == nil {
		rule.LastUsed = t
	}

	return &rule, nil
}

func scanHistory(rows *sql.Rows) (*domain.MatchingHistory, error) {
	var entry domain.MatchingHistory
	var tier, createdAt string
	var isCorrect sql.NullBool

	if err := rows.Scan(
		&entry.ID,
		&entry.TransactionID,
		&entry.Text,
		&entry.DocumentID,
		&entry.Account,
		&entry.Method,
		&entry.Confidence,
		&tier,
		&isCorrect,
		&createdAt,
	); err != nil {
		return nil, err
	}

	entry.Tier = domain.ConfidenceTier(tier)
	if isCorrect.Valid {
		v := isCorrect.Bool
		entry.IsCorrect = &v
	}
	if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		entry.CreatedAt = t
	}

	return &entry, nil
}
