package rules

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalther/belegmatch/internal/database"
	"github.com/mwalther/belegmatch/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSchema(db.Conn()))

	return NewRepository(db.Conn(), zerolog.Nop())
}

func vendorRule(pattern, account string, confidence float64) *domain.MatchingRule {
	return &domain.MatchingRule{
		Pattern:    pattern,
		MatchType:  domain.MatchVendor,
		Account:    account,
		TaxRate:    19,
		Confidence: confidence,
		Source:     domain.RuleSourceManual,
	}
}

func TestSaveCreatesRule(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Save(&domain.MatchingRule{
		Pattern:    "telekom",
		MatchType:  domain.MatchVendor,
		Account:    "4920",
		TaxRate:    19,
		Confidence: 0.8,
		Source:     domain.RuleSourceManual,
	})
	require.NoError(t, err)

	rules, err := repo.GetAll(0)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "telekom", rules[0].Pattern)
	assert.Equal(t, 1, rules[0].UsageCount)
	assert.InDelta(t, 0.8, rules[0].Confidence, 1e-9)
}

func TestSaveReinforcesInsteadOfDuplicating(t *testing.T) {
	repo := newTestRepository(t)
	rule := vendorRule("telekom", "4920", 0.8)

	require.NoError(t, repo.Save(rule))
	require.NoError(t, repo.Save(rule))

	rules, err := repo.GetAll(0)
	require.NoError(t, err)
	require.Len(t, rules, 1, "reinforcement must not create a second row")
	assert.Equal(t, 2, rules[0].UsageCount)
	assert.InDelta(t, 0.85, rules[0].Confidence, 1e-9)
}

func TestConfidenceIsCappedAtOne(t *testing.T) {
	repo := newTestRepository(t)
	rule := vendorRule("telekom", "4920", 0.98)

	require.NoError(t, repo.Save(rule))
	require.NoError(t, repo.Save(rule))
	require.NoError(t, repo.Save(rule))

	rules, err := repo.GetAll(0)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.LessOrEqual(t, rules[0].Confidence, 1.0)
}

func TestFindRuleExactBeatsSubstring(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save(&domain.MatchingRule{
		Pattern: "dhl paket", MatchType: domain.MatchExact,
		Account: "4730", Confidence: 0.9, Source: domain.RuleSourceManual,
	}))
	require.NoError(t, repo.Save(&domain.MatchingRule{
		Pattern: "dhl", MatchType: domain.MatchKeyword,
		Account: "4999", Confidence: 0.9, Source: domain.RuleSourceManual,
	}))

	rule, err := repo.FindRule("dhl paket", "")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "4730", rule.Account)
}

func TestFindRuleSubstringContainment(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save(&domain.MatchingRule{
		Pattern: "hosting", MatchType: domain.MatchExact,
		Account: "4925", Confidence: 0.9, Source: domain.RuleSourceManual,
	}))

	rule, err := repo.FindRule("Monatliche HOSTING Gebühr Januar", "")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "4925", rule.Account)
}

func TestFindRuleKeywordTokenInPattern(t *testing.T) {
	repo := newTestRepository(t)

	// Keyword rules match the other direction: a token of the text is
	// contained in the rule pattern.
	require.NoError(t, repo.Save(&domain.MatchingRule{
		Pattern: "amazon marketplace gebühren", MatchType: domain.MatchKeyword,
		Account: "4760", Confidence: 0.7, Source: domain.RuleSourceAuto,
	}))

	rule, err := repo.FindRule("Abbuchung marketplace 12345", "")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "4760", rule.Account)
}

func TestFindRuleMiss(t *testing.T) {
	repo := newTestRepository(t)

	rule, err := repo.FindRule("völlig unbekannter text", "")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestFindVendorRule(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save(vendorRule("telekom", "4920", 0.9)))

	rule, err := repo.FindVendorRule("Deutsche Telekom AG")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "4920", rule.Account)
}

func TestFindVendorRulePrefersMostUsed(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save(vendorRule("telekom", "4920", 0.9)))
	often := vendorRule("deutsche telekom", "4921", 0.8)
	require.NoError(t, repo.Save(often))
	require.NoError(t, repo.Save(often))
	require.NoError(t, repo.Save(often))

	rule, err := repo.FindVendorRule("Deutsche Telekom AG Festnetz")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "4921", rule.Account, "most used pattern wins")
}

func TestRecordAndFetchHistory(t *testing.T) {
	repo := newTestRepository(t)

	entry := &domain.MatchingHistory{
		TransactionID: "tx-1",
		Text:          "Telekom Rechnung Januar",
		Account:       "4920",
		Method:        "vendor-history",
		Confidence:    0.7,
		Tier:          domain.TierMedium,
	}
	require.NoError(t, repo.RecordHistory(entry))
	require.NotEmpty(t, entry.ID)

	got, err := repo.GetHistory(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tx-1", got.TransactionID)
	assert.Nil(t, got.IsCorrect)

	byTx, err := repo.GetHistoryByTransaction("tx-1")
	require.NoError(t, err)
	assert.Len(t, byTx, 1)
}

func TestApplyFeedbackCorrectOnlyMarks(t *testing.T) {
	repo := newTestRepository(t)

	entry := &domain.MatchingHistory{
		TransactionID: "tx-1",
		Text:          "Telekom Rechnung Januar",
		Account:       "4920",
		Method:        "vendor-history",
		Confidence:    0.7,
		Tier:          domain.TierMedium,
	}
	require.NoError(t, repo.RecordHistory(entry))

	require.NoError(t, repo.ApplyFeedback(entry.ID, true, "", 0))

	got, err := repo.GetHistory(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got.IsCorrect)
	assert.True(t, *got.IsCorrect)

	rules, err := repo.GetAll(0)
	require.NoError(t, err)
	assert.Empty(t, rules, "confirming a decision must not create rules")
}

func TestApplyFeedbackDerivesRuleFromCorrection(t *testing.T) {
	repo := newTestRepository(t)

	entry := &domain.MatchingHistory{
		TransactionID: "tx-1",
		Text:          "REWE Markt Einkauf Bürobedarf und Kaffee für das Büro, Beleg 998877",
		Account:       "4920",
		Method:        "learned-rule",
		Confidence:    0.8,
		Tier:          domain.TierMedium,
	}
	require.NoError(t, repo.RecordHistory(entry))

	require.NoError(t, repo.ApplyFeedback(entry.ID, false, "4930", 19))

	rules, err := repo.GetAll(0)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.MatchKeyword, rules[0].MatchType)
	assert.Equal(t, "4930", rules[0].Account)
	assert.InDelta(t, 0.7, rules[0].Confidence, 1e-9)
	assert.LessOrEqual(t, len([]rune(rules[0].Pattern)), 50)

	// Repeating the identical correction reinforces instead of
	// duplicating.
	require.NoError(t, repo.ApplyFeedback(entry.ID, false, "4930", 19))

	rules, err = repo.GetAll(0)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 2, rules[0].UsageCount)
	assert.InDelta(t, 0.75, rules[0].Confidence, 1e-9)
}

func TestFeedbackMissingHistoryFails(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.ApplyFeedback("does-not-exist", false, "4930", 0)
	assert.Error(t, err)
}
