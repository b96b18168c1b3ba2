package matching

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalther/belegmatch/internal/domain"
)

var txDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func doc(id, number, gross string, dateOffset int) domain.Document {
	return domain.Document{
		ID:     id,
		Number: number,
		Date:   txDate.AddDate(0, 0, dateOffset),
		Gross:  decimal.RequireFromString(gross),
		Kind:   domain.DocDomesticInvoice,
	}
}

func tx(amount, description, reference string) *domain.Transaction {
	return &domain.Transaction{
		ID:          "tx-1",
		Provider:    domain.ProviderBank,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "EUR",
		ValueDate:   txDate,
		Description: description,
		Reference:   reference,
	}
}

func newTestMatcher() *Matcher {
	return NewMatcher(DefaultConfig(), zerolog.Nop())
}

func TestMatchExplicitReference(t *testing.T) {
	candidates := []domain.Document{
		doc("d1", "RE-2024-001", "50.00", -2),
		doc("d2", "RE-2024-002", "100.00", -2),
	}

	res := newTestMatcher().Match(tx("100.00", "", "re-2024-002"), candidates)

	require.True(t, res.Found)
	assert.Equal(t, "d2", res.DocumentID)
	assert.Equal(t, MethodExplicitReference, res.Method)
	assert.Equal(t, domain.TierHigh, res.Tier)
}

func TestExplicitReferenceBeatsAmountDateFallback(t *testing.T) {
	// d1 is an exact amount/date candidate, but the explicit reference
	// points at d2. Priority must win over score.
	candidates := []domain.Document{
		doc("d1", "RE-2024-001", "100.00", 0),
		doc("d2", "RE-2024-002", "100.00", -6),
	}

	res := newTestMatcher().Match(tx("100.00", "", "RE-2024-002"), candidates)

	require.True(t, res.Found)
	assert.Equal(t, "d2", res.DocumentID)
	assert.Equal(t, MethodExplicitReference, res.Method)
}

func TestMatchExtractedToken(t *testing.T) {
	candidates := []domain.Document{
		doc("d1", "RE-2024-001", "50.00", -2),
	}

	res := newTestMatcher().Match(tx("50.00", "Zahlung Rechnung RE-2024-001, danke", ""), candidates)

	require.True(t, res.Found)
	assert.Equal(t, "d1", res.DocumentID)
	assert.Equal(t, MethodExtractedToken, res.Method)
}

func TestExtractedTokenToleratesTruncation(t *testing.T) {
	// The candidate number is a truncated form of the extracted token.
	candidates := []domain.Document{
		doc("d1", "2024-001", "50.00", -2),
	}

	res := newTestMatcher().Match(tx("50.00", "Rechnung RE-2024-001", ""), candidates)

	require.True(t, res.Found)
	assert.Equal(t, MethodExtractedToken, res.Method)
}

func TestAmountDateFallbackAcceptsCloseCandidate(t *testing.T) {
	candidates := []domain.Document{
		doc("d1", "RE-1", "100.10", -2),
	}

	res := newTestMatcher().Match(tx("100.00", "Sammelzahlung ohne Referenz", ""), candidates)

	require.True(t, res.Found)
	assert.Equal(t, MethodAmountDate, res.Method)
	// 0.10 amount diff + 0.2 day penalty = medium tier.
	assert.Equal(t, domain.TierMedium, res.Tier)
	assert.InDelta(t, 0.3, res.Score, 1e-9)
}

func TestAmountDateStrictGateRejectsCoarseMatch(t *testing.T) {
	// 0.50 difference passes the candidate filter but fails the
	// stricter 0.25 accept gate. The two-stage gate is intentional.
	candidates := []domain.Document{
		doc("d1", "RE-1", "100.00", -2),
	}

	res := newTestMatcher().Match(tx("99.50", "Sammelzahlung ohne Referenz", ""), candidates)

	assert.False(t, res.Found)
}

func TestAmountDateWindowIsAsymmetric(t *testing.T) {
	m := newTestMatcher()

	// 6 days before the payment: inside the window.
	res := m.Match(tx("100.00", "keine referenz", ""), []domain.Document{doc("d1", "RE-1", "100.00", -6)})
	assert.True(t, res.Found)

	// 8 days before: outside.
	res = m.Match(tx("100.00", "keine referenz", ""), []domain.Document{doc("d1", "RE-1", "100.00", -8)})
	assert.False(t, res.Found)

	// 4 days after: outside, payments follow invoices.
	res = m.Match(tx("100.00", "keine referenz", ""), []domain.Document{doc("d1", "RE-1", "100.00", 4)})
	assert.False(t, res.Found)
}

func TestAmountDatePicksBestOfSeveral(t *testing.T) {
	candidates := []domain.Document{
		doc("d1", "RE-1", "100.10", -2),
		doc("d2", "RE-2", "100.00", -1),
	}

	res := newTestMatcher().Match(tx("100.00", "keine referenz", ""), candidates)

	require.True(t, res.Found)
	assert.Equal(t, "d2", res.DocumentID)
}

func TestPartialPaymentDetection(t *testing.T) {
	candidates := []domain.Document{
		doc("d1", "RE-2024-007", "200.00", -2),
	}

	res := newTestMatcher().Match(tx("120.00", "", "RE-2024-007"), candidates)

	require.True(t, res.Found)
	assert.True(t, res.PartialPayment)
	assert.InDelta(t, 0.6, res.PaidFraction, 1e-9)
}

func TestFullPaymentWithinToleranceIsNotPartial(t *testing.T) {
	candidates := []domain.Document{
		doc("d1", "RE-2024-007", "100.00", -2),
	}

	res := newTestMatcher().Match(tx("98.00", "", "RE-2024-007"), candidates)

	require.True(t, res.Found)
	assert.False(t, res.PartialPayment)
}

func TestNoMatchIsANormalValue(t *testing.T) {
	res := newTestMatcher().Match(tx("42.00", "nichts passendes", ""), nil)
	assert.False(t, res.Found)
	assert.Empty(t, res.DocumentID)
}
