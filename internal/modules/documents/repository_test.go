package documents

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalther/belegmatch/internal/database"
	"github.com/mwalther/belegmatch/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSchema(db.Conn()))
	return NewRepository(db.Conn(), zerolog.Nop())
}

func invoice(id, number string, day int, gross string) *domain.Document {
	g := decimal.RequireFromString(gross)
	net := g.Div(decimal.RequireFromString("1.19")).Round(2)
	return &domain.Document{
		ID:           id,
		Number:       number,
		Date:         time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		Gross:        g,
		Net:          net,
		Tax:          g.Sub(net),
		Counterparty: "Acme GmbH",
		Country:      "DE",
		Kind:         domain.DocDomesticInvoice,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)

	doc := invoice("d1", "RE-2024-001", 9, "119.00")
	require.NoError(t, repo.Upsert(doc))

	doc.Counterparty = "Acme AG"
	require.NoError(t, repo.Upsert(doc))

	got, err := repo.GetByNumber("RE-2024-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme AG", got.Counterparty)
	assert.True(t, got.Gross.Equal(decimal.RequireFromString("119.00")))
}

func TestGetByNumberCaseInsensitive(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Upsert(invoice("d1", "RE-2024-001", 9, "119.00")))

	got, err := repo.GetByNumber("re-2024-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ID)

	missing, err := repo.GetByNumber("RE-9999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindByDateRange(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Upsert(invoice("d1", "RE-1", 5, "100.00")))
	require.NoError(t, repo.Upsert(invoice("d2", "RE-2", 15, "200.00")))
	require.NoError(t, repo.Upsert(invoice("d3", "RE-3", 25, "300.00")))

	docs, err := repo.Find(Filter{
		DateFrom: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "RE-2", docs[0].Number)
}

func TestFindByAmountRange(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Upsert(invoice("d1", "RE-1", 5, "100.00")))
	require.NoError(t, repo.Upsert(invoice("d2", "RE-2", 6, "200.00")))

	docs, err := repo.Find(Filter{
		HasAmount: true,
		AmountMin: decimal.RequireFromString("150.00"),
		AmountMax: decimal.RequireFromString("250.00"),
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "RE-2", docs[0].Number)
}

func TestFindByText(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Upsert(invoice("d1", "RE-1", 5, "100.00")))

	other := invoice("d2", "GS-9", 6, "-50.00")
	other.Counterparty = "Beispiel AG"
	other.Kind = domain.DocCreditNote
	require.NoError(t, repo.Upsert(other))

	byNumber, err := repo.Find(Filter{TextContains: "gs-9"})
	require.NoError(t, err)
	require.Len(t, byNumber, 1)
	assert.Equal(t, domain.DocCreditNote, byNumber[0].Kind)

	byParty, err := repo.Find(Filter{TextContains: "beispiel"})
	require.NoError(t, err)
	require.Len(t, byParty, 1)
	assert.Equal(t, "d2", byParty[0].ID)
}
