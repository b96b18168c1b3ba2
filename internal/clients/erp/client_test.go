package erp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalther/belegmatch/internal/domain"
)

func serve(t *testing.T, path, payload string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, path, r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("from"))
		assert.NotEmpty(t, r.URL.Query().Get("to"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, zerolog.Nop())
}

func TestGetSettlementLines(t *testing.T) {
	c := serve(t, "/api/extract/settlement-lines", `{
		"success": true,
		"data": {"lines": [
			{"line_id": "l1", "settlement_id": "s1", "tx_type": "Order",
			 "order_id": "303-1234567-7654321", "amount_type": "ItemPrice",
			 "description": "Principal", "amount": "119.00", "posted_at": "2024-03-10"},
			{"line_id": "l2", "settlement_id": "s1", "tx_type": "Order",
			 "order_id": "303-1234567-7654321", "amount_type": "ItemFees",
			 "description": "Commission", "amount": -12.5, "posted_at": "not-a-date"}
		]}
	}`)

	lines, err := c.GetSettlementLines(day(1), day(31))
	require.NoError(t, err)

	// The malformed-date line is dropped, not fatal.
	require.Len(t, lines, 1)
	assert.Equal(t, "l1", lines[0].LineID)
	assert.Equal(t, domain.SettlementOrder, lines[0].TxType)
	assert.True(t, lines[0].Amount.Equal(decimal.RequireFromString("119.00")))
	assert.Equal(t, day(10), lines[0].PostedAt)
}

func TestGetDocumentHeaders(t *testing.T) {
	c := serve(t, "/api/extract/document-headers", `{
		"success": true,
		"data": {"documents": [
			{"id": "d1", "number": "RE-2024-001", "date": "2024-03-09",
			 "gross": "119.00", "net": "100.00", "tax": "19.00",
			 "counterparty": "Acme GmbH", "country": "DE",
			 "kind": "domestic-invoice", "order_ref": "303-1234567-7654321"},
			{"id": "d2", "number": "RE-2024-002", "date": "2024-03-11",
			 "gross": "50.00", "net": "42.02", "tax": "7.98",
			 "country": "DE", "kind": "domestic-invoice", "order_ref": ""}
		]}
	}`)

	docs, index, err := c.GetDocumentHeaders(day(1), day(31))
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "RE-2024-001", docs[0].Number)
	assert.Equal(t, domain.DocDomesticInvoice, docs[0].Kind)
	assert.True(t, docs[0].AmountsConsistent())

	// Only the header carrying an order reference lands in the index.
	require.Len(t, index, 1)
	assert.Equal(t, "d1", index["303-1234567-7654321"].ID)
}

func TestServiceErrorSurfaced(t *testing.T) {
	c := serve(t, "/api/extract/settlement-lines",
		`{"success": false, "error": "extract store offline"}`)

	_, err := c.GetSettlementLines(day(1), day(31))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract store offline")
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}
