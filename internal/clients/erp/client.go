// Package erp talks to the ERP extract microservice. The client is
// read-only; all writes stay on the ERP side.
package erp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mwalther/belegmatch/internal/domain"
	"github.com/mwalther/belegmatch/internal/modules/settlement"
)

// Client for the ERP extract microservice
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// ServiceResponse is the standard response format
type ServiceResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
	Timestamp string          `json:"timestamp"`
}

// NewClient creates a new ERP extract client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "erp").Logger(),
	}
}

// get makes a GET request to the microservice
func (c *Client) get(endpoint string) (*ServiceResponse, error) {
	resp, err := c.client.Get(c.baseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// parseResponse parses the service response
func (c *Client) parseResponse(resp *http.Response) (*ServiceResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ServiceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success {
		errMsg := "unknown error"
		if result.Error != nil {
			errMsg = *result.Error
		}
		return &result, fmt.Errorf("erp service error: %s", errMsg)
	}

	return &result, nil
}

func rangeQuery(endpoint string, from, to time.Time) string {
	q := url.Values{}
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	return endpoint + "?" + q.Encode()
}

// SettlementLine is one raw settlement ledger line as the ERP sends it.
type SettlementLine struct {
	LineID       string          `json:"line_id"`
	SettlementID string          `json:"settlement_id"`
	TxType       string          `json:"tx_type"`
	OrderID      string          `json:"order_id"`
	AmountType   string          `json:"amount_type"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	PostedAt     string          `json:"posted_at"`
}

// SettlementLinesResponse is the response for GetSettlementLines
type SettlementLinesResponse struct {
	Lines []SettlementLine `json:"lines"`
}

// GetSettlementLines fetches all settlement lines posted in [from, to).
func (c *Client) GetSettlementLines(from, to time.Time) ([]domain.SettlementLineItem, error) {
	resp, err := c.get(rangeQuery("/api/extract/settlement-lines", from, to))
	if err != nil {
		return nil, err
	}

	var result SettlementLinesResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse settlement lines: %w", err)
	}

	lines := make([]domain.SettlementLineItem, 0, len(result.Lines))
	for _, l := range result.Lines {
		postedAt, err := time.Parse("2006-01-02", l.PostedAt)
		if err != nil {
			c.log.Warn().
				Str("line_id", l.LineID).
				Str("posted_at", l.PostedAt).
				Msg("Skipping settlement line with unparseable date")
			continue
		}
		lines = append(lines, domain.SettlementLineItem{
			LineID:       l.LineID,
			SettlementID: l.SettlementID,
			TxType:       domain.SettlementTxType(l.TxType),
			OrderID:      l.OrderID,
			AmountType:   l.AmountType,
			Description:  l.Description,
			Amount:       l.Amount,
			PostedAt:     postedAt,
		})
	}

	return lines, nil
}

// DocumentHeader is one accounting document header as the ERP sends it.
// OrderRef links marketplace orders to the document that bills them.
type DocumentHeader struct {
	ID           string          `json:"id"`
	Number       string          `json:"number"`
	Date         string          `json:"date"`
	Gross        decimal.Decimal `json:"gross"`
	Net          decimal.Decimal `json:"net"`
	Tax          decimal.Decimal `json:"tax"`
	Counterparty string          `json:"counterparty"`
	Country      string          `json:"country"`
	HasTaxID     bool            `json:"has_tax_id"`
	Kind         string          `json:"kind"`
	OrderRef     string          `json:"order_ref"`
}

// DocumentHeadersResponse is the response for GetDocumentHeaders
type DocumentHeadersResponse struct {
	Documents []DocumentHeader `json:"documents"`
}

// GetDocumentHeaders fetches document headers dated in [from, to).
// The returned index maps order references to their documents; headers
// without an order reference appear only in the document slice.
func (c *Client) GetDocumentHeaders(from, to time.Time) ([]domain.Document, settlement.DocumentIndex, error) {
	resp, err := c.get(rangeQuery("/api/extract/document-headers", from, to))
	if err != nil {
		return nil, nil, err
	}

	var result DocumentHeadersResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, nil, fmt.Errorf("failed to parse document headers: %w", err)
	}

	docs := make([]domain.Document, 0, len(result.Documents))
	index := settlement.DocumentIndex{}
	for _, h := range result.Documents {
		date, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			c.log.Warn().
				Str("document_id", h.ID).
				Str("date", h.Date).
				Msg("Skipping document header with unparseable date")
			continue
		}
		doc := domain.Document{
			ID:           h.ID,
			Number:       h.Number,
			Date:         date,
			Gross:        h.Gross,
			Net:          h.Net,
			Tax:          h.Tax,
			Counterparty: h.Counterparty,
			Country:      h.Country,
			HasTaxID:     h.HasTaxID,
			Kind:         domain.DocumentKind(h.Kind),
		}
		docs = append(docs, doc)
		if h.OrderRef != "" {
			index[h.OrderRef] = doc
		}
	}

	return docs, index, nil
}
