package reconcile

import "time"

// State is the terminal reconciliation state of one transaction.
type State string

const (
	StateUnprocessed        State = "unprocessed"
	StateDocumentMatched    State = "document-matched"
	StateAccountOnly        State = "account-only"
	StateDocumentAndAccount State = "document-and-account"
	StateUnassigned         State = "unassigned"
)

// Outcome is the per-transaction result of one reconciliation run.
type Outcome struct {
	TransactionID  string  `json:"transaction_id"`
	State          State   `json:"state"`
	DocumentID     string  `json:"document_id,omitempty"`
	DocumentRef    string  `json:"document_ref,omitempty"`
	Account        string  `json:"account,omitempty"`
	TaxRate        float64 `json:"tax_rate,omitempty"`
	Method         string  `json:"method,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	PartialPayment bool    `json:"partial_payment,omitempty"`
	PaidFraction   float64 `json:"paid_fraction,omitempty"`
}

// RunStats aggregates one reconciliation run for the UI/API layers.
type RunStats struct {
	From              time.Time      `json:"from"`
	To                time.Time      `json:"to"`
	StartedAt         time.Time      `json:"started_at"`
	DurationMS        int64          `json:"duration_ms"`
	TotalTransactions int            `json:"total_transactions"`
	MatchedDocument   int            `json:"matched_document"`
	MatchedAccount    int            `json:"matched_account"`
	MatchedBoth       int            `json:"matched_both"`
	Unmatched         int            `json:"unmatched"`
	Failed            int            `json:"failed"`
	Reasons           []string       `json:"reasons,omitempty"`
	ByMethod          map[string]int `json:"by_method"`
	ByProvider        map[string]int `json:"by_provider"`
	MeanConfidence    float64        `json:"mean_confidence"`
	StdDevConfidence  float64        `json:"stddev_confidence"`
}
