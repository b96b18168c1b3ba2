package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies the payment source a transaction was ingested from.
type Provider string

const (
	ProviderMarketplace Provider = "marketplace-settlement"
	ProviderGateway     Provider = "payment-gateway"
	ProviderBank        Provider = "bank-statement"
)

// AssignmentKind describes which parts of an assignment are set.
type AssignmentKind string

const (
	AssignmentNone     AssignmentKind = "none"
	AssignmentDocument AssignmentKind = "document"
	AssignmentAccount  AssignmentKind = "account"
	AssignmentBoth     AssignmentKind = "both"
)

// ConfidenceTier is a discrete certainty bucket for a match or classification.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// Assignment is the mutable outcome sub-record on a transaction.
// Kind must be "both" iff both DocumentID and LedgerAccount are set,
// and "none" iff neither is set; Normalize enforces this.
type Assignment struct {
	DocumentID    string    `json:"document_id,omitempty"`
	DocumentRef   string    `json:"document_ref,omitempty"`
	LedgerAccount string    `json:"ledger_account,omitempty"`
	TaxRate       float64   `json:"tax_rate,omitempty"`
	Kind          AssignmentKind `json:"kind"`
	MatchSource   string    `json:"match_source,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	AssignedAt    time.Time `json:"assigned_at,omitempty"`
}

// Normalize derives Kind from the populated fields.
func (a *Assignment) Normalize() {
	switch {
	case a.DocumentID != "" && a.LedgerAccount != "":
		a.Kind = AssignmentBoth
	case a.DocumentID != "":
		a.Kind = AssignmentDocument
	case a.LedgerAccount != "":
		a.Kind = AssignmentAccount
	default:
		a.Kind = AssignmentNone
	}
}

// Transaction is one payment or settlement record (a Zahlung).
type Transaction struct {
	ID           string          `json:"id"`
	Provider     Provider        `json:"provider"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	ValueDate    time.Time       `json:"value_date"`
	Description  string          `json:"description,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Category     string          `json:"category,omitempty"` // provider-native tag, e.g. a settlement amount type
	Assignment   Assignment      `json:"assignment"`
}

// SearchText returns the free text a classifier or matcher should look at.
func (t *Transaction) SearchText() string {
	if t.Description != "" {
		return t.Description
	}
	return t.Reference
}

// DocumentKind tags the polymorphic document source.
type DocumentKind string

const (
	DocDomesticInvoice DocumentKind = "domestic-invoice"
	DocExternalInvoice DocumentKind = "external-invoice"
	DocCreditNote      DocumentKind = "credit-note"
)

// Document is an accounting document (a Beleg): invoice or credit note.
// Credit notes carry negated amounts by convention.
type Document struct {
	ID           string          `json:"id"`
	Number       string          `json:"number"`
	Date         time.Time       `json:"date"`
	Gross        decimal.Decimal `json:"gross"`
	Net          decimal.Decimal `json:"net"`
	Tax          decimal.Decimal `json:"tax"`
	Counterparty string          `json:"counterparty,omitempty"`
	Country      string          `json:"country,omitempty"`
	HasTaxID     bool            `json:"has_tax_id"`
	Kind         DocumentKind    `json:"kind"`
}

// AmountsConsistent checks the gross = net + tax invariant within the
// ±0.01 rounding tolerance.
func (d *Document) AmountsConsistent() bool {
	diff := d.Gross.Sub(d.Net.Add(d.Tax)).Abs()
	return diff.LessThanOrEqual(decimal.NewFromFloat(0.01))
}

// SettlementTxType is the transaction type of a raw settlement line.
type SettlementTxType string

const (
	SettlementOrder      SettlementTxType = "Order"
	SettlementRefund     SettlementTxType = "Refund"
	SettlementTransfer   SettlementTxType = "Transfer"
	SettlementServiceFee SettlementTxType = "ServiceFee"
	SettlementOther      SettlementTxType = "other-transaction"
)

// SettlementLineItem is one raw marketplace ledger line. Immutable once
// ingested.
type SettlementLineItem struct {
	LineID       string           `json:"line_id"`
	SettlementID string           `json:"settlement_id"`
	TxType       SettlementTxType `json:"tx_type"`
	OrderID      string           `json:"order_id,omitempty"`
	AmountType   string           `json:"amount_type"`  // ItemPrice, ItemFees, ItemWithheldTax, ...
	Description  string           `json:"description"`  // Principal, Tax, Commission, ...
	Amount       decimal.Decimal  `json:"amount"`
	PostedAt     time.Time        `json:"posted_at"`
}

// Posting is one proposed ledger entry derived from aggregated
// settlement data. It is recomputed on each run and upserted by its
// natural key (Date, CashAccount, CounterAccount, DocumentRef, OrderID,
// Bucket).
type Posting struct {
	Date           time.Time       `json:"date"`
	Amount         decimal.Decimal `json:"amount"`
	CashAccount    string          `json:"cash_account"`
	CounterAccount string          `json:"counter_account"`
	DocumentRef    string          `json:"document_ref,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	Bucket         string          `json:"bucket"`
	TaxKey         string          `json:"tax_key,omitempty"`
	Memo           string          `json:"memo,omitempty"`
	SourceLineIDs  []string        `json:"source_line_ids,omitempty"`
}

// MatchType categorizes how a rule pattern is applied.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchKeyword  MatchType = "keyword"
	MatchVendor   MatchType = "vendor"
	MatchCategory MatchType = "category"
)

// RuleSource records where a rule came from.
type RuleSource string

const (
	RuleSourceAuto   RuleSource = "auto"
	RuleSourceManual RuleSource = "manual"
	RuleSourceImport RuleSource = "import"
)

// MatchingRule is a learned or curated pattern→account mapping.
// Unique per (Pattern, MatchType); Confidence only ever moves toward
// 1.0 under reinforcement.
type MatchingRule struct {
	ID         int64      `json:"id"`
	Pattern    string     `json:"pattern"`
	MatchType  MatchType  `json:"match_type"`
	Account    string     `json:"account"`
	TaxRate    float64    `json:"tax_rate"`
	Confidence float64    `json:"confidence"`
	UsageCount int        `json:"usage_count"`
	LastUsed   time.Time  `json:"last_used"`
	Source     RuleSource `json:"source"`
}

// MatchingHistory is one append-only record of a matching or
// classification decision. IsCorrect is nil until user feedback
// arrives.
type MatchingHistory struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Text          string         `json:"text,omitempty"` // transaction text the decision was based on
	DocumentID    string         `json:"document_id,omitempty"`
	Account       string         `json:"account,omitempty"`
	Method        string         `json:"method"`
	Confidence    float64        `json:"confidence"`
	Tier          ConfidenceTier `json:"tier"`
	IsCorrect     *bool          `json:"is_correct,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
