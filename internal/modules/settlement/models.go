package settlement

import (
	"database/sql"

	"github.com/mwalther/belegmatch/internal/domain"
)

// Semantic buckets a settlement line can land in. Bucket is part of a
// posting's natural key, so the names are stable identifiers.
const (
	BucketRevenue     = "revenue"
	BucketFee         = "fee"
	BucketAdvertising = "advertising"
	BucketWithheldTax = "withheld-tax"
	BucketRefund      = "refund"
	BucketTransfer    = "transfer"
	BucketServiceFee  = "service-fee"
)

// Amount types and descriptions as they appear on marketplace
// settlement reports.
const (
	AmountTypeItemPrice       = "ItemPrice"
	AmountTypeItemFees        = "ItemFees"
	AmountTypeItemWithheldTax = "ItemWithheldTax"

	DescPrincipal   = "Principal"
	DescTax         = "Tax"
	DescShipping    = "Shipping"
	DescShippingTax = "ShippingTax"
	DescCommission  = "Commission"
	DescShippingHB  = "ShippingHB"
)

// DocumentIndex maps known order / merchant references to their
// documents, used for reference derivation and memo text.
type DocumentIndex map[string]domain.Document

// Summary accumulates per-line outcomes of one aggregation run.
// Malformed lines are skipped and reported here, never aborting the
// batch.
type Summary struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Reasons   []string `json:"reasons,omitempty"`
}

// PostingsSchema backs the postings table. The unique index is the
// posting natural key that makes re-imports idempotent.
const PostingsSchema = `
CREATE TABLE IF NOT EXISTS postings (
    id INTEGER PRIMARY KEY,
    date TEXT NOT NULL,
    amount TEXT NOT NULL,
    cash_account TEXT NOT NULL,
    counter_account TEXT NOT NULL,
    document_ref TEXT NOT NULL DEFAULT '',
    order_id TEXT NOT NULL DEFAULT '',
    bucket TEXT NOT NULL,
    tax_key TEXT NOT NULL DEFAULT '',
    memo TEXT NOT NULL DEFAULT '',
    source_line_ids TEXT NOT NULL DEFAULT '[]',
    updated_at TEXT NOT NULL,
    UNIQUE(date, cash_account, counter_account, document_ref, order_id, bucket)
);

CREATE INDEX IF NOT EXISTS idx_postings_date ON postings(date);
CREATE INDEX IF NOT EXISTS idx_postings_order ON postings(order_id);
`

// InitSchema ensures the postings table exists.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(PostingsSchema)
	return err
}
