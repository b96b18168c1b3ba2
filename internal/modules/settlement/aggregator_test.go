package settlement

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalther/belegmatch/internal/accounts"
	"github.com/mwalther/belegmatch/internal/domain"
)

var testTime = time.Date(2024, 2, 14, 9, 30, 0, 0, time.UTC)

func line(id, orderID string, txType domain.SettlementTxType, amountType, desc, amount string) domain.SettlementLineItem {
	return domain.SettlementLineItem{
		LineID:       id,
		SettlementID: "S-1",
		TxType:       txType,
		OrderID:      orderID,
		AmountType:   amountType,
		Description:  desc,
		Amount:       decimal.RequireFromString(amount),
		PostedAt:     testTime,
	}
}

func newTestAggregator() *Aggregator {
	return NewAggregator(zerolog.Nop())
}

func TestAggregateOrderGroup(t *testing.T) {
	// Three lines for one order: principal, tax, commission. The
	// revenue lines collapse into one posting, the fee line into
	// another.
	lines := []domain.SettlementLineItem{
		line("l1", "X", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "100.00"),
		line("l2", "X", domain.SettlementOrder, AmountTypeItemPrice, DescTax, "19.00"),
		line("l3", "X", domain.SettlementOrder, AmountTypeItemFees, DescCommission, "-12.00"),
	}

	postings, summary := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 2)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	revenue := postings[0]
	assert.Equal(t, BucketRevenue, revenue.Bucket)
	assert.True(t, revenue.Amount.Equal(decimal.RequireFromString("119.00")), "revenue = %s", revenue.Amount)
	assert.Equal(t, accounts.CollectiveDebtor, revenue.CounterAccount)
	assert.Equal(t, accounts.MarketplaceClearing, revenue.CashAccount)
	assert.Equal(t, "RE-X", revenue.DocumentRef)
	assert.ElementsMatch(t, []string{"l1", "l2"}, revenue.SourceLineIDs)

	fee := postings[1]
	assert.Equal(t, BucketFee, fee.Bucket)
	assert.True(t, fee.Amount.Equal(decimal.RequireFromString("-12.00")), "fee = %s", fee.Amount)
	assert.Equal(t, accounts.MarketplaceFees, fee.CounterAccount)
	assert.Equal(t, accounts.TaxKeyInputStandard, fee.TaxKey)
}

func TestAggregateRefundGroup(t *testing.T) {
	// A refund is one gross posting against the refund clearing
	// account, never split into buckets.
	lines := []domain.SettlementLineItem{
		line("l1", "X", domain.SettlementRefund, AmountTypeItemPrice, DescPrincipal, "-50.00"),
		line("l2", "X", domain.SettlementRefund, AmountTypeItemFees, DescCommission, "5.00"),
	}

	postings, _ := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 1)
	refund := postings[0]
	assert.Equal(t, BucketRefund, refund.Bucket)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("-45.00")), "refund = %s", refund.Amount)
	assert.Equal(t, accounts.RefundClearing, refund.CounterAccount)
	assert.Equal(t, "GS-X", refund.DocumentRef)
}

func TestRefundAndOrderReferencesNeverCollide(t *testing.T) {
	lines := []domain.SettlementLineItem{
		line("l1", "X", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "100.00"),
		line("l2", "X", domain.SettlementRefund, AmountTypeItemPrice, DescPrincipal, "-100.00"),
	}

	postings, _ := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 2)
	assert.NotEqual(t, postings[0].DocumentRef, postings[1].DocumentRef)
	assert.Equal(t, "RE-X", postings[0].DocumentRef)
	assert.Equal(t, "GS-X", postings[1].DocumentRef)
}

func TestReferenceReusesDocumentNumber(t *testing.T) {
	docs := DocumentIndex{
		"X": {Number: "RE-2024-100", Counterparty: "Acme GmbH"},
	}
	lines := []domain.SettlementLineItem{
		line("l1", "X", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "100.00"),
		line("l2", "X", domain.SettlementRefund, AmountTypeItemPrice, DescPrincipal, "-100.00"),
	}

	postings, _ := newTestAggregator().Aggregate(lines, docs)

	require.Len(t, postings, 2)
	assert.Equal(t, "RE-2024-100", postings[0].DocumentRef)
	// Prefix substitution keeps the refund namespace disjoint.
	assert.Equal(t, "GS-2024-100", postings[1].DocumentRef)
	assert.Contains(t, postings[0].Memo, "Acme GmbH")
}

func TestTransferLinesAreNeverAggregated(t *testing.T) {
	lines := []domain.SettlementLineItem{
		line("t1", "", domain.SettlementTransfer, "other-transaction", "Transfer to bank", "-500.00"),
		line("t2", "", domain.SettlementTransfer, "other-transaction", "Transfer to bank", "-300.00"),
		line("s1", "", domain.SettlementServiceFee, AmountTypeItemFees, "Subscription Fee", "-39.00"),
		// No order id at all: treated as a transfer even with Order type.
		line("t3", "", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "10.00"),
	}

	postings, _ := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 4)
	for _, p := range postings {
		assert.Len(t, p.SourceLineIDs, 1, "bucket %s must stay single-line", p.Bucket)
		assert.Contains(t, []string{BucketTransfer, BucketServiceFee}, p.Bucket)
	}
}

func TestServiceFeeLineKeepsOwnPosting(t *testing.T) {
	lines := []domain.SettlementLineItem{
		line("s1", "ORD-1", domain.SettlementServiceFee, AmountTypeItemFees, "Cost of Advertising", "-25.00"),
	}

	postings, _ := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 1)
	assert.Equal(t, BucketServiceFee, postings[0].Bucket)
	assert.Equal(t, accounts.Advertising, postings[0].CounterAccount)
}

func TestOrderGroupSplitsIntoFourBuckets(t *testing.T) {
	lines := []domain.SettlementLineItem{
		line("l1", "A", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "200.00"),
		line("l2", "A", domain.SettlementOrder, AmountTypeItemPrice, DescShipping, "4.90"),
		line("l3", "A", domain.SettlementOrder, AmountTypeItemFees, DescCommission, "-30.00"),
		line("l4", "A", domain.SettlementOrder, AmountTypeItemFees, "Sponsored Products Advertising", "-12.50"),
		line("l5", "A", domain.SettlementOrder, AmountTypeItemWithheldTax, "MarketplaceFacilitatorVAT", "-38.00"),
	}

	postings, _ := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 4)

	byBucket := map[string]domain.Posting{}
	for _, p := range postings {
		byBucket[p.Bucket] = p
	}

	assert.True(t, byBucket[BucketRevenue].Amount.Equal(decimal.RequireFromString("204.90")))
	assert.True(t, byBucket[BucketFee].Amount.Equal(decimal.RequireFromString("-30.00")))
	assert.True(t, byBucket[BucketAdvertising].Amount.Equal(decimal.RequireFromString("-12.50")))
	assert.True(t, byBucket[BucketWithheldTax].Amount.Equal(decimal.RequireFromString("-38.00")))
	assert.Equal(t, accounts.InputTaxDeductible, byBucket[BucketWithheldTax].CounterAccount)

	// Sum conservation: buckets together carry every grouped line.
	total := decimal.Zero
	for _, p := range postings {
		total = total.Add(p.Amount)
	}
	want := decimal.Zero
	for _, l := range lines {
		want = want.Add(l.Amount)
	}
	assert.True(t, total.Equal(want), "bucket sums %s != line sums %s", total, want)
}

func TestNoiseBucketsAreSkipped(t *testing.T) {
	lines := []domain.SettlementLineItem{
		line("l1", "A", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "50.00"),
		// Commission rounds to zero: the fee bucket must not appear.
		line("l2", "A", domain.SettlementOrder, AmountTypeItemFees, DescCommission, "0.005"),
	}

	postings, _ := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 1)
	assert.Equal(t, BucketRevenue, postings[0].Bucket)
}

func TestAggregateIsIdempotent(t *testing.T) {
	lines := []domain.SettlementLineItem{
		line("l1", "X", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "100.00"),
		line("l2", "X", domain.SettlementOrder, AmountTypeItemPrice, DescTax, "19.00"),
		line("l3", "X", domain.SettlementOrder, AmountTypeItemFees, DescCommission, "-12.00"),
		line("l4", "Y", domain.SettlementRefund, AmountTypeItemPrice, DescPrincipal, "-20.00"),
		line("t1", "", domain.SettlementTransfer, "other-transaction", "Transfer", "-87.00"),
	}
	docs := DocumentIndex{"X": {Number: "RE-77", Counterparty: "Beispiel AG"}}

	agg := newTestAggregator()
	first, firstSummary := agg.Aggregate(lines, docs)
	second, secondSummary := agg.Aggregate(lines, docs)

	assert.Equal(t, first, second)
	assert.Equal(t, firstSummary, secondSummary)
}

func TestMalformedLineIsSkippedNotFatal(t *testing.T) {
	bad := domain.SettlementLineItem{LineID: "bad", TxType: domain.SettlementOrder, OrderID: "X"}
	lines := []domain.SettlementLineItem{
		bad,
		line("l1", "X", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "10.00"),
	}

	postings, summary := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 1)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Reasons, 1)
	assert.Contains(t, summary.Reasons[0], "bad")
}

func TestUnbucketedLineIsReported(t *testing.T) {
	lines := []domain.SettlementLineItem{
		line("l1", "X", domain.SettlementOrder, AmountTypeItemPrice, DescPrincipal, "10.00"),
		line("l2", "X", domain.SettlementOrder, "ItemPromotion", "ShipPromotion", "-1.00"),
	}

	postings, summary := newTestAggregator().Aggregate(lines, DocumentIndex{})

	require.Len(t, postings, 1)
	require.Len(t, summary.Reasons, 1)
	assert.Contains(t, summary.Reasons[0], "no bucket")
}
