package settlement

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mwalther/belegmatch/internal/accounts"
	"github.com/mwalther/belegmatch/internal/domain"
)

// Aggregator turns raw marketplace settlement lines into ledger-ready
// postings. It is a pure in-memory fold: same lines and document index
// in, byte-identical postings out.
type Aggregator struct {
	log zerolog.Logger
}

// NewAggregator creates a new settlement aggregator
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{
		log: log.With().Str("component", "settlement_aggregator").Logger(),
	}
}

// noiseThreshold suppresses zero-value postings from rounding residue.
var noiseThreshold = decimal.NewFromFloat(0.01)

// advertisingPattern picks out advertising / sponsored-product style
// fee descriptions.
var advertisingPattern = regexp.MustCompile(`(?i)advert|sponsored|werbung|service\s*fee`)

var revenueDescriptions = map[string]bool{
	DescPrincipal:   true,
	DescTax:         true,
	DescShipping:    true,
	DescShippingTax: true,
}

var feeDescriptions = map[string]bool{
	DescCommission: true,
	DescShippingHB: true,
}

type group struct {
	orderID string
	txType  domain.SettlementTxType
	lines   []domain.SettlementLineItem
}

// Aggregate processes one batch of settlement lines. Malformed lines
// are skipped and reported in the summary; they never abort the batch.
func (a *Aggregator) Aggregate(lines []domain.SettlementLineItem, docs DocumentIndex) ([]domain.Posting, Summary) {
	var postings []domain.Posting
	summary := Summary{}

	// Grouping preserves first-seen order so repeated runs emit
	// postings in the same sequence.
	var order []string
	groups := make(map[string]*group)

	for _, line := range lines {
		if err := validateLine(line); err != nil {
			summary.Failed++
			summary.Reasons = append(summary.Reasons, fmt.Sprintf("line %s: %v", line.LineID, err))
			a.log.Warn().Err(err).Str("line_id", line.LineID).Msg("Skipping malformed settlement line")
			continue
		}
		summary.Succeeded++

		// Transfers and discrete charges are never aggregated: they
		// represent individual bank movements or individually taxed
		// fees and must stay traceable line for line.
		if isTransfer(line) {
			postings = append(postings, a.transferPosting(line))
			continue
		}
		if line.TxType == domain.SettlementServiceFee || line.TxType == domain.SettlementOther {
			postings = append(postings, a.serviceFeePosting(line))
			continue
		}

		key := line.OrderID + "|" + string(line.TxType)
		g, ok := groups[key]
		if !ok {
			g = &group{orderID: line.OrderID, txType: line.TxType}
			groups[key] = g
			order = append(order, key)
		}
		g.lines = append(g.lines, line)
	}

	for _, key := range order {
		g := groups[key]
		doc, hasDoc := docs[g.orderID]

		if g.txType == domain.SettlementRefund {
			if p, ok := a.refundPosting(g, doc, hasDoc); ok {
				postings = append(postings, p)
			}
			continue
		}

		postings = append(postings, a.orderPostings(g, doc, hasDoc, &summary)...)
	}

	return postings, summary
}

func validateLine(line domain.SettlementLineItem) error {
	if line.AmountType == "" && line.Description == "" {
		return fmt.Errorf("missing amount type and description")
	}
	if line.PostedAt.IsZero() {
		return fmt.Errorf("missing posted timestamp")
	}
	return nil
}

// isTransfer detects bank-movement lines. Runs before grouping: a line
// with no order id cannot belong to any business transaction.
func isTransfer(line domain.SettlementLineItem) bool {
	if line.TxType == domain.SettlementTransfer {
		return true
	}
	if strings.Contains(strings.ToLower(line.AmountType), "transfer") ||
		strings.Contains(strings.ToLower(line.Description), "transfer") {
		return true
	}
	return line.OrderID == ""
}

func (a *Aggregator) transferPosting(line domain.SettlementLineItem) domain.Posting {
	return domain.Posting{
		Date:           line.PostedAt,
		Amount:         line.Amount,
		CashAccount:    accounts.MarketplaceClearing,
		CounterAccount: accounts.Geldtransit,
		OrderID:        line.OrderID,
		Bucket:         BucketTransfer,
		Memo:           strings.TrimSpace(line.AmountType + " " + line.Description),
		SourceLineIDs:  []string{line.LineID},
	}
}

func (a *Aggregator) serviceFeePosting(line domain.SettlementLineItem) domain.Posting {
	return domain.Posting{
		Date:           line.PostedAt,
		Amount:         line.Amount,
		CashAccount:    accounts.MarketplaceClearing,
		CounterAccount: accounts.Advertising,
		OrderID:        line.OrderID,
		Bucket:         BucketServiceFee,
		TaxKey:         accounts.TaxKeyInputStandard,
		Memo:           strings.TrimSpace(line.AmountType + " " + line.Description),
		SourceLineIDs:  []string{line.LineID},
	}
}

// refundPosting sums all ItemPrice and ItemFees amounts of a refund
// group into one posting against the refund clearing account. Refunds
// are never split: the gross correction is what matters.
func (a *Aggregator) refundPosting(g *group, doc domain.Document, hasDoc bool) (domain.Posting, bool) {
	sum := decimal.Zero
	var lineIDs []string
	var descs []string
	var first *domain.SettlementLineItem

	for i := range g.lines {
		line := g.lines[i]
		if line.AmountType != AmountTypeItemPrice && line.AmountType != AmountTypeItemFees {
			continue
		}
		if first == nil {
			first = &g.lines[i]
		}
		sum = sum.Add(line.Amount)
		lineIDs = append(lineIDs, line.LineID)
		descs = appendUnique(descs, line.Description)
	}

	if first == nil || sum.Abs().LessThan(noiseThreshold) {
		return domain.Posting{}, false
	}

	ref := refundReference(g.orderID, doc, hasDoc)
	return domain.Posting{
		Date:           first.PostedAt,
		Amount:         sum,
		CashAccount:    accounts.MarketplaceClearing,
		CounterAccount: accounts.RefundClearing,
		DocumentRef:    ref,
		OrderID:        g.orderID,
		Bucket:         BucketRefund,
		Memo:           buildMemo(ref, doc, hasDoc, descs),
		SourceLineIDs:  lineIDs,
	}, true
}

// orderPostings splits an order group into up to four postings, one per
// semantic bucket. A bucket below the noise threshold is dropped.
func (a *Aggregator) orderPostings(g *group, doc domain.Document, hasDoc bool, summary *Summary) []domain.Posting {
	ref := orderReference(g.orderID, doc, hasDoc)

	type bucket struct {
		name    string
		counter string
		taxKey  string
		sum     decimal.Decimal
		lineIDs []string
		descs   []string
		first   *domain.SettlementLineItem
	}

	buckets := []*bucket{
		{name: BucketRevenue, counter: accounts.CollectiveDebtor},
		{name: BucketFee, counter: accounts.MarketplaceFees, taxKey: accounts.TaxKeyInputStandard},
		{name: BucketAdvertising, counter: accounts.Advertising},
		{name: BucketWithheldTax, counter: accounts.InputTaxDeductible},
	}

	for i := range g.lines {
		line := g.lines[i]

		var b *bucket
		switch {
		case line.AmountType == AmountTypeItemPrice && revenueDescriptions[line.Description]:
			b = buckets[0]
		case line.AmountType == AmountTypeItemFees && advertisingPattern.MatchString(line.Description):
			b = buckets[2]
		case line.AmountType == AmountTypeItemFees && feeDescriptions[line.Description]:
			b = buckets[1]
		case line.AmountType == AmountTypeItemWithheldTax:
			// Pass-through tax withheld by the marketplace, kept out
			// of revenue and fee sums.
			b = buckets[3]
		default:
			summary.Reasons = append(summary.Reasons,
				fmt.Sprintf("line %s: no bucket for %s/%s", line.LineID, line.AmountType, line.Description))
			a.log.Warn().
				Str("line_id", line.LineID).
				Str("amount_type", line.AmountType).
				Str("description", line.Description).
				Msg("Settlement line matched no bucket")
			continue
		}

		if b.first == nil {
			b.first = &g.lines[i]
		}
		b.sum = b.sum.Add(line.Amount)
		b.lineIDs = append(b.lineIDs, line.LineID)
		b.descs = appendUnique(b.descs, line.Description)
	}

	var postings []domain.Posting
	for _, b := range buckets {
		if b.first == nil || b.sum.Abs().LessThan(noiseThreshold) {
			continue
		}
		postings = append(postings, domain.Posting{
			Date:           b.first.PostedAt,
			Amount:         b.sum,
			CashAccount:    accounts.MarketplaceClearing,
			CounterAccount: b.counter,
			DocumentRef:    ref,
			OrderID:        g.orderID,
			Bucket:         b.name,
			TaxKey:         b.taxKey,
			Memo:           buildMemo(ref, doc, hasDoc, b.descs),
			SourceLineIDs:  b.lineIDs,
		})
	}
	return postings
}

// orderReference derives the invoice-style reference for an order
// group: the known document number if one exists, otherwise a
// synthesized RE- reference.
func orderReference(orderID string, doc domain.Document, hasDoc bool) string {
	if hasDoc && doc.Number != "" {
		return doc.Number
	}
	return "RE-" + orderID
}

// refundReference derives the credit-note-style reference for a refund
// group. The GS- prefix substitution keeps the refund namespace
// disjoint from the invoice namespace even when refund and order share
// an order id.
func refundReference(orderID string, doc domain.Document, hasDoc bool) string {
	base := orderID
	if hasDoc && doc.Number != "" {
		base = doc.Number
	}
	return "GS-" + strings.TrimPrefix(base, "RE-")
}

func buildMemo(ref string, doc domain.Document, hasDoc bool, descs []string) string {
	parts := []string{ref}
	if hasDoc && doc.Counterparty != "" {
		parts = append(parts, doc.Counterparty)
	}
	parts = append(parts, descs...)
	return strings.Join(parts, " ")
}

func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
