// Package extract pulls structured tokens out of free-text payment
// descriptions. Each token family owns an ordered pattern table; the
// first pattern that matches wins, so order encodes priority.
package extract

import "regexp"

// Pattern is one entry in a token family's table.
type Pattern struct {
	ID string
	re *regexp.Regexp
}

func mustPattern(id, expr string) Pattern {
	return Pattern{ID: id, re: regexp.MustCompile(expr)}
}

// Marketplace order ids, e.g. "302-5843210-1234567". The bare id form
// is tried first: it is the most specific shape and appears without any
// label in settlement memos.
var marketplaceOrderPatterns = []Pattern{
	mustPattern("amazon-order", `\b(\d{3}-\d{7}-\d{7})\b`),
	mustPattern("ebay-order", `\b(\d{2}-\d{5}-\d{5})\b`),
	mustPattern("labeled-order", `(?i)\bbestellung[\s#:.]*(\d[\d-]{8,})`),
}

// Invoice numbers. Labeled forms first: an explicit "Rechnung ..." label
// is stronger evidence than a bare token that merely looks like an
// invoice number.
var invoicePatterns = []Pattern{
	mustPattern("labeled-de", `(?i)\brechnung(?:s[-\s]?nummer|s?[-\s]?nr)?\.?[\s#:]*([A-Za-z]{0,3}-?\d{3,}(?:[-/]\d+)*)`),
	mustPattern("labeled-en", `(?i)\binvoice(?:\s*(?:no|nr|number))?\.?[\s#:]*([A-Za-z]{0,3}-?\d{3,}(?:[-/]\d+)*)`),
	mustPattern("re-prefix", `\b(RE-?\d{4,})\b`),
	mustPattern("r-prefix", `\b(R\d{5,})\b`),
}

// Merchant order references (shop-side order numbers, not marketplace
// settlement ids).
var orderRefPatterns = []Pattern{
	mustPattern("labeled-de", `(?i)\bbestell(?:ung|[-\s]?nr|nummer)\.?[\s#:]*([A-Za-z0-9][A-Za-z0-9-]{3,})`),
	mustPattern("labeled-en", `(?i)\border(?:\s*(?:no|nr|number|id))?\.?[\s#:]*([A-Za-z0-9][A-Za-z0-9-]{3,})`),
	mustPattern("ord-prefix", `\b(ORD-\d+)\b`),
}

func first(patterns []Pattern, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, p := range patterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// MarketplaceOrderID extracts a marketplace order id from text.
func MarketplaceOrderID(text string) (string, bool) {
	return first(marketplaceOrderPatterns, text)
}

// InvoiceNumber extracts an invoice number from text.
func InvoiceNumber(text string) (string, bool) {
	return first(invoicePatterns, text)
}

// OrderReference extracts a merchant order reference from text.
func OrderReference(text string) (string, bool) {
	return first(orderRefPatterns, text)
}
