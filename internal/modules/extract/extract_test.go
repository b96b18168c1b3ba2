package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketplaceOrderID(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{
			name:  "bare amazon order id",
			text:  "AMZ Abrechnung 302-5843210-1234567 Auszahlung",
			want:  "302-5843210-1234567",
			found: true,
		},
		{
			name:  "ebay style id",
			text:  "eBay Verkauf 12-34567-89012",
			want:  "12-34567-89012",
			found: true,
		},
		{
			name:  "labeled order wins over nothing",
			text:  "Bestellung: 123-4567890-1234567",
			want:  "123-4567890-1234567",
			found: true,
		},
		{
			name:  "no order id",
			text:  "Monatsgebühr Kontoführung",
			found: false,
		},
		{
			name:  "empty text",
			text:  "",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MarketplaceOrderID(tt.text)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInvoiceNumber(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{
			name:  "labeled german invoice",
			text:  "Zahlung Rechnung Nr. RE-20240117",
			want:  "RE-20240117",
			found: true,
		},
		{
			name:  "labeled rechnungsnummer",
			text:  "Rechnungsnummer: 2024-0815",
			want:  "2024-0815",
			found: true,
		},
		{
			name:  "english invoice label",
			text:  "payment for invoice no. INV-4711",
			want:  "INV-4711",
			found: true,
		},
		{
			name:  "bare RE prefix",
			text:  "Gutschrift zu RE-10042",
			want:  "RE-10042",
			found: true,
		},
		{
			name: "label beats bare token later in text",
			// Both forms present: the labeled pattern is earlier in the
			// table and must win even though RE-99999 appears first.
			text:  "RE-99999 storniert, Rechnung 2023-100",
			want:  "2023-100",
			found: true,
		},
		{
			name:  "nothing invoice-like",
			text:  "Dauerauftrag Miete",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InvoiceNumber(tt.text)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderReference(t *testing.T) {
	got, ok := OrderReference("Ihre Bestellung B2024-1001, vielen Dank")
	assert.True(t, ok)
	assert.Equal(t, "B2024-1001", got)

	got, ok = OrderReference("order id ORD-5521")
	assert.True(t, ok)
	assert.Equal(t, "ORD-5521", got)

	_, ok = OrderReference("")
	assert.False(t, ok)
}
