package classify

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/mwalther/belegmatch/internal/accounts"
)

// CategoryMapping maps a provider-native category tag to an account.
type CategoryMapping struct {
	Category string  `toml:"category"`
	Account  string  `toml:"account"`
	TaxRate  float64 `toml:"tax_rate"`
	Label    string  `toml:"label"`
}

// TextMapping maps a fixed substring of the transaction text to an
// account. These are curated, not learned.
type TextMapping struct {
	Substring string  `toml:"substring"`
	Account   string  `toml:"account"`
	TaxRate   float64 `toml:"tax_rate"`
	Label     string  `toml:"label"`
}

// Tables holds the static classification tables for tiers 1 and 2.
type Tables struct {
	Categories   []CategoryMapping `toml:"category"`
	TextMappings []TextMapping     `toml:"text"`
}

// FindCategory returns the mapping for a category tag, nil on miss.
func (t *Tables) FindCategory(category string) *CategoryMapping {
	for i := range t.Categories {
		if strings.EqualFold(t.Categories[i].Category, category) {
			return &t.Categories[i]
		}
	}
	return nil
}

// FindText returns the first text mapping whose substring occurs in
// the text, nil on miss.
func (t *Tables) FindText(text string) *TextMapping {
	lower := strings.ToLower(text)
	for i := range t.TextMappings {
		if strings.Contains(lower, strings.ToLower(t.TextMappings[i].Substring)) {
			return &t.TextMappings[i]
		}
	}
	return nil
}

// DefaultTables returns the built-in classification tables, used when
// no TOML file is configured.
func DefaultTables() Tables {
	return Tables{
		Categories: []CategoryMapping{
			{Category: "ItemPrice", Account: accounts.RevenueStandard, TaxRate: accounts.TaxStandard, Label: "Marketplace Erlös"},
			{Category: "ItemFees", Account: accounts.MarketplaceFees, TaxRate: accounts.TaxStandard, Label: "Marketplace Gebühren"},
			{Category: "ItemWithheldTax", Account: accounts.InputTaxDeductible, TaxRate: accounts.TaxFree, Label: "Einbehaltene Steuer"},
			{Category: "ServiceFee", Account: accounts.Advertising, TaxRate: accounts.TaxStandard, Label: "Service Gebühren"},
		},
		TextMappings: []TextMapping{
			{Substring: "dhl", Account: accounts.Freight, TaxRate: accounts.TaxStandard, Label: "Versandkosten DHL"},
			{Substring: "hermes", Account: accounts.Freight, TaxRate: accounts.TaxStandard, Label: "Versandkosten Hermes"},
			{Substring: "dpd", Account: accounts.Freight, TaxRate: accounts.TaxStandard, Label: "Versandkosten DPD"},
			{Substring: "gls", Account: accounts.Freight, TaxRate: accounts.TaxStandard, Label: "Versandkosten GLS"},
			{Substring: "ups", Account: accounts.Freight, TaxRate: accounts.TaxStandard, Label: "Versandkosten UPS"},
			{Substring: "deutsche post", Account: accounts.Postage, TaxRate: accounts.TaxFree, Label: "Porto"},
			{Substring: "porto", Account: accounts.Postage, TaxRate: accounts.TaxFree, Label: "Porto"},
			{Substring: "telekom", Account: accounts.Telecom, TaxRate: accounts.TaxStandard, Label: "Telefon / Internet"},
			{Substring: "vodafone", Account: accounts.Telecom, TaxRate: accounts.TaxStandard, Label: "Telefon / Internet"},
			{Substring: "google ads", Account: accounts.Advertising, TaxRate: accounts.TaxStandard, Label: "Werbung Google"},
			{Substring: "facebook ads", Account: accounts.Advertising, TaxRate: accounts.TaxStandard, Label: "Werbung Facebook"},
			{Substring: "bürobedarf", Account: accounts.OfficeSupplies, TaxRate: accounts.TaxStandard, Label: "Bürobedarf"},
		},
	}
}

// LoadTables reads classification tables from a TOML file, falling back
// to the defaults when the file does not exist.
func LoadTables(path string, log zerolog.Logger) (Tables, error) {
	if path == "" {
		return DefaultTables(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("No classifier config file, using built-in tables")
		return DefaultTables(), nil
	}

	var tables Tables
	if _, err := toml.DecodeFile(path, &tables); err != nil {
		return Tables{}, fmt.Errorf("failed to parse classifier config: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("categories", len(tables.Categories)).
		Int("text_mappings", len(tables.TextMappings)).
		Msg("Classifier tables loaded")

	return tables, nil
}
