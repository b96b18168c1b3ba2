// Package accounts holds the SKR03-style chart-of-account and tax-key
// constants the engine proposes assignments against. The engine never
// posts journal entries; these are targets for proposals only.
package accounts

// Balance sheet / clearing accounts
const (
	MarketplaceClearing = "1210"  // settlement cash account (marketplace payout clearing)
	Geldtransit         = "1360"  // money in transit between accounts
	CollectiveDebtor    = "69999" // Sammeldebitor for marketplace revenue
	RefundClearing      = "1590"  // refund / credit note clearing
	InputTaxDeductible  = "1576"  // deductible input tax 19%
)

// Expense accounts
const (
	MarketplaceFees = "4760" // sales commissions / marketplace fees
	Advertising     = "4600" // advertising and service fees
	Telecom         = "4920" // phone / internet
	Postage         = "4910" // postage
	Freight         = "4730" // outbound freight (carriers)
	OfficeSupplies  = "4930" // office supplies
)

// Revenue accounts
const (
	RevenueStandard = "8400" // domestic revenue 19%
	RevenueReduced  = "8300" // domestic revenue 7%
	RevenueEUSupply = "8125" // intra-community supply, tax free
	RevenueExport   = "8120" // export outside the EU, tax free
)

// Tax rates (percent)
const (
	TaxStandard = 19.0
	TaxReduced  = 7.0
	TaxFree     = 0.0
)

// DATEV BU tax keys
const (
	TaxKeyInputStandard  = "9" // input tax 19% (purchases, marketplace fees)
	TaxKeyOutputStandard = "3" // output tax 19%
)
