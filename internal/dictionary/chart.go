package dictionary

import "github.com/minerva-erp/glcore/internal/ledger"

// AccountDef seeds one account of the starter chart.
type AccountDef struct {
	Code         string                 `json:"code"`
	Name         string                 `json:"name"`
	Type         ledger.AccountType     `json:"type"`
	RequiredDims []ledger.DimensionType `json:"required_dims,omitempty"`
	System       bool                   `json:"system"`
}

// DimValueDef seeds one dimension value.
type DimValueDef struct {
	Type ledger.DimensionType `json:"type"`
	Code string               `json:"code"`
	Name string               `json:"name"`
}

var starterChart = []AccountDef{
	{Code: "1000", Name: "Cash", Type: ledger.AccountTypeAsset},
	{Code: "1020", Name: "Bank Operating", Type: ledger.AccountTypeAsset},
	{Code: "1200", Name: "Accounts Receivable", Type: ledger.AccountTypeAsset},
	{Code: "1400", Name: "Inventory", Type: ledger.AccountTypeAsset},
	{Code: "2000", Name: "Accounts Payable", Type: ledger.AccountTypeLiability},
	{Code: "2200", Name: "VAT Payable", Type: ledger.AccountTypeLiability},
	{Code: "3000", Name: "Share Capital", Type: ledger.AccountTypeEquity, System: true},
	{Code: "3900", Name: "Retained Earnings", Type: ledger.AccountTypeEquity, System: true},
	{Code: "4000", Name: "Sales Revenue", Type: ledger.AccountTypeRevenue,
		RequiredDims: []ledger.DimensionType{ledger.DimCostCenter}},
	{Code: "5000", Name: "Cost of Goods Sold", Type: ledger.AccountTypeExpense,
		RequiredDims: []ledger.DimensionType{ledger.DimCostCenter}},
	{Code: "6000", Name: "Operating Expenses", Type: ledger.AccountTypeExpense,
		RequiredDims: []ledger.DimensionType{ledger.DimCostCenter}},
	{Code: "6100", Name: "Payroll", Type: ledger.AccountTypeExpense,
		RequiredDims: []ledger.DimensionType{ledger.DimCostCenter, ledger.DimDepartment}},
}

var standardDimTypes = []ledger.DimensionTypeDef{
	{Code: ledger.DimCostCenter, Name: "Cost Center", Active: true},
	{Code: ledger.DimProject, Name: "Project", Active: true},
	{Code: ledger.DimDepartment, Name: "Department", Active: true},
	{Code: ledger.DimLocation, Name: "Location", Active: true},
}

var starterDimValues = []DimValueDef{
	{Type: ledger.DimCostCenter, Code: "CC-01", Name: "General"},
	{Type: ledger.DimCostCenter, Code: "CC-02", Name: "Production"},
	{Type: ledger.DimProject, Code: "PRJ-00", Name: "Unassigned"},
	{Type: ledger.DimDepartment, Code: "DEP-OPS", Name: "Operations"},
	{Type: ledger.DimDepartment, Code: "DEP-ADM", Name: "Administration"},
	{Type: ledger.DimLocation, Code: "LOC-HQ", Name: "Headquarters"},
}

// Chart returns the starter chart of accounts used by seeds.
func Chart() []AccountDef {
	out := make([]AccountDef, len(starterChart))
	copy(out, starterChart)
	return out
}

// DimensionTypes returns the standard dimension type registrations.
func DimensionTypes() []ledger.DimensionTypeDef {
	out := make([]ledger.DimensionTypeDef, len(standardDimTypes))
	copy(out, standardDimTypes)
	return out
}

// DimensionValues returns the starter dimension values.
func DimensionValues() []DimValueDef {
	out := make([]DimValueDef, len(starterDimValues))
	copy(out, starterDimValues)
	return out
}

// IsReserved reports whether code belongs to a system account of the starter
// chart.
func IsReserved(code string) bool {
	for _, a := range starterChart {
		if a.Code == code && a.System {
			return true
		}
	}
	return false
}
