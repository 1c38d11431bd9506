package helpers

import "github.com/shopspring/decimal"

// surchargeRate is the service fee applied to every order subtotal.
var surchargeRate = decimal.RequireFromString("0.02")

// PricedLine is a reserved quantity at its captured unit price.
type PricedLine struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Totals are the amounts stored on an order.
type Totals struct {
	Subtotal  decimal.Decimal
	Surcharge decimal.Decimal
	Total     decimal.Decimal
}

// LineTotal is unit price times quantity.
func LineTotal(line PricedLine) decimal.Decimal {
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// ComputeTotals sums the lines and adds a surcharge of floor(subtotal * 2%),
// truncated to whole currency units.
func ComputeTotals(lines []PricedLine) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(LineTotal(line))
	}
	surcharge := subtotal.Mul(surchargeRate).Floor()
	return Totals{
		Subtotal:  subtotal,
		Surcharge: surcharge,
		Total:     subtotal.Add(surcharge),
	}
}
