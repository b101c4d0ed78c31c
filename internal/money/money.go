// Package money provides the fixed-point rounding helpers shared by the
// reconciliation and split engines. All monetary values travel as float64 and
// are normalised through shopspring/decimal, whose Round implements the
// "half away from zero" midpoint rule required for cent-exact accounting.
package money

import "github.com/shopspring/decimal"

// Round2 rounds a monetary value to cents, half away from zero.
func Round2(v float64) float64 {
	return round(v, 2)
}

// Round3 rounds a quantity to three decimal places, half away from zero.
// Receipt quantities carry at most three decimals.
func Round3(v float64) float64 {
	return round(v, 3)
}

// Round4 rounds an intermediate allocation value to four decimal places.
// Proportional shares are kept at this precision before the final cent
// rounding so that accumulation error stays below half a cent.
func Round4(v float64) float64 {
	return round(v, 4)
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
