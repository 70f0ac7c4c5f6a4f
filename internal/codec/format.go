package codec

import "github.com/shopspring/decimal"

// FormatQuantity renders qty with exactly 8 fractional digits, the fixed
// precision Binance spot order quantities use; digits beyond the eighth are
// rounded, not truncated.
//
// The source system this agent is modeled on formats quantities by
// printing 9 fractional digits, right-stripping trailing zeros, then
// re-appending a single "0" — a scheme that turns 1.0 into the string
// "10", which the exchange rejects outright (see DESIGN.md). This
// implementation instead uses a fixed-precision decimal and never touches
// the string after rendering it, so round, whole-number quantities format
// correctly.
func FormatQuantity(qty float64) string {
	return decimal.NewFromFloat(qty).StringFixed(8)
}

// FormatQuantityStep renders qty truncated (never rounded up) to the
// symbol's lot-size step, so an order never requests more than the
// exchange-reported step size allows.
func FormatQuantityStep(qty float64, step float64) string {
	d := decimal.NewFromFloat(qty)
	if step <= 0 {
		return d.StringFixed(8)
	}
	s := decimal.NewFromFloat(step)
	truncated := d.Div(s).Truncate(0).Mul(s)
	places := int32(s.Exponent() * -1)
	if places < 0 {
		places = 0
	}
	return truncated.StringFixed(places)
}
