package models

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits every stored amount carries
const Scale int32 = 18

// Quantize rounds d half-up to Scale fractional digits
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Div divides a by b at Scale precision, half-up
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Scale)
}

// DecimalPtr returns a pointer to a quantized copy of d
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	q := Quantize(d)
	return &q
}
