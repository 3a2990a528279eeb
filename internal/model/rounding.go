package model

import "github.com/shopspring/decimal"

// roundTo rounds half away from zero on the shortest decimal form of v,
// so 0.0005 becomes 0.001 and 0.1225 becomes 0.123 regardless of how the
// binary float happens to sit around the midpoint.
func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

func round3(v float64) float64 { return roundTo(v, 3) }
