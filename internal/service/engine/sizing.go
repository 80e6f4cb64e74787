package engine

import "github.com/shopspring/decimal"

// RiskPerContract is |entry - stop| * pointValue.
func RiskPerContract(entry, stop, pointValue float64) float64 {
	d := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stop)).Abs()
	return d.Mul(decimal.NewFromFloat(pointValue)).InexactFloat64()
}

// SizePosition is clamp(floor(riskPerTrade / riskPerContract), 1, maxQty).
// It returns 0 when risk per contract is not positive.
func SizePosition(riskPerTrade, riskPerContract float64, maxQty int) int {
	if riskPerContract <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(riskPerTrade).Div(decimal.NewFromFloat(riskPerContract)).Floor().IntPart()
	if q < 1 {
		q = 1
	}
	if maxQty > 0 && q > int64(maxQty) {
		q = int64(maxQty)
	}
	return int(q)
}

// ScaleQty applies a governor size factor, never going below one contract.
func ScaleQty(qty int, factor float64) int {
	if factor >= 1 || qty <= 1 {
		return qty
	}
	q := decimal.NewFromInt(int64(qty)).Mul(decimal.NewFromFloat(factor)).Floor().IntPart()
	if q < 1 {
		q = 1
	}
	return int(q)
}

// EstimatedRisk is qty * riskPerContract.
func EstimatedRisk(qty int, riskPerContract float64) float64 {
	return decimal.NewFromInt(int64(qty)).Mul(decimal.NewFromFloat(riskPerContract)).InexactFloat64()
}

// AddUSD sums money amounts without float drift.
func AddUSD(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).InexactFloat64()
}

// WithinBudget reports whether used + add stays at or under limit.
func WithinBudget(used, add, limit float64) bool {
	return decimal.NewFromFloat(used).Add(decimal.NewFromFloat(add)).LessThanOrEqual(decimal.NewFromFloat(limit))
}
