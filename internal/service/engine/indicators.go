package engine

import (
	"math"

	"SignalGate/internal/domain/models"
)

// ATR is the simple average true range over the last period bars.
// Candles are oldest first. Returns 0 with fewer than period+1 bars.
func ATR(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		c, prev := candles[i], candles[i-1].Close
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		sum += tr
	}
	return sum / float64(period)
}

// LogReturns computes r_t = ln(C_t / C_{t-1}); non-positive closes yield 0.
func LogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample stdev of the last window returns, per bar.
func RealizedVolatility(returns []float64, window int) float64 {
	if window <= 1 || len(returns) < window {
		return 0
	}
	sum, sum2 := 0.0, 0.0
	for _, r := range returns[len(returns)-window:] {
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// SMA of closes over the last n bars.
func SMA(candles []models.Candle, n int) float64 {
	if n <= 0 || len(candles) < n {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close
	}
	return sum / float64(n)
}

// swingExtremes returns the lowest low and highest high of candles.
func swingExtremes(candles []models.Candle) (low, high float64) {
	low, high = math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		low = math.Min(low, c.Low)
		high = math.Max(high, c.High)
	}
	return low, high
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func roundTo(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}
