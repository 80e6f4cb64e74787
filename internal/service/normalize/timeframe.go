package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"SignalGate/pkg/util"
)

// NormalizeTimeframe maps chart intervals to a compact form: "5" -> "5m",
// "60" -> "1h", "D" -> "1d", "W" -> "1w". Already-normalized values pass.
func NormalizeTimeframe(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty timeframe")
	}
	upper := strings.ToUpper(s)
	switch upper {
	case "D", "1D":
		return "1d", nil
	case "W", "1W":
		return "1w", nil
	case "M", "1M":
		if s == "1m" {
			return "1m", nil
		}
		return "1mo", nil
	case "1MO":
		return "1mo", nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return "", fmt.Errorf("non-positive timeframe %q", s)
		}
		return minutesLabel(n), nil
	}
	lower := strings.ToLower(s)
	for _, unit := range []struct {
		suffix  string
		minutes int
	}{{"min", 1}, {"m", 1}, {"h", 60}, {"d", 1440}, {"w", 10080}, {"s", 0}} {
		if !strings.HasSuffix(lower, unit.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(lower, unit.suffix))
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid timeframe %q", s)
		}
		if unit.minutes == 0 {
			return strconv.Itoa(n) + "s", nil
		}
		return minutesLabel(n * unit.minutes), nil
	}
	return "", fmt.Errorf("invalid timeframe %q", s)
}

func minutesLabel(n int) string {
	switch {
	case n%10080 == 0:
		return strconv.Itoa(n/10080) + "w"
	case n%1440 == 0:
		return strconv.Itoa(n/1440) + "d"
	case n%60 == 0:
		return strconv.Itoa(n/60) + "h"
	}
	return strconv.Itoa(n) + "m"
}

// TimeframeDuration returns the bar length of a normalized timeframe.
func TimeframeDuration(tf string) (time.Duration, bool) {
	if tf == "1mo" {
		return 30 * 24 * time.Hour, true
	}
	if len(tf) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch tf[len(tf)-1] {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	}
	return 0, false
}

// NormalizeEpoch converts epoch seconds or milliseconds (>= 1e12) to seconds.
func NormalizeEpoch(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("timestamp must be a positive finite number")
	}
	if v >= 1e12 {
		v /= 1000
	}
	return int64(math.Floor(v)), nil
}

// parseTimestamp accepts epoch numbers, numeric strings and RFC3339 strings.
func parseTimestamp(s string) (int64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return NormalizeEpoch(v)
	}
	if t, ok := util.ParseTime(s); ok {
		return NormalizeEpoch(float64(t.Unix()))
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", s)
}

// NormalizeConfidence maps a score into [0,1]; values in (1,100] are percentages.
func NormalizeConfidence(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
		return 0, fmt.Errorf("score %v out of range", v)
	}
	if v > 1 {
		return v / 100, nil
	}
	return v, nil
}
