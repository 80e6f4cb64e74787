package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// flexNum accepts a JSON number or a numeric string. Alert templates render
// placeholders as strings, so both forms show up in practice.
type flexNum struct {
	v   float64
	set bool
	bad bool
}

func (n *flexNum) UnmarshalJSON(b []byte) error {
	*n = flexNum{}
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			n.set, n.bad = true, true
			return nil
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		n.set, n.bad = true, true
		return nil
	}
	n.v, n.set = v, true
	return nil
}

// flexString accepts a string or a bare number ("interval": 5).
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	t := strings.TrimSpace(string(b))
	if t == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(t, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	*s = flexString(t)
	return nil
}

type flexZone struct {
	High flexNum `json:"high"`
	Low  flexNum `json:"low"`
}

// fieldReader collects the names of fields whose values could not be read.
type fieldReader struct {
	bad []string
}

func (r *fieldReader) ptr(name string, n flexNum) *float64 {
	if n.bad {
		r.bad = append(r.bad, name)
		return nil
	}
	if !n.set {
		return nil
	}
	v := n.v
	return &v
}

func (r *fieldReader) first(name string, ns ...flexNum) *float64 {
	for _, n := range ns {
		if n.set {
			return r.ptr(name, n)
		}
	}
	return nil
}
