package models

type Bias string

const (
	BiasLong    Bias = "LONG"
	BiasShort   Bias = "SHORT"
	BiasNeutral Bias = "NEUTRAL"
)

const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

type Position struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategyId"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Direction  Direction `json:"direction"`
	Qty        int       `json:"qty"`
	Entry      float64   `json:"entry"`
	Stop       float64   `json:"stop"`
	Targets    []float64 `json:"targets,omitempty"`
	RiskUSD    float64   `json:"riskUsd"`
	Event      string    `json:"event"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	OpenedAt   int64     `json:"openedAt"`
	ClosedAt   int64     `json:"closedAt,omitempty"`
}

type DailyCounters struct {
	Date        string  `json:"date"`
	TradeCount  int     `json:"tradeCount"`
	RiskUsedUSD float64 `json:"riskUsedUsd"`
}

// TradingState is the mutable per strategy:symbol:timeframe record.
type TradingState struct {
	Key           string           `json:"key"`
	StrategyID    string           `json:"strategyId"`
	Symbol        string           `json:"symbol"`
	Timeframe     string           `json:"timeframe"`
	Bias          Bias             `json:"bias"`
	Ribbon        string           `json:"ribbon,omitempty"`
	Session       string           `json:"session,omitempty"`
	Phase         string           `json:"phase,omitempty"`
	Structure     string           `json:"structure,omitempty"`
	OpeningRange  *Zone            `json:"openingRange,omitempty"`
	Cooldowns     map[string]int64 `json:"cooldowns"`
	OpenPositions []Position       `json:"openPositions"`
	Daily         DailyCounters    `json:"daily"`
	UpdatedAt     int64            `json:"updatedAt"`
	Notes         []string         `json:"notes"`
}

// NewTradingState returns the default state created lazily on first event for a key.
func NewTradingState(strategyID, symbol, timeframe, date string) TradingState {
	return TradingState{
		Key:           StateKey(strategyID, symbol, timeframe),
		StrategyID:    strategyID,
		Symbol:        symbol,
		Timeframe:     timeframe,
		Bias:          BiasNeutral,
		Cooldowns:     map[string]int64{},
		OpenPositions: []Position{},
		Daily:         DailyCounters{Date: date},
		Notes:         []string{},
	}
}

// Rollover resets the daily counters, and the opening range that belongs to
// the old session, when date differs from the stored one.
func (s *TradingState) Rollover(date string) bool {
	if s.Daily.Date == date {
		return false
	}
	s.Daily = DailyCounters{Date: date}
	s.OpeningRange = nil
	return true
}

// AddNote appends to the notes ring, dropping the oldest beyond capacity.
func (s *TradingState) AddNote(note string, capacity int) {
	s.Notes = append(s.Notes, note)
	if capacity > 0 && len(s.Notes) > capacity {
		s.Notes = append([]string(nil), s.Notes[len(s.Notes)-capacity:]...)
	}
}

// OpenCount counts positions still open.
func (s TradingState) OpenCount() int {
	n := 0
	for _, p := range s.OpenPositions {
		if p.Status == PositionOpen {
			n++
		}
	}
	return n
}

// Clone deep-copies the state so callers never share slices or maps.
func (s TradingState) Clone() TradingState {
	out := s
	out.Cooldowns = make(map[string]int64, len(s.Cooldowns))
	for k, v := range s.Cooldowns {
		out.Cooldowns[k] = v
	}
	out.OpenPositions = make([]Position, len(s.OpenPositions))
	for i, p := range s.OpenPositions {
		p.Targets = append([]float64(nil), p.Targets...)
		out.OpenPositions[i] = p
	}
	out.Notes = append([]string{}, s.Notes...)
	if s.OpeningRange != nil {
		r := *s.OpeningRange
		out.OpeningRange = &r
	}
	return out
}
