package models

import (
	"encoding/json"
	"strings"
	"time"
)

type SignalType string

const (
	SignalInfo       SignalType = "INFO"
	SignalActionable SignalType = "ACTIONABLE"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign is +1 for long, -1 for short and 0 when unset.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	}
	return 0
}

// Zone is a price band carried by order-block, fair-value-gap or liquidity hints.
type Zone struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// EventHints are the optional, strategy-specific typed fields of an event.
type EventHints struct {
	Session       string   `json:"session,omitempty"`
	Ribbon        string   `json:"ribbon,omitempty"`
	Bias          string   `json:"bias,omitempty"`
	Phase         string   `json:"phase,omitempty"`
	Pattern       string   `json:"pattern,omitempty"`
	Structure     string   `json:"structure,omitempty"`
	ZoneType      string   `json:"zoneType,omitempty"`
	Zone          *Zone    `json:"zone,omitempty"`
	OrderBlock    *Zone    `json:"orderBlock,omitempty"`
	FVG           *Zone    `json:"fvg,omitempty"`
	OpeningRange  *Zone    `json:"openingRange,omitempty"`
	PriorSwing    *float64 `json:"priorSwing,omitempty"`
	Volatility    *float64 `json:"volatility,omitempty"`
	SetupStatus   string   `json:"setupStatus,omitempty"`
	SetupID       string   `json:"setupId,omitempty"`
	SourceContext string   `json:"sourceContext,omitempty"`
}

type Levels struct {
	Entry   *float64  `json:"entry,omitempty"`
	Stop    *float64  `json:"stop,omitempty"`
	Targets []float64 `json:"targets,omitempty"`
}

// MarketEvent is the canonical form of one webhook delivery. Payload keeps
// the body exactly as received.
type MarketEvent struct {
	StrategyID string          `json:"strategyId"`
	Event      string          `json:"event"`
	SignalType SignalType      `json:"signalType"`
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Direction  Direction       `json:"direction,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Confluence *float64        `json:"confluence,omitempty"`
	Price      *float64        `json:"price,omitempty"`
	Levels     Levels          `json:"levels"`
	Hints      EventHints      `json:"hints"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  int64           `json:"timestamp"`
}

func (e MarketEvent) Time() time.Time { return time.Unix(e.Timestamp, 0) }

func (e MarketEvent) StateKey() string { return StateKey(e.StrategyID, e.Symbol, e.Timeframe) }

// StateKey builds strategy:SYMBOL:timeframe.
func StateKey(strategyID, symbol, timeframe string) string {
	return strings.ToLower(strategyID) + ":" + strings.ToUpper(symbol) + ":" + strings.ToLower(timeframe)
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }

// FloatOr dereferences p or returns def.
func FloatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
