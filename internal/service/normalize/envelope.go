package normalize

import "SignalGate/internal/domain/models"

// legacyEnvelope is the flat alert body most chart alerts are written in.
// Every field is optional at decode time; required ones are checked after.
type legacyEnvelope struct {
	Event      string     `json:"event"`
	Alert      string     `json:"alert"`
	Type       string     `json:"type"`
	SignalType string     `json:"signalType"`
	Symbol     string     `json:"symbol"`
	Ticker     string     `json:"ticker"`
	Timeframe  flexString `json:"timeframe"`
	Interval   flexString `json:"interval"`
	TF         flexString `json:"tf"`
	Direction  string     `json:"direction"`
	Side       string     `json:"side"`
	Confidence flexNum    `json:"confidence"`
	Confluence flexNum    `json:"confluence"`
	Price      flexNum    `json:"price"`
	Close      flexNum    `json:"close"`

	Entry   flexNum   `json:"entry"`
	Stop    flexNum   `json:"stop"`
	SL      flexNum   `json:"sl"`
	Targets []flexNum `json:"targets"`
	TP1     flexNum   `json:"tp1"`
	TP2     flexNum   `json:"tp2"`

	Session      string    `json:"session"`
	Ribbon       string    `json:"ribbon"`
	Bias         string    `json:"bias"`
	Phase        string    `json:"phase"`
	Pattern      string    `json:"pattern"`
	Structure    string    `json:"structure"`
	ZoneType     string    `json:"zoneType"`
	Zone         *flexZone `json:"zone"`
	ZoneHigh     flexNum   `json:"zoneHigh"`
	ZoneLow      flexNum   `json:"zoneLow"`
	OrderBlock   *flexZone `json:"orderBlock"`
	FVG          *flexZone `json:"fvg"`
	OpeningRange *flexZone `json:"openingRange"`
	ORHigh       flexNum   `json:"orHigh"`
	ORLow        flexNum   `json:"orLow"`
	PriorSwing   flexNum   `json:"priorSwing"`
	Volatility   flexNum   `json:"volatility"`
	ATRPct       flexNum   `json:"atrPct"`
	SetupStatus  string    `json:"setupStatus"`
	SetupID      string    `json:"setupId"`
	Source       string    `json:"source"`

	Timestamp flexString `json:"timestamp"`
	Time      flexString `json:"time"`
	TS        flexString `json:"ts"`
}

// canonicalEnvelope is the versioned shape. Known fields are strictly typed.
type canonicalEnvelope struct {
	Schema     string              `json:"schema" validate:"required,oneof=1 v1 signal.v1"`
	StrategyID string              `json:"strategyId"`
	Event      string              `json:"event" validate:"required"`
	SignalType string              `json:"signalType" validate:"omitempty,oneof=INFO ACTIONABLE"`
	Instrument canonicalInstrument `json:"instrument"`
	Signal     canonicalSignal     `json:"signal"`
	Levels     canonicalLevels     `json:"levels"`
	Context    models.EventHints   `json:"context"`
	Price      *float64            `json:"price"`
	Timestamp  *float64            `json:"timestamp" validate:"required"`
}

type canonicalInstrument struct {
	Symbol    string `json:"symbol" validate:"required"`
	Timeframe string `json:"timeframe" validate:"required"`
}

type canonicalSignal struct {
	Direction  string   `json:"direction" validate:"omitempty,oneof=LONG SHORT long short"`
	Confidence *float64 `json:"confidence" validate:"omitempty,min=0,max=100"`
	Confluence *float64 `json:"confluence" validate:"omitempty,min=0,max=100"`
}

type canonicalLevels struct {
	Entry   *float64  `json:"entry" validate:"omitempty,gt=0"`
	Stop    *float64  `json:"stop" validate:"omitempty,gt=0"`
	Targets []float64 `json:"targets" validate:"omitempty,dive,gt=0"`
}
