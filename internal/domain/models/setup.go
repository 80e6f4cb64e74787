package models

type SetupStatus string

const (
	SetupWaiting SetupStatus = "WAITING"
	SetupActive  SetupStatus = "ACTIVE"
	SetupTP1Hit  SetupStatus = "TP1_HIT"
	SetupTP2Hit  SetupStatus = "TP2_HIT"
	SetupStopped SetupStatus = "STOPPED"
	SetupInvalid SetupStatus = "INVALID"
)

// Terminal reports whether no further status change is expected.
func (s SetupStatus) Terminal() bool {
	switch s {
	case SetupTP2Hit, SetupStopped, SetupInvalid:
		return true
	}
	return false
}

// StrategySetupRecord is the standing watch card produced for every valid swing signal.
type StrategySetupRecord struct {
	ID          string       `json:"id"`
	StrategyID  string       `json:"strategyId"`
	Symbol      string       `json:"symbol"`
	Timeframe   string       `json:"timeframe"`
	EventType   string       `json:"eventType"`
	Direction   Direction    `json:"direction"`
	Status      SetupStatus  `json:"status"`
	Entry       float64      `json:"entry"`
	Stop        float64      `json:"stop"`
	TP1         float64      `json:"tp1"`
	TP2         float64      `json:"tp2"`
	Level       float64      `json:"level"`
	SizeFactor  float64      `json:"sizeFactor"`
	ReasonCodes []string     `json:"reasonCodes"`
	Gates       []GateResult `json:"gates"`
	Date        string       `json:"date"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
}
