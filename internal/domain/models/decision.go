package models

import "strings"

type ExecutionMode string

const (
	ModeDisabled ExecutionMode = "disabled"
	ModePaper    ExecutionMode = "paper"
	ModeLive     ExecutionMode = "live"
)

type Outcome string

const (
	OutcomeExecutePaper Outcome = "EXECUTE_PAPER"
	OutcomeExecuteLive  Outcome = "EXECUTE_LIVE"
	OutcomeReject       Outcome = "REJECT"
)

type GateResult struct {
	Gate   string `json:"gate"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail"`
}

// OptionContract is the instrument a zone plan trades instead of the underlying.
type OptionContract struct {
	Symbol       string  `json:"symbol"`
	Underlying   string  `json:"underlying"`
	Side         string  `json:"side"`
	Strike       float64 `json:"strike"`
	Expiry       string  `json:"expiry"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Delta        float64 `json:"delta"`
	OpenInterest int64   `json:"openInterest"`
	Volume       int64   `json:"volume"`
}

func (c OptionContract) Mid() float64 { return (c.Bid + c.Ask) / 2 }

type TradePlan struct {
	Symbol             string          `json:"symbol"`
	Timeframe          string          `json:"timeframe"`
	Direction          Direction       `json:"direction"`
	Qty                int             `json:"qty"`
	Entry              float64         `json:"entry"`
	Stop               float64         `json:"stop"`
	Targets            []float64       `json:"targets"`
	RiskPerContractUSD float64         `json:"riskPerContractUsd"`
	EstimatedRiskUSD   float64         `json:"estimatedRiskUsd"`
	Tier               string          `json:"tier,omitempty"`
	Contract           *OptionContract `json:"contract,omitempty"`
}

type DecisionRecord struct {
	StrategyID    string        `json:"strategyId"`
	Event         string        `json:"event"`
	Symbol        string        `json:"symbol"`
	Timeframe     string        `json:"timeframe"`
	ExecutionMode ExecutionMode `json:"executionMode"`
	Outcome       Outcome       `json:"outcome"`
	Gates         []GateResult  `json:"gates"`
	Reason        string        `json:"reason"`
	Plan          *TradePlan    `json:"plan,omitempty"`
	Score         *float64      `json:"score,omitempty"`
	DecidedAt     int64         `json:"decidedAt"`
}

func (d DecisionRecord) Approved() bool { return d.Outcome != OutcomeReject }

// FailedGates lists the names of gates that did not pass, in order.
func (d DecisionRecord) FailedGates() []string {
	var out []string
	for _, g := range d.Gates {
		if !g.Pass {
			out = append(out, g.Gate)
		}
	}
	return out
}

// Downgrade forces REJECT and records why as one more failing gate.
func (d *DecisionRecord) Downgrade(gate, detail string) {
	d.Gates = append(d.Gates, GateResult{Gate: gate, Pass: false, Detail: detail})
	d.Outcome = OutcomeReject
	if d.Reason == "" || d.Reason == "approved" {
		d.Reason = gate + ": " + detail
	} else {
		d.Reason = strings.Join([]string{d.Reason, gate + ": " + detail}, "; ")
	}
}
