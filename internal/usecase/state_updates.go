package usecase

import (
	"fmt"
	"strings"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/strategy"
)

// infoChange is what an INFO event did to tracked state.
type infoChange struct {
	note string
	// setupStatus asks the caller to move a setup to this status.
	setupStatus models.SetupStatus
}

var setupStatuses = map[string]models.SetupStatus{
	"ACTIVE":    models.SetupActive,
	"TRIGGERED": models.SetupActive,
	"TP1":       models.SetupTP1Hit,
	"TP1_HIT":   models.SetupTP1Hit,
	"TP2":       models.SetupTP2Hit,
	"TP2_HIT":   models.SetupTP2Hit,
	"STOP":      models.SetupStopped,
	"STOPPED":   models.SetupStopped,
	"INVALID":   models.SetupInvalid,
	"CANCELLED": models.SetupInvalid,
}

func biasFrom(s string) (models.Bias, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BULL", "BULLISH", "GREEN", "UP":
		return models.BiasLong, true
	case "SHORT", "BEAR", "BEARISH", "RED", "DOWN":
		return models.BiasShort, true
	case "NEUTRAL", "FLAT", "NONE":
		return models.BiasNeutral, true
	}
	return "", false
}

// applyInfo folds an INFO event into st. It never opens positions.
func applyInfo(st *models.TradingState, ev models.MarketEvent) (infoChange, error) {
	h := ev.Hints
	if h.Phase != "" {
		st.Phase = h.Phase
	}

	switch ev.Event {
	case strategy.EventBiasUpdate:
		b, ok := biasFrom(h.Bias)
		if !ok {
			b, ok = biasFrom(string(ev.Direction))
		}
		if !ok {
			return infoChange{}, fmt.Errorf("bias update without bias or direction")
		}
		st.Bias = b
		return infoChange{note: "bias " + string(b)}, nil

	case strategy.EventRibbonFlip:
		ribbon := h.Ribbon
		if ribbon == "" {
			ribbon = string(ev.Direction)
		}
		if ribbon == "" {
			return infoChange{}, fmt.Errorf("ribbon flip without ribbon or direction")
		}
		st.Ribbon = ribbon
		if b, ok := biasFrom(ribbon); ok {
			st.Bias = b
		}
		return infoChange{note: "ribbon " + ribbon}, nil

	case strategy.EventSessionOpen:
		st.Session = h.Session
		if st.Session == "" {
			st.Session = "RTH"
		}
		return infoChange{note: "session open " + st.Session}, nil

	case strategy.EventSessionClose:
		st.Session = "CLOSED"
		return infoChange{note: "session closed"}, nil

	case strategy.EventPositionExit:
		n := closePositions(st, ev)
		return infoChange{note: fmt.Sprintf("closed %d position(s)", n)}, nil

	case strategy.EventOpeningRange:
		r := h.OpeningRange
		if r == nil {
			r = h.Zone
		}
		if r == nil || r.High <= r.Low {
			return infoChange{}, fmt.Errorf("opening range missing or inverted")
		}
		cp := *r
		st.OpeningRange = &cp
		return infoChange{note: fmt.Sprintf("opening range %g-%g", r.Low, r.High)}, nil

	case strategy.EventSetupStatus:
		s, ok := setupStatuses[strings.ToUpper(h.SetupStatus)]
		if !ok {
			return infoChange{}, fmt.Errorf("setup status %q not recognised", h.SetupStatus)
		}
		if s == models.SetupStopped || s == models.SetupTP2Hit {
			closePositions(st, ev)
		}
		return infoChange{note: "setup " + string(s), setupStatus: s}, nil

	case strategy.EventStructureUpdate:
		if h.Structure == "" {
			return infoChange{}, fmt.Errorf("structure update without structure")
		}
		st.Structure = h.Structure
		return infoChange{note: "structure " + h.Structure}, nil

	case strategy.EventHeartbeat:
		return infoChange{}, nil
	}
	return infoChange{note: "info " + ev.Event}, nil
}

// closePositions closes open positions on the event's symbol, limited to the
// event's direction when it carries one.
func closePositions(st *models.TradingState, ev models.MarketEvent) int {
	n := 0
	for i := range st.OpenPositions {
		p := &st.OpenPositions[i]
		if p.Status != models.PositionOpen || !strings.EqualFold(p.Symbol, ev.Symbol) {
			continue
		}
		if ev.Direction != "" && p.Direction != ev.Direction {
			continue
		}
		p.Status = models.PositionClosed
		p.ClosedAt = ev.Timestamp
		n++
	}
	return n
}
