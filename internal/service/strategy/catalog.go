package strategy

import (
	"sort"
	"strings"

	"SignalGate/internal/domain/models"
)

// Event names understood by at least one engine.
const (
	EventTradeSignal     = "TRADE_SIGNAL"
	EventRibbonFlip      = "RIBBON_FLIP"
	EventBiasUpdate      = "BIAS_UPDATE"
	EventSessionOpen     = "SESSION_OPEN"
	EventSessionClose    = "SESSION_CLOSE"
	EventPositionExit    = "POSITION_EXIT"
	EventHeartbeat       = "HEARTBEAT"
	EventChainPattern    = "CHAIN_PATTERN"
	EventFailedBreakout  = "FAILED_BREAKOUT"
	EventFailedBreakdown = "FAILED_BREAKDOWN"
	EventOpeningRange    = "OPENING_RANGE"
	EventSetupStatus     = "SETUP_STATUS"
	EventDemandZoneTouch = "DEMAND_ZONE_TOUCH"
	EventSupplyZoneTouch = "SUPPLY_ZONE_TOUCH"
	EventLiquiditySweep  = "LIQUIDITY_SWEEP"
	EventStructureUpdate = "STRUCTURE_UPDATE"
)

// Catalog is the fixed allow-list of event names for one engine.
type Catalog struct {
	actionable map[string]struct{}
	info       map[string]struct{}
}

func newCatalog(actionable, info []string) Catalog {
	c := Catalog{actionable: map[string]struct{}{}, info: map[string]struct{}{}}
	for _, e := range actionable {
		c.actionable[e] = struct{}{}
	}
	for _, e := range info {
		c.info[e] = struct{}{}
	}
	return c
}

// Infer returns the signal class of event. Unknown names are INFO so they
// can never reach an engine by default.
func (c Catalog) Infer(event string) models.SignalType {
	if _, ok := c.actionable[event]; ok {
		return models.SignalActionable
	}
	return models.SignalInfo
}

// Allows reports whether event is listed under the given class.
func (c Catalog) Allows(event string, st models.SignalType) bool {
	var ok bool
	switch st {
	case models.SignalActionable:
		_, ok = c.actionable[event]
	case models.SignalInfo:
		_, ok = c.info[event]
	}
	return ok
}

func (c Catalog) Actionable() []string { return sortedKeys(c.actionable) }

func (c Catalog) Info() []string { return sortedKeys(c.info) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CanonicalEventName upper-cases and turns spaces and dashes into underscores.
func CanonicalEventName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

var catalogs = map[Engine]Catalog{
	EngineTrend: newCatalog(
		[]string{EventTradeSignal},
		[]string{EventRibbonFlip, EventBiasUpdate, EventSessionOpen, EventSessionClose, EventPositionExit, EventHeartbeat},
	),
	EngineSwing: newCatalog(
		[]string{EventChainPattern, EventFailedBreakout, EventFailedBreakdown},
		[]string{EventOpeningRange, EventSetupStatus, EventPositionExit, EventHeartbeat},
	),
	EngineZones: newCatalog(
		[]string{EventDemandZoneTouch, EventSupplyZoneTouch, EventLiquiditySweep},
		[]string{EventStructureUpdate, EventPositionExit, EventHeartbeat},
	),
}

// CatalogFor returns the allow-list of an engine.
func CatalogFor(e Engine) Catalog { return catalogs[e] }
