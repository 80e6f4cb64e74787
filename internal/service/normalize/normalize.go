package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/strategy"
)

type Normalizer struct {
	validate *validator.Validate
}

func New() *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Normalizer{validate: v}
}

// DecodeObject parses raw as a JSON object.
func DecodeObject(raw []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, newError(CodeInvalidJSON, "body is not a JSON object")
	}
	return obj, nil
}

// Normalize turns a raw body into a MarketEvent for the given strategy.
// Envelopes carrying a "schema" key are canonical; anything else is legacy.
// now stamps legacy alerts that carry no time of their own.
func (n *Normalizer) Normalize(p strategy.Profile, raw []byte, now time.Time) (models.MarketEvent, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return models.MarketEvent{}, err
	}
	var ev models.MarketEvent
	if _, ok := obj["schema"]; ok {
		ev, err = n.canonical(raw)
	} else {
		ev, err = legacy(raw, now)
	}
	if err != nil {
		return models.MarketEvent{}, err
	}

	ev.StrategyID = p.ID
	ev.Payload = append([]byte(nil), bytes.TrimSpace(raw)...)
	if ev.SignalType == "" {
		ev.SignalType = p.Catalog.Infer(ev.Event)
	}
	return ev, nil
}

func (n *Normalizer) canonical(raw []byte) (models.MarketEvent, error) {
	var env canonicalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.MarketEvent{}, newError(CodeInvalidSchema, "canonical envelope: "+err.Error())
	}
	env.SignalType = strings.ToUpper(strings.TrimSpace(env.SignalType))
	if err := n.validate.Struct(env); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				ns := fe.Namespace()
				if i := strings.IndexByte(ns, '.'); i >= 0 {
					ns = ns[i+1:]
				}
				fields = append(fields, ns)
			}
			return models.MarketEvent{}, newError(CodeInvalidSchema, "canonical envelope failed validation", fields...)
		}
		return models.MarketEvent{}, newError(CodeInvalidSchema, err.Error())
	}

	b := builder{}
	ev := models.MarketEvent{
		Event:      strategy.CanonicalEventName(env.Event),
		SignalType: models.SignalType(env.SignalType),
		Price:      env.Price,
		Hints:      env.Context,
		Levels: models.Levels{
			Entry:   env.Levels.Entry,
			Stop:    env.Levels.Stop,
			Targets: env.Levels.Targets,
		},
	}
	tidyHints(&ev.Hints)
	ev.Symbol = b.symbol(env.Instrument.Symbol)
	ev.Timeframe = b.timeframe(env.Instrument.Timeframe)
	ev.Direction = b.direction("signal.direction", env.Signal.Direction)
	ev.Confidence = b.score("signal.confidence", env.Signal.Confidence)
	ev.Confluence = b.score("signal.confluence", env.Signal.Confluence)
	if err := b.err(); err != nil {
		return models.MarketEvent{}, err
	}
	ts, err := NormalizeEpoch(*env.Timestamp)
	if err != nil {
		return models.MarketEvent{}, newError(CodeInvalidTimestamp, err.Error(), "timestamp")
	}
	ev.Timestamp = ts
	return ev, nil
}

func legacy(raw []byte, now time.Time) (models.MarketEvent, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.MarketEvent{}, newError(CodeInvalidSchema, "legacy envelope: "+err.Error())
	}

	event := firstString(env.Event, env.Alert, env.Type)
	symbol := firstString(env.Symbol, env.Ticker)
	tf := firstString(string(env.Timeframe), string(env.Interval), string(env.TF))
	var missing []string
	if event == "" {
		missing = append(missing, "event")
	}
	if symbol == "" {
		missing = append(missing, "symbol")
	}
	if tf == "" {
		missing = append(missing, "timeframe")
	}
	if len(missing) > 0 {
		return models.MarketEvent{}, newError(CodeMissingFields, "required fields missing", missing...)
	}

	b := builder{}
	ev := models.MarketEvent{
		Event:     strategy.CanonicalEventName(event),
		Symbol:    b.symbol(symbol),
		Timeframe: b.timeframe(tf),
		Direction: b.direction("direction", firstString(env.Direction, env.Side)),
	}
	if st := strings.ToUpper(strings.TrimSpace(env.SignalType)); st != "" {
		if st != string(models.SignalInfo) && st != string(models.SignalActionable) {
			b.fields = append(b.fields, "signalType")
		}
		ev.SignalType = models.SignalType(st)
	}
	ev.Confidence = b.score("confidence", b.r.ptr("confidence", env.Confidence))
	ev.Confluence = b.score("confluence", b.r.ptr("confluence", env.Confluence))
	ev.Price = b.r.first("price", env.Price, env.Close)
	ev.Levels.Entry = b.r.ptr("entry", env.Entry)
	ev.Levels.Stop = b.r.first("stop", env.Stop, env.SL)
	if len(env.Targets) > 0 {
		for i, t := range env.Targets {
			if v := b.r.ptr(fmt.Sprintf("targets[%d]", i), t); v != nil {
				ev.Levels.Targets = append(ev.Levels.Targets, *v)
			}
		}
	} else {
		for _, t := range []struct {
			name string
			n    flexNum
		}{{"tp1", env.TP1}, {"tp2", env.TP2}} {
			if v := b.r.ptr(t.name, t.n); v != nil {
				ev.Levels.Targets = append(ev.Levels.Targets, *v)
			}
		}
	}

	h := &ev.Hints
	h.Session = env.Session
	h.Ribbon = env.Ribbon
	h.Bias = env.Bias
	h.Phase = env.Phase
	h.Pattern = env.Pattern
	h.Structure = env.Structure
	h.ZoneType = env.ZoneType
	h.Zone = b.zone("zone", env.Zone, env.ZoneHigh, env.ZoneLow)
	h.OrderBlock = b.zone("orderBlock", env.OrderBlock, flexNum{}, flexNum{})
	h.FVG = b.zone("fvg", env.FVG, flexNum{}, flexNum{})
	h.OpeningRange = b.zone("openingRange", env.OpeningRange, env.ORHigh, env.ORLow)
	h.PriorSwing = b.r.ptr("priorSwing", env.PriorSwing)
	h.Volatility = b.r.first("volatility", env.Volatility, env.ATRPct)
	h.SetupStatus = env.SetupStatus
	h.SetupID = env.SetupID
	h.SourceContext = env.Source
	tidyHints(h)

	if err := b.err(); err != nil {
		return models.MarketEvent{}, err
	}

	rawTS := firstString(string(env.Timestamp), string(env.Time), string(env.TS))
	if rawTS == "" {
		ev.Timestamp = now.Unix()
		return ev, nil
	}
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return models.MarketEvent{}, newError(CodeInvalidTimestamp, err.Error(), "timestamp")
	}
	ev.Timestamp = ts
	return ev, nil
}

// builder accumulates invalid field names so one response lists all of them.
type builder struct {
	r      fieldReader
	fields []string
}

func (b *builder) err() error {
	bad := append(append([]string(nil), b.r.bad...), b.fields...)
	if len(bad) == 0 {
		return nil
	}
	return newError(CodeInvalidField, "invalid field values", bad...)
}

func (b *builder) symbol(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToUpper(s)
	if s == "" {
		b.fields = append(b.fields, "symbol")
	}
	return s
}

func (b *builder) timeframe(s string) string {
	tf, err := NormalizeTimeframe(s)
	if err != nil {
		b.fields = append(b.fields, "timeframe")
		return ""
	}
	return tf
}

func (b *builder) direction(field, s string) models.Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return ""
	case "LONG", "BUY", "BULL", "BULLISH":
		return models.DirectionLong
	case "SHORT", "SELL", "BEAR", "BEARISH":
		return models.DirectionShort
	}
	b.fields = append(b.fields, field)
	return ""
}

func (b *builder) score(field string, v *float64) *float64 {
	if v == nil {
		return nil
	}
	s, err := NormalizeConfidence(*v)
	if err != nil {
		b.fields = append(b.fields, field)
		return nil
	}
	return &s
}

func (b *builder) zone(field string, z *flexZone, high, low flexNum) *models.Zone {
	if z != nil {
		high, low = z.High, z.Low
	}
	hp := b.r.ptr(field+".high", high)
	lp := b.r.ptr(field+".low", low)
	if hp == nil || lp == nil {
		return nil
	}
	if *hp < *lp {
		b.fields = append(b.fields, field)
		return nil
	}
	return &models.Zone{High: *hp, Low: *lp}
}

// tidyHints upper-cases the enum-like hints engines compare against.
func tidyHints(h *models.EventHints) {
	for _, p := range []*string{&h.Session, &h.Ribbon, &h.Bias, &h.Structure, &h.ZoneType, &h.SetupStatus} {
		*p = strings.ToUpper(strings.TrimSpace(*p))
	}
}

// ValidateKnownEvent rejects any event name not on the strategy's allow-list
// for its signal class, so unknown types never reach execution.
func ValidateKnownEvent(p strategy.Profile, ev models.MarketEvent) error {
	if p.Catalog.Allows(ev.Event, ev.SignalType) {
		return nil
	}
	return newError(CodeUnknownEvent,
		fmt.Sprintf("%s event %q is not known to strategy %s", ev.SignalType, ev.Event, p.ID), "event")
}

func firstString(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
