package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/config"
)

type Engine string

const (
	EngineTrend Engine = "trend"
	EngineSwing Engine = "swing"
	EngineZones Engine = "zones"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrNoStrategy      = errors.New("strategy not specified")
)

// Profile is everything the pipeline needs to know about one strategy.
type Profile struct {
	ID      string
	Engine  Engine
	Mode    models.ExecutionMode
	Catalog Catalog
	Config  config.StrategyConfig
}

// Async reports whether actionable events go through the job queue.
// Strategies that need operator approvals are always queued, since approval
// can only be counted on a job.
func (p Profile) Async() bool {
	return p.Config.Async || p.Config.RequiredApprovals > 0
}

type Registry struct {
	profiles map[string]Profile
}

func NewRegistry(cfgs []config.StrategyConfig) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(cfgs))}
	for _, c := range cfgs {
		engine := Engine(c.Engine)
		if _, ok := catalogs[engine]; !ok {
			return nil, fmt.Errorf("strategy %s: unknown engine %q", c.ID, c.Engine)
		}
		id := strings.ToLower(strings.TrimSpace(c.ID))
		r.profiles[id] = Profile{
			ID:      id,
			Engine:  engine,
			Mode:    models.ExecutionMode(c.ExecutionMode),
			Catalog: CatalogFor(engine),
			Config:  c,
		}
	}
	return r, nil
}

func (r *Registry) Get(id string) (Profile, bool) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the strategy for a delivery: an explicit hint (route or
// header) wins over strategyId/strategy fields in the body.
func (r *Registry) Resolve(hint string, body map[string]any) (Profile, error) {
	id := strings.TrimSpace(hint)
	if id == "" {
		for _, k := range []string{"strategyId", "strategy_id", "strategy"} {
			if s, ok := body[k].(string); ok && strings.TrimSpace(s) != "" {
				id = s
				break
			}
		}
	}
	if id == "" {
		return Profile{}, ErrNoStrategy
	}
	p, ok := r.Get(id)
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	return p, nil
}
