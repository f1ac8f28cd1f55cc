package routing

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// RoutingEngine picks the script for an inbound call.
//
// Priority:
//  1. Active override for the dialed number
//  2. Route table entry for the dialed number
//  3. Table default
//
// Return routing decision only. No side effects beyond override auditing.
type RoutingEngine struct {
	Overrides *OverrideEngine

	mu    sync.RWMutex
	table Table

	rngMu sync.Mutex
	RNG   *rand.Rand
}

type RouteInput struct {
	CallSID string
	From    string
	To      string
}

func NewRoutingEngine(table Table, rng *rand.Rand) *RoutingEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RoutingEngine{table: table, RNG: rng}
}

// SetTable swaps the route table, e.g. after a reload.
func (e *RoutingEngine) SetTable(t Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table = t
}

func (e *RoutingEngine) Table() Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

func (e *RoutingEngine) Route(ctx context.Context, in RouteInput) (Decision, error) {
	to := strings.TrimSpace(in.To)
	if to == "" {
		return Decision{}, errors.New("routing: dialed number required")
	}

	// 1) Silent, expiry-based overrides
	if e.Overrides != nil {
		d, applied, err := e.Overrides.Decide(ctx, in)
		if err != nil {
			return Decision{}, err
		}
		if applied {
			return d, nil
		}
	}

	t := e.Table()

	// 2) Number route
	if choices := t.lookup(to); len(choices) > 0 {
		if s, ok := e.pickScript(choices); ok {
			return Decision{Action: ActionRun, Script: s.Name, Params: s.Params, Reason: "number_route"}, nil
		}
		return Decision{Action: ActionReject, Reason: "no_eligible_script"}, nil
	}

	// 3) Default
	if s, ok := e.pickScript(t.Default); ok {
		return Decision{Action: ActionRun, Script: s.Name, Params: s.Params, Reason: "default_route"}, nil
	}
	return Decision{Action: ActionReject, Reason: "no_route"}, nil
}

func (e *RoutingEngine) pickScript(choices []WeightedScript) (WeightedScript, bool) {
	var total int
	for _, c := range choices {
		if c.Weight <= 0 {
			continue
		}
		total += c.Weight
	}
	if total <= 0 {
		return WeightedScript{}, false
	}

	e.rngMu.Lock()
	r := e.RNG.Intn(total) // 0..total-1
	e.rngMu.Unlock()

	var acc int
	for _, c := range choices {
		if c.Weight <= 0 {
			continue
		}
		acc += c.Weight
		if r < acc {
			return c, true
		}
	}
	return WeightedScript{}, false
}
