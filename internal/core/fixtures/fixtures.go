// Package fixtures is the cross-language parity harness: it loads JSON
// scenario files, drives the reducer event-by-event, and asserts the final
// state against the expected projection each scenario carries. The same
// files are shared verbatim with sibling implementations in other
// languages, so their format never changes casually.
package fixtures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"pairgrid/internal/core"
)

// EventEnvelope is the tagged-union wire shape for one scenario event.
type EventEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode resolves the envelope into a concrete core.Event.
func (e EventEnvelope) Decode() (core.Event, error) {
	switch e.Type {
	case "PriceTick":
		var p struct {
			Price decimal.Decimal `json:"price"`
			Ts    float64         `json:"ts"`
		}
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return core.PriceTick{Price: p.Price, Timestamp: p.Ts}, nil
	case "TimerTick":
		var p struct {
			Ts float64 `json:"ts"`
		}
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return core.TimerTick{Timestamp: p.Ts}, nil
	case "FillEvent":
		var p struct {
			OrderLocalID int64           `json:"order_local_id"`
			Txid         string          `json:"txid"`
			Side         core.Side       `json:"side"`
			Price        decimal.Decimal `json:"price"`
			Volume       decimal.Decimal `json:"volume"`
			Fee          decimal.Decimal `json:"fee"`
			Ts           float64         `json:"ts"`
		}
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return core.FillEvent{
			OrderLocalID: p.OrderLocalID, Txid: p.Txid, Side: p.Side,
			Price: p.Price, Volume: p.Volume, Fee: p.Fee, Timestamp: p.Ts,
		}, nil
	case "RecoveryFillEvent":
		var p struct {
			RecoveryID int64           `json:"recovery_id"`
			Txid       string          `json:"txid"`
			Side       core.Side       `json:"side"`
			Price      decimal.Decimal `json:"price"`
			Volume     decimal.Decimal `json:"volume"`
			Fee        decimal.Decimal `json:"fee"`
			Ts         float64         `json:"ts"`
		}
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return core.RecoveryFillEvent{
			RecoveryID: p.RecoveryID, Txid: p.Txid, Side: p.Side,
			Price: p.Price, Volume: p.Volume, Fee: p.Fee, Timestamp: p.Ts,
		}, nil
	case "RecoveryCancelEvent":
		var p struct {
			RecoveryID int64   `json:"recovery_id"`
			Txid       string  `json:"txid"`
			Ts         float64 `json:"ts"`
		}
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return core.RecoveryCancelEvent{RecoveryID: p.RecoveryID, Txid: p.Txid, Timestamp: p.Ts}, nil
	default:
		return nil, fmt.Errorf("fixtures: unknown event type %q", e.Type)
	}
}

// ExpectedProjection is a reduced view of the post-scenario state that
// fixtures assert against.
type ExpectedProjection struct {
	Phase      core.Phase `json:"phase"`
	RoundTrips int64      `json:"round_trips"`
	OpenOrders int        `json:"open_orders"`
	CycleA     int64      `json:"cycle_a"`
	CycleB     int64      `json:"cycle_b"`
	Invariants []string   `json:"invariants"`
}

// Scenario is one parity fixture file.
type Scenario struct {
	Name         string             `json:"name"`
	Config       core.EngineConfig  `json:"config"`
	InitialState core.PairState     `json:"initial_state"`
	OrderSizeUSD decimal.Decimal    `json:"order_size_usd"`
	Events       []EventEnvelope    `json:"events"`
	Expected     ExpectedProjection `json:"expected"`
}

// Load reads and parses a single scenario file.
func Load(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	var s Scenario
	if err := json.Unmarshal(raw, &s); err != nil {
		return Scenario{}, fmt.Errorf("fixtures: parse %s: %w", path, err)
	}
	return s, nil
}

// LoadDir loads every *.json file in dir as a Scenario, sorted by filename.
func LoadDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Scenario
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		s, err := Load(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Result is the outcome of driving one scenario through the reducer.
type Result struct {
	FinalState core.PairState
	AllActions []core.Action
	Mismatches []string
}

// Run drives every event in the scenario through core.Transition in order
// and checks the final projection against Expected. It does not stop at the
// first event-level problem; every discrepancy is collected into Mismatches
// so a single run reports everything wrong with a fixture.
func Run(s Scenario) Result {
	state := s.InitialState
	var allActions []core.Action
	for i, env := range s.Events {
		ev, err := env.Decode()
		if err != nil {
			return Result{Mismatches: []string{fmt.Sprintf("event %d: %v", i, err)}}
		}
		var actions []core.Action
		state, actions = core.Transition(state, ev, s.Config, s.OrderSizeUSD)
		allActions = append(allActions, actions...)
	}

	var mismatches []string
	gotPhase := core.DerivePhase(state)
	if gotPhase != s.Expected.Phase {
		mismatches = append(mismatches, fmt.Sprintf("phase: got %s want %s", gotPhase, s.Expected.Phase))
	}
	if state.TotalRoundTrips != s.Expected.RoundTrips {
		mismatches = append(mismatches, fmt.Sprintf("round_trips: got %d want %d", state.TotalRoundTrips, s.Expected.RoundTrips))
	}
	if len(state.Orders) != s.Expected.OpenOrders {
		mismatches = append(mismatches, fmt.Sprintf("open_orders: got %d want %d", len(state.Orders), s.Expected.OpenOrders))
	}
	if state.CycleA != s.Expected.CycleA {
		mismatches = append(mismatches, fmt.Sprintf("cycle_a: got %d want %d", state.CycleA, s.Expected.CycleA))
	}
	if state.CycleB != s.Expected.CycleB {
		mismatches = append(mismatches, fmt.Sprintf("cycle_b: got %d want %d", state.CycleB, s.Expected.CycleB))
	}
	gotViolations := core.CheckInvariants(state)
	if len(gotViolations) != len(s.Expected.Invariants) {
		mismatches = append(mismatches, fmt.Sprintf("invariants: got %v want %v", gotViolations, s.Expected.Invariants))
	}

	return Result{FinalState: state, AllActions: allActions, Mismatches: mismatches}
}
