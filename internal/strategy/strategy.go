// Package strategy defines the interface a trading strategy implements to
// be driven by internal/orchestrator. Strategy decision-making itself is
// out of scope for this kernel: this package only names the consumed
// shape, keeping policy (what to trade) out of the engine (how submission
// is gated).
package strategy

import "github.com/riskkernel/mqk/internal/schema"

// Strategy is the minimal callback surface the orchestrator drives. Every
// method may return zero or more order intents; returning none is valid
// and common (most bars produce no trade).
type Strategy interface {
	// OnBar is called once per complete bar that has passed integrity
	// checking, in (EndTS, Symbol) order.
	OnBar(bar schema.Bar) []schema.OrderIntent
	// OnFill is called once per applied fill, after the portfolio ledger
	// has recorded it.
	OnFill(fill schema.Fill) []schema.OrderIntent
	// OnTimer is called on a fixed wall/sim-clock cadence, independent of
	// bar arrival, for strategies that need to act on elapsed time alone
	// (e.g. end-of-day flatten).
	OnTimer(nowUnixMs int64) []schema.OrderIntent
}

// NoOp is a Strategy that never trades, useful as a default or in tests
// that only exercise the gating/audit path.
type NoOp struct{}

func (NoOp) OnBar(schema.Bar) []schema.OrderIntent   { return nil }
func (NoOp) OnFill(schema.Fill) []schema.OrderIntent { return nil }
func (NoOp) OnTimer(int64) []schema.OrderIntent      { return nil }
