// Package backtest implements deterministic bar replay against the same
// strategy/gateway shape a live run uses, with a simulated broker: worst-case
// fills, volatility-scaled slippage, and stress profiles instead of a real
// venue connection. Same inputs always produce byte-identical artifacts
// (manifest, audit chain, fills, equity curve) since nothing in this
// package reads the wall clock or a random source.
package backtest

import (
	"github.com/riskkernel/mqk/internal/audit"
	"github.com/riskkernel/mqk/internal/calendar"
	"github.com/riskkernel/mqk/internal/schema"
)

// StressProfile scales fill pricing away from the mid, conservatively.
//
// Effective slippage per fill:
//
//	barSpreadBps         = (high - low) * 10_000 / close      (volatility proxy)
//	volComponent         = barSpreadBps * VolatilityMultBps / 10_000
//	effectiveSlippageBps = SlippageBps + volComponent
//
// SlippageBps is a deterministic floor; VolatilityMultBps scales slippage
// with the bar's own spread so wide (volatile) bars pay more than narrow
// ones. A value of 0 for either disables that component. Both fields must
// be >= 0: a negative value would flip the adjustment direction and make
// fills systematically favorable, which is unconditionally rejected at
// config load (see validateStressProfile).
type StressProfile struct {
	SlippageBps       int64
	VolatilityMultBps int64
	// LatencyMs delays every fill's recorded timestamp by a fixed amount,
	// simulating order-to-ack latency under stress. It never changes which
	// bar a fill is attributed to or its price, only TsUTC on the fill
	// record. 0 disables it. This field has no counterpart in worst-case
	// price slippage; it is a separate, additive model of submission delay.
	LatencyMs int64
}

// CorporateActionPolicy gates bars against declared corporate-action
// windows. See corporate_actions.go.
type CorporateActionPolicy struct {
	forbid []ForbidEntry
}

// Config is a single backtest run's full configuration.
type Config struct {
	EngineID schema.EngineID
	RunID    schema.RunID

	InitialCashMicros schema.Money
	ShadowMode        bool

	// --- risk parameters, mirrored into risk.Config ---
	DailyLossLimitMicros   schema.Money
	MaxDrawdownLimitMicros schema.Money
	RejectStormMaxRejects  int
	RejectStormWindowMs    int64
	PDTEnabled             bool
	KillSwitchFlattens     bool
	MaxOrderQty            schema.Quantity
	MaxPosition            schema.Quantity
	MaxOrderNotionalMicros schema.Money

	// MaxGrossExposureMultMicros bounds gross exposure as a multiple of
	// equity, expressed in micros (1_000_000 == 1.0x). 0 disables the
	// check. Enforced only for risk-increasing intents.
	MaxGrossExposureMultMicros int64

	Stress StressProfile

	// --- integrity gate ---
	IntegrityEnabled    bool
	IntegrityStrictGaps bool
	IntegrityCalendar   *calendar.Calendar

	// CorporateActions gates bars before strategy/execution run on them.
	CorporateActions CorporateActionPolicy

	// Audit, if non-nil, receives one event per fill and per halt (an
	// integrity block that only stops execution records none) so a replay produces the same audit-chain artifact a live
	// run does.
	Audit *audit.Writer
}

// TestDefaults returns permissive settings suitable only for unit tests:
// integrity, the daily-loss/drawdown limits, and slippage are off (the
// gross-exposure cap stays at 1.0x) so test scenarios stay predictable and isolated from system state. Never use
// this as the default for a CLI backtest or a promotion evaluation run —
// use ConservativeDefaults for that.
func TestDefaults() Config {
	return Config{
		InitialCashMicros:          100_000_000_000, // 100k
		ShadowMode:                 false,
		RejectStormMaxRejects:      100,
		KillSwitchFlattens:         true,
		MaxGrossExposureMultMicros: 1_000_000, // 1.0x
		Stress:                     StressProfile{},
		IntegrityEnabled:           false,
		CorporateActions:           CorporateActionPolicy{},
	}
}

// ConservativeDefaults returns the fail-closed settings this kernel uses
// as the starting point for any "run in anger" backtest (CLI invocation,
// promotion evaluation) when no explicit override is supplied. Calibrated
// to 2% daily loss, 18% max drawdown off a 100k
// initial balance, 5bps flat slippage plus a 50%-of-spread volatility
// component, integrity on with zero gap tolerance (the stale check is
// inert in a replay, see New), and corporate actions defaulting to an empty (but non-nil)
// forbid list rather than Allow, so operators are required to populate it
// explicitly rather than silently inherit unenforced behavior.
func ConservativeDefaults() Config {
	return Config{
		InitialCashMicros:          100_000_000_000,
		ShadowMode:                 false,
		DailyLossLimitMicros:       2_000_000_000,  // 2% of 100k
		MaxDrawdownLimitMicros:     18_000_000_000, // 18% of 100k
		RejectStormMaxRejects:      5,
		PDTEnabled:                 true,
		KillSwitchFlattens:         true,
		MaxGrossExposureMultMicros: 1_000_000, // 1.0x
		Stress: StressProfile{
			SlippageBps:       5,
			VolatilityMultBps: 5_000, // 50% of spread
		},
		IntegrityEnabled:    true,
		IntegrityStrictGaps: true,
		CorporateActions:    CorporateActionPolicy{forbid: []ForbidEntry{}},
	}
}

// EquityPoint is one (end_ts, equity) sample on the replay's equity curve.
type EquityPoint struct {
	EndTS        int64
	EquityMicros schema.Money
}

// Report is the full result of a Run call.
type Report struct {
	Halted           bool
	HaltReason       string
	EquityCurve      []EquityPoint
	Fills            []schema.Fill
	LastPrices       map[string]schema.Price
	ExecutionBlocked bool
}
