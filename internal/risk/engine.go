// Package risk implements the pure risk engine: hard limits, kill-switch
// decisions, PDT, exposure clamps, reject-storm detection, daily-loss and
// max-drawdown enforcement. Evaluate is a pure function of (state, intent,
// config); it never trusts a caller-supplied verdict and never performs I/O.
package risk

import (
	"strconv"

	"github.com/riskkernel/mqk/internal/schema"
)

// Config defines the risk limits in force for a run. LIVE runs require
// DailyLossLimit and MaxDrawdown to be strictly positive; runlifecycle's
// arm-preflight enforces that, not this package.
type Config struct {
	KillSwitch            bool            `yaml:"kill_switch" json:"killSwitch"`
	DailyLossLimit        schema.Money    `yaml:"daily_loss_limit" json:"dailyLossLimit"`
	MaxDrawdown           schema.Money    `yaml:"max_drawdown" json:"maxDrawdown"`
	RejectStormMaxRejects int             `yaml:"reject_storm_max_rejects" json:"rejectStormMaxRejects"`
	RejectStormWindowMs   int64           `yaml:"reject_storm_window_ms" json:"rejectStormWindowMs"`
	PDTAutoEnabled        bool            `yaml:"pdt_auto_enabled" json:"pdtAutoEnabled"`
	MaxOrderQty           schema.Quantity `yaml:"max_order_qty" json:"maxOrderQty"`
	MaxPosition           schema.Quantity `yaml:"max_position" json:"maxPosition"`
	MaxOrderNotional      schema.Money    `yaml:"max_order_notional" json:"maxOrderNotional"`
	RequireProtectiveStopOnKillSwitch bool `yaml:"require_protective_stop_on_kill_switch" json:"requireProtectiveStopOnKillSwitch"`
}

// KillSwitchEvent is the structured evidence behind a kill-switch verdict,
// carried through instead of a bare reason code.
type KillSwitchEvent struct {
	Type     schema.KillSwitchType
	Evidence map[string]string
}

// NewKillSwitchEvent starts building a kill-switch event.
func NewKillSwitchEvent(t schema.KillSwitchType) *KillSwitchEvent {
	return &KillSwitchEvent{Type: t, Evidence: map[string]string{}}
}

// WithEvidence attaches a key/value pair and returns the event for chaining.
func (e *KillSwitchEvent) WithEvidence(k, v string) *KillSwitchEvent {
	e.Evidence[k] = v
	return e
}

// StateView is the read-only account/position state Evaluate reasons over.
// It is supplied by the caller (portfolio + integrity) on every call;
// Engine itself owns only the sticky/ratchet fields below.
type StateView struct {
	EquityMicros   schema.Money
	Position       schema.Quantity
	ReferencePrice schema.Price
	NowUnixMs      int64
	// IsRiskReducing is true when the proposed order strictly reduces the
	// magnitude of Position; only risk-reducing orders may pass while
	// halted (flatten) or while PDT-blocked.
	IsRiskReducing bool
	// ManualKillSwitch lets an operator engage the kill switch out of band
	// from Config (e.g. a live "kill" command), distinct from the static
	// Config.KillSwitch flag.
	ManualKillSwitch bool
	// MissingProtectiveStop is supplied by the caller (derived from a
	// broker snapshot) when an open position currently lacks a resting stop.
	MissingProtectiveStop bool
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	Action     schema.RiskAction
	Reason     schema.RiskReason
	KillSwitch *KillSwitchEvent
}

// Engine evaluates risk decisions, carrying the sticky state a pure
// function cannot: halted/disarmed latches, the day/peak-equity ratchets,
// and the reject-storm window counter.
type Engine struct {
	cfg Config

	halted   bool
	disarmed bool

	dayID                int64
	dayStartEquityMicros schema.Money
	peakEquityMicros     schema.Money

	rejectWindowStartMs int64
	rejectCount         int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Halted reports the sticky halted latch.
func (e *Engine) Halted() bool { return e.halted }

// Disarmed reports the sticky disarmed latch.
func (e *Engine) Disarmed() bool { return e.disarmed }

// RecordReject advances the reject-storm window counter. Call once per
// broker rejection observed for this run.
func (e *Engine) RecordReject(nowMs int64) {
	e.tickRejectWindow(nowMs)
	e.rejectCount++
}

func (e *Engine) tickRejectWindow(nowMs int64) {
	window := e.cfg.RejectStormWindowMs
	if window <= 0 {
		return
	}
	if e.rejectWindowStartMs == 0 || nowMs-e.rejectWindowStartMs >= window {
		e.rejectWindowStartMs = nowMs
		e.rejectCount = 0
	}
}

// tick advances the day/peak ratchets for nowMs/dayID, ahead of Evaluate.
func (e *Engine) tick(dayID int64, equity schema.Money) {
	if e.dayID != dayID {
		e.dayID = dayID
		e.dayStartEquityMicros = equity
	}
	if equity > e.peakEquityMicros {
		e.peakEquityMicros = equity
	}
}

// Evaluate applies the full cascade: equity sanity clamp, kill switch
// override, sticky halt, PDT, daily loss, max drawdown, reject storm.
// Order matters and mirrors the original mqk-risk engine: equity sanity is
// clamped before anything else touches the ratchets, and a sticky halt
// blocks everything except a risk-reducing flatten.
func (e *Engine) Evaluate(dayID int64, intent schema.OrderIntent, state StateView) Decision {
	if state.EquityMicros < 0 {
		e.halted = true
		return Decision{Action: schema.RiskHalt, Reason: schema.RiskReasonBadInput}
	}

	e.tick(dayID, state.EquityMicros)
	e.tickRejectWindow(state.NowUnixMs)

	if e.cfg.KillSwitch || state.ManualKillSwitch {
		kind := schema.KillSwitchManual
		action := schema.RiskFlattenAndHalt
		if state.MissingProtectiveStop {
			kind = schema.KillSwitchMissingProtectiveStop
			if !e.cfg.RequireProtectiveStopOnKillSwitch {
				action = schema.RiskHalt
			}
		}
		e.halted = true
		e.disarmed = true
		ev := NewKillSwitchEvent(kind).
			WithEvidence("missing_protective_stop", boolStr(state.MissingProtectiveStop)).
			WithEvidence("manual", boolStr(state.ManualKillSwitch))
		return Decision{Action: action, Reason: schema.RiskReasonKillSwitch, KillSwitch: ev}
	}

	if e.halted {
		if state.IsRiskReducing {
			return Decision{Action: schema.RiskAllow, Reason: schema.RiskReasonAlreadyHalted}
		}
		return Decision{Action: schema.RiskReject, Reason: schema.RiskReasonAlreadyHalted}
	}

	if e.cfg.PDTAutoEnabled && !state.IsRiskReducing {
		return Decision{Action: schema.RiskReject, Reason: schema.RiskReasonPdtPrevented}
	}

	if e.cfg.DailyLossLimit > 0 {
		loss, ok := e.dayStartEquityMicros.Sub(state.EquityMicros)
		if !ok {
			e.halted = true
			return Decision{Action: schema.RiskHalt, Reason: schema.RiskReasonBadInput}
		}
		if loss >= e.cfg.DailyLossLimit {
			e.halted = true
			return Decision{Action: schema.RiskHalt, Reason: schema.RiskReasonDailyLossLimitBreached}
		}
	}

	if e.cfg.MaxDrawdown > 0 {
		drawdown, ok := e.peakEquityMicros.Sub(state.EquityMicros)
		if !ok {
			e.halted = true
			return Decision{Action: schema.RiskHalt, Reason: schema.RiskReasonBadInput}
		}
		if drawdown >= e.cfg.MaxDrawdown {
			e.halted = true
			e.disarmed = true
			return Decision{Action: schema.RiskFlattenAndHalt, Reason: schema.RiskReasonMaxDrawdownBreached}
		}
	}

	if e.cfg.RejectStormMaxRejects > 0 && e.rejectCount >= e.cfg.RejectStormMaxRejects {
		e.halted = true
		ev := NewKillSwitchEvent(schema.KillSwitchRejectStorm).
			WithEvidence("reject_count", strconv.Itoa(e.rejectCount)).
			WithEvidence("max_rejects", strconv.Itoa(e.cfg.RejectStormMaxRejects))
		return Decision{Action: schema.RiskHalt, Reason: schema.RiskReasonRejectStormBreached, KillSwitch: ev}
	}

	if e.cfg.MaxOrderQty > 0 && intent.Qty > e.cfg.MaxOrderQty {
		return Decision{Action: schema.RiskReject, Reason: schema.RiskReasonBadInput}
	}

	notional, ok := mulNotional(intent.Price, intent.Qty)
	if !ok {
		return Decision{Action: schema.RiskReject, Reason: schema.RiskReasonBadInput}
	}
	if e.cfg.MaxOrderNotional > 0 && notional > e.cfg.MaxOrderNotional {
		return Decision{Action: schema.RiskReject, Reason: schema.RiskReasonBadInput}
	}

	nextPos := applySide(state.Position, intent.Side, intent.Qty)
	if e.cfg.MaxPosition > 0 && absQuantity(nextPos) > e.cfg.MaxPosition {
		return Decision{Action: schema.RiskReject, Reason: schema.RiskReasonBadInput}
	}

	return Decision{Action: schema.RiskAllow, Reason: schema.RiskReasonAllowed}
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Money, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, true
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	const maxInt64 = int64(^uint64(0) >> 1)
	if p > maxInt64/q {
		return 0, false
	}
	return schema.Money(int64(price) * int64(qty)), true
}

func applySide(pos schema.Quantity, side schema.OrderSide, qty schema.Quantity) schema.Quantity {
	switch side {
	case schema.SideBuy:
		return pos + qty
	case schema.SideSell:
		return pos - qty
	default:
		return pos
	}
}

func absQuantity(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

