package backtest

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/integrity"
	"github.com/riskkernel/mqk/internal/portfolio"
	"github.com/riskkernel/mqk/internal/risk"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/strategy"
)

// Engine is the deterministic backtest replay engine. Pipeline per bar:
// corporate-action gate -> integrity gate -> strategy -> allocation cap ->
// risk -> conservative fill -> portfolio. Nothing here reads the wall
// clock or a random source: identical (Config, bars, strategy) always
// produces a byte-identical Report.
type Engine struct {
	cfg      Config
	strategy strategy.Strategy

	portfolio *portfolio.Ledger
	risk      *risk.Engine
	integrity *integrity.Engine

	lastPrices map[string]schema.Price
	fills      []schema.Fill
	equity     []EquityPoint

	halted           bool
	haltReason       string
	executionBlocked bool

	seqNo uint64
}

// New builds a replay engine, validating the stress profile up front: a
// negative SlippageBps or VolatilityMultBps would flip the fill-price
// adjustment direction (cheaper BUYs, higher-priced SELLs), a look-ahead /
// overfitting artifact, so it is rejected before a single bar is processed
// rather than silently clamped.
func New(cfg Config, strat strategy.Strategy) (*Engine, error) {
	if err := validateStressProfile(cfg.Stress); err != nil {
		return nil, err
	}
	if strat == nil {
		strat = strategy.NoOp{}
	}

	riskCfg := risk.Config{
		DailyLossLimit:                    cfg.DailyLossLimitMicros,
		MaxDrawdown:                       cfg.MaxDrawdownLimitMicros,
		RejectStormMaxRejects:             cfg.RejectStormMaxRejects,
		RejectStormWindowMs:               cfg.RejectStormWindowMs,
		PDTAutoEnabled:                    cfg.PDTEnabled,
		MaxOrderQty:                       cfg.MaxOrderQty,
		MaxPosition:                       cfg.MaxPosition,
		MaxOrderNotional:                  cfg.MaxOrderNotionalMicros,
		RequireProtectiveStopOnKillSwitch: cfg.KillSwitchFlattens,
	}

	integrityCfg := integrity.Config{
		Mode:           schema.ModeBacktest,
		StrictGaps:     cfg.IntegrityStrictGaps,
		StaleThreshold: 0, // see ProcessBar call site: backtest has no live wall clock
		Calendar:       cfg.IntegrityCalendar,
	}

	return &Engine{
		cfg:        cfg,
		strategy:   strat,
		portfolio:  portfolio.New(cfg.InitialCashMicros),
		risk:       risk.NewEngine(riskCfg),
		integrity:  integrity.NewEngine(integrityCfg),
		lastPrices: make(map[string]schema.Price),
	}, nil
}

func validateStressProfile(s StressProfile) error {
	if s.SlippageBps < 0 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("negative slippage rejected: slippage_bps = %d (must be >= 0)", s.SlippageBps))
	}
	if s.VolatilityMultBps < 0 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("negative slippage rejected: volatility_mult_bps = %d (must be >= 0)", s.VolatilityMultBps))
	}
	if s.LatencyMs < 0 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("negative latency rejected: latency_ms = %d (must be >= 0)", s.LatencyMs))
	}
	return nil
}

// Run replays bars, which must already be in canonical (EndTS, Symbol)
// order (schema.Bar.Less); the engine does not sort them, since silently
// reordering caller input would mask an upstream bug.
func (e *Engine) Run(bars []schema.Bar) (Report, error) {
	for i, bar := range bars {
		if i > 0 && !bars[i-1].Less(bar) {
			return Report{}, mqkerrors.WithKind(mqkerrors.KindValidationError,
				fmt.Errorf("bars out of canonical order at index %d", i))
		}
		if e.halted {
			break
		}
		if err := e.processBar(bar); err != nil {
			return Report{}, err
		}
	}

	return Report{
		Halted:           e.halted,
		HaltReason:       e.haltReason,
		EquityCurve:      append([]EquityPoint(nil), e.equity...),
		Fills:            append([]schema.Fill(nil), e.fills...),
		LastPrices:       clonePrices(e.lastPrices),
		ExecutionBlocked: e.executionBlocked,
	}, nil
}

func (e *Engine) processBar(bar schema.Bar) error {
	if !bar.IsComplete {
		return mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("incomplete bar: %s @ end_ts=%d", bar.Symbol, bar.EndTS))
	}
	if bar.EndTS < 0 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("negative timestamp: %d", bar.EndTS))
	}

	// Corporate-action gate: checked before strategy ever sees the bar, so
	// contaminated (unadjusted) price data never reaches strategy logic.
	if e.cfg.CorporateActions.IsExcluded(bar.Symbol, bar.EndTS) {
		e.halted = true
		e.haltReason = fmt.Sprintf("corporate action exclusion: symbol %q at end_ts=%d is in a forbidden period", bar.Symbol, bar.EndTS)
		e.recordAuditHalt(bar, e.haltReason)
		return nil
	}

	// Integrity gate. Backtest has no live wall clock to compare a bar's
	// age against, so "now" is always the bar's own end: this makes the
	// stale-threshold check structurally inert (now - bar_end is always
	// zero) and leaves only gap-tolerance / session-aware gap detection
	// live, which is the only integrity failure mode a deterministic
	// replay can actually exhibit.
	if e.cfg.IntegrityEnabled {
		now := time.Unix(0, bar.EndTS).UTC()
		verdict := e.integrity.ProcessBar(bar, now)
		if verdict.Halted || verdict.Disarmed {
			e.executionBlocked = true
		}
	}

	e.lastPrices[bar.Symbol] = bar.Close

	intents := e.strategy.OnBar(bar)

	if e.cfg.ShadowMode || e.executionBlocked {
		e.equity = append(e.equity, EquityPoint{EndTS: bar.EndTS, EquityMicros: e.portfolio.Equity(e.lastPrices)})
		return nil
	}

	for _, intent := range intents {
		if e.halted {
			break
		}
		if err := e.processIntent(bar, intent); err != nil {
			return err
		}
	}

	e.equity = append(e.equity, EquityPoint{EndTS: bar.EndTS, EquityMicros: e.portfolio.Equity(e.lastPrices)})
	return nil
}

func (e *Engine) processIntent(bar schema.Bar, intent schema.OrderIntent) error {
	if err := intent.Validate(); err != nil {
		// A strategy that emits a structurally unsound intent gets the
		// same treatment a live gateway gives it: rejected, not fatal.
		return nil
	}

	equity := e.portfolio.Equity(e.lastPrices)
	currentQty := e.portfolio.PositionQty(intent.Symbol)
	isRiskReducing := isIntentRiskReducing(currentQty, intent.Side)
	fillPrice := e.conservativeFillPrice(bar, intent.Side)

	if !isRiskReducing && e.cfg.MaxGrossExposureMultMicros > 0 {
		exposure := e.grossExposureMicros()
		notional := conservativeNotional(intent.Qty, fillPrice)
		if err := risk.EnforceAllocationCap(equity, exposure, notional, e.cfg.MaxGrossExposureMultMicros); err != nil {
			// Allocation cap breach: deterministic, silent reject. No halt.
			return nil
		}
	}

	state := risk.StateView{
		EquityMicros:   equity,
		Position:       currentQty,
		ReferencePrice: fillPrice,
		NowUnixMs:      bar.EndTS / int64(time.Millisecond),
		IsRiskReducing: isRiskReducing,
	}
	decision := e.risk.Evaluate(bar.DayID, intent, state)

	switch decision.Action {
	case schema.RiskAllow:
		return e.applyFill(bar, intent, fillPrice)
	case schema.RiskReject:
		return nil
	case schema.RiskHalt:
		e.halted = true
		e.haltReason = string(decision.Reason)
		e.recordAuditHalt(bar, e.haltReason)
		return nil
	case schema.RiskFlattenAndHalt:
		e.flattenAll(bar)
		e.halted = true
		e.haltReason = string(decision.Reason)
		e.recordAuditHalt(bar, e.haltReason)
		return nil
	default:
		return nil
	}
}

func (e *Engine) applyFill(bar schema.Bar, intent schema.OrderIntent, price schema.Price) error {
	e.seqNo++
	fill := schema.Fill{
		BrokerMessageID: fmt.Sprintf("backtest-%s-%d", intent.IntentID, e.seqNo),
		ClientOrderID:   schema.DeriveClientOrderID(e.cfg.EngineID, intent.IntentID, e.cfg.RunID),
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		Qty:             intent.Qty,
		Price:           price,
		TsUTC:           bar.EndTS + e.cfg.Stress.LatencyMs*int64(time.Millisecond),
	}
	if err := e.portfolio.AppendFill(e.seqNo, fill); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindDataIntegrity, err)
	}
	e.fills = append(e.fills, fill)
	e.recordAuditFill(fill)
	return nil
}

// conservativeFillPrice applies worst-case ambiguity resolution: BUY fills
// at the bar high (worst for a buyer), SELL at the bar low (worst for a
// seller), then layers slippage on top. Effective slippage is a flat floor
// plus a volatility proxy derived from the bar's own high-low spread, so
// wide (volatile) bars pay more slippage than narrow ones; VolatilityMultBps
// == 0 reproduces the flat-floor-only behavior.
func (e *Engine) conservativeFillPrice(bar schema.Bar, side schema.OrderSide) schema.Price {
	var base int64
	switch side {
	case schema.SideBuy:
		base = int64(bar.High)
	case schema.SideSell:
		base = int64(bar.Low)
	default:
		base = int64(bar.Close)
	}

	var spreadBps int64
	if bar.Close > 0 {
		spreadBps = satMul(int64(bar.High)-int64(bar.Low), 10_000) / int64(bar.Close)
	}
	volComponent := spreadBps * e.cfg.Stress.VolatilityMultBps / 10_000
	effectiveBps := e.cfg.Stress.SlippageBps + volComponent
	if effectiveBps == 0 {
		return schema.Price(base)
	}

	adj := new(big.Int).Mul(big.NewInt(base), big.NewInt(effectiveBps))
	adj.Quo(adj, big.NewInt(10_000))

	result := new(big.Int)
	switch side {
	case schema.SideBuy:
		result.Add(big.NewInt(base), adj)
		if result.Cmp(big.NewInt(int64(^uint64(0)>>1))) > 0 {
			return schema.Price(int64(^uint64(0) >> 1))
		}
	default:
		result.Sub(big.NewInt(base), adj)
		if result.Sign() < 0 {
			return 0
		}
	}
	return schema.Price(result.Int64())
}

func satMul(a, b int64) int64 {
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	maxI64 := big.NewInt(int64(^uint64(0) >> 1))
	if r.CmpAbs(maxI64) > 0 {
		if r.Sign() < 0 {
			return -maxI64.Int64()
		}
		return maxI64.Int64()
	}
	return r.Int64()
}

func conservativeNotional(qty schema.Quantity, price schema.Price) schema.Money {
	n := new(big.Int).Mul(big.NewInt(int64(qty)), big.NewInt(int64(price)))
	maxI64 := big.NewInt(int64(^uint64(0) >> 1))
	if n.Cmp(maxI64) > 0 {
		return schema.Money(maxI64.Int64())
	}
	if n.Sign() < 0 {
		return 0
	}
	return schema.Money(n.Int64())
}

func (e *Engine) grossExposureMicros() schema.Money {
	var total big.Int
	for symbol, price := range e.lastPrices {
		qty := e.portfolio.PositionQty(symbol)
		if qty == 0 {
			continue
		}
		abs := int64(qty)
		if abs < 0 {
			abs = -abs
		}
		total.Add(&total, new(big.Int).Mul(big.NewInt(abs), big.NewInt(int64(price))))
	}
	maxI64 := big.NewInt(int64(^uint64(0) >> 1))
	if total.Cmp(maxI64) > 0 {
		return schema.Money(maxI64.Int64())
	}
	return schema.Money(total.Int64())
}

func isIntentRiskReducing(currentQty schema.Quantity, side schema.OrderSide) bool {
	switch side {
	case schema.SideBuy:
		return currentQty < 0
	case schema.SideSell:
		return currentQty > 0
	default:
		return false
	}
}

// flattenAll closes every open position deterministically in symbol order,
// marking each close at the bar's last known price for that symbol.
func (e *Engine) flattenAll(bar schema.Bar) {
	symbols := make([]string, 0, len(e.lastPrices))
	for s := range e.lastPrices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		qty := e.portfolio.PositionQty(symbol)
		if qty == 0 {
			continue
		}
		side := schema.SideSell
		absQty := int64(qty)
		if qty < 0 {
			side = schema.SideBuy
			absQty = -absQty
		}
		mark, ok := e.lastPrices[symbol]
		if !ok {
			mark = bar.Close
		}
		e.seqNo++
		fill := schema.Fill{
			BrokerMessageID: fmt.Sprintf("backtest-flatten-%s-%d", symbol, e.seqNo),
			ClientOrderID:   schema.DeriveClientOrderID(e.cfg.EngineID, schema.IntentID(fmt.Sprintf("flatten-%s", symbol)), e.cfg.RunID),
			Symbol:          symbol,
			Side:            side,
			Qty:             schema.Quantity(absQty),
			Price:           mark,
			TsUTC:           bar.EndTS,
		}
		if err := e.portfolio.AppendFill(e.seqNo, fill); err != nil {
			// A flatten that fails ledger validation is a logic bug
			// (qty/price already came from the ledger itself); nothing
			// the caller can repair mid-replay, so it is dropped from
			// the fill list but never silently resurrected as a position.
			continue
		}
		e.fills = append(e.fills, fill)
		e.recordAuditFill(fill)
	}
}

func (e *Engine) recordAuditFill(fill schema.Fill) {
	if e.cfg.Audit == nil {
		return
	}
	_, _ = e.cfg.Audit.Append(e.cfg.RunID, fill.TsUTC, "fills", "Fill", fill)
}

func (e *Engine) recordAuditHalt(bar schema.Bar, reason string) {
	if e.cfg.Audit == nil {
		return
	}
	_, _ = e.cfg.Audit.Append(e.cfg.RunID, bar.EndTS, "lifecycle", "Halt", map[string]string{"reason": reason})
}

func clonePrices(m map[string]schema.Price) map[string]schema.Price {
	out := make(map[string]schema.Price, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
