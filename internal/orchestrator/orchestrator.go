// Package orchestrator drives one run's cooperative tasks: the bar loop
// (integrity -> strategy -> gateway), the outbox dispatcher tick, the
// reconcile drift tick, and the deadman heartbeat tick. Built around a
// bus.Queue feeding a single bar-consumer goroutine alongside independent
// ticker goroutines, generalized into a multi-task run loop coordinated
// with golang.org/x/sync/errgroup, since this kernel's tasks (dispatch,
// reconcile, deadman) are independent of each other and any one's failure
// should cancel the whole run rather than leave siblings running against a
// partially-halted state.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riskkernel/mqk/internal/armstate"
	"github.com/riskkernel/mqk/internal/audit"
	"github.com/riskkernel/mqk/internal/bus"
	"github.com/riskkernel/mqk/internal/clock"
	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/gateway"
	"github.com/riskkernel/mqk/internal/integrity"
	"github.com/riskkernel/mqk/internal/obs"
	"github.com/riskkernel/mqk/internal/portfolio"
	"github.com/riskkernel/mqk/internal/reconcile"
	"github.com/riskkernel/mqk/internal/risk"
	"github.com/riskkernel/mqk/internal/runlifecycle"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/store"
	"github.com/riskkernel/mqk/internal/strategy"
)

// SnapshotBroker is the subset of internal/broker's adapters that can be
// reconciled: a Broker that can also report its own resting-order view.
// Not every Broker implementation needs this (a websocket adapter talking
// to a real venue fetches a snapshot over the wire instead), so it is kept
// distinct from gateway.Broker rather than folded into it.
type SnapshotBroker interface {
	gateway.Broker
	Snapshot(fetchedAtMs int64) map[schema.ClientOrderID]schema.OrderIntent
}

// Config controls one orchestrator instance, bound to a single run.
type Config struct {
	RunID    schema.RunID
	EngineID schema.EngineID
	Mode     schema.RunMode

	DispatchInterval   time.Duration
	DispatchBatchSize  int64
	ReconcileInterval  time.Duration
	HeartbeatInterval  time.Duration
	DeadmanTTL         time.Duration

	QueueCapacity int
}

// DefaultConfig returns intervals suitable for a paper/live run; backtest
// never constructs an Orchestrator at all (internal/backtest replays bars
// directly, with no wall-clock tasks to schedule).
func DefaultConfig(runID schema.RunID, engine schema.EngineID, mode schema.RunMode) Config {
	return Config{
		RunID:             runID,
		EngineID:          engine,
		Mode:              mode,
		DispatchInterval:  200 * time.Millisecond,
		DispatchBatchSize: 50,
		ReconcileInterval: 5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		DeadmanTTL:        30 * time.Second,
		QueueCapacity:     4096,
	}
}

// Orchestrator composes every durable/risk/gateway component behind the
// single per-run loop this kernel runs: for each bar,
// in order, advance integrity, invoke strategy, forward intents through the
// gateway, and apply inbound fills under the portfolio ledger.
type Orchestrator struct {
	cfg Config

	clock     clock.Source
	db        *store.Store
	arm       *armstate.Service
	lifecycle *runlifecycle.Lifecycle

	gw         *gateway.Gateway
	dispatcher *gateway.Dispatcher
	broker     SnapshotBroker

	ledger    *portfolio.Ledger
	riskEng   *risk.Engine
	integEng  *integrity.Engine
	strat     strategy.Strategy
	auditW    *audit.Writer
	metrics   *obs.Metrics

	bars *bus.Queue

	watermark *reconcile.SnapshotWatermark

	seqNo      uint64
	lastPrices map[string]schema.Price
	dayID      int64
}

// New wires one orchestrator instance. db, arm, and lifecycle must already
// be bound to a CREATED-or-later run row; New does not itself transition
// the run.
func New(
	cfg Config,
	clk clock.Source,
	db *store.Store,
	arm *armstate.Service,
	lifecycle *runlifecycle.Lifecycle,
	gw *gateway.Gateway,
	dispatcher *gateway.Dispatcher,
	brk SnapshotBroker,
	ledger *portfolio.Ledger,
	riskEng *risk.Engine,
	integEng *integrity.Engine,
	strat strategy.Strategy,
	auditW *audit.Writer,
	metrics *obs.Metrics,
) *Orchestrator {
	if strat == nil {
		strat = strategy.NoOp{}
	}
	return &Orchestrator{
		cfg:        cfg,
		clock:      clk,
		db:         db,
		arm:        arm,
		lifecycle:  lifecycle,
		gw:         gw,
		dispatcher: dispatcher,
		broker:     brk,
		ledger:     ledger,
		riskEng:    riskEng,
		integEng:   integEng,
		strat:      strat,
		auditW:     auditW,
		metrics:    metrics,
		bars:       bus.NewQueue(cfg.QueueCapacity),
		watermark:  &reconcile.SnapshotWatermark{},
		lastPrices: make(map[string]schema.Price),
	}
}

// PublishBar hands a bar to the orchestrator's bounded queue without
// blocking the feed. ErrQueueFull surfaces back to the caller (a feed
// adapter) so it can decide whether to drop or back off; the orchestrator
// never blocks a producer to protect a slow consumer.
func (o *Orchestrator) PublishBar(bar schema.Bar) error {
	o.seqNo++
	err := o.bars.TryPublish(bus.Event{Topic: bus.TopicBar, SeqNo: o.seqNo, TsUTC: bar.EndTS, Bar: bar})
	if err != nil {
		o.metrics.IncQueueDrop()
	}
	return err
}

// Close stops the bar queue from accepting further publishes.
func (o *Orchestrator) Close() { o.bars.Close() }

// Run starts every cooperative task and blocks until ctx is cancelled or
// one task returns an error, at which point the group cancels the
// remaining tasks and Run returns the first error: every task is
// independent, cancellation sets a flag, and each task exits at its next
// safe checkpoint rather than being killed mid-operation.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.bars.Run(ctx, func(e bus.Event) {
			if err := o.processBar(e.Bar); err != nil {
				o.recordAuditHalt(e.Bar.EndTS, fmt.Sprintf("bar processing error: %v", err))
			}
		})
		return nil
	})

	g.Go(func() error { return o.runDispatchTicker(ctx) })
	g.Go(func() error { return o.runReconcileTicker(ctx) })
	g.Go(func() error { return o.runHeartbeatTicker(ctx) })

	return g.Wait()
}

func (o *Orchestrator) runDispatchTicker(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := o.dispatcher.Tick(o.cfg.DispatchBatchSize); err != nil {
				return fmt.Errorf("orchestrator dispatch tick: %w", err)
			}
			o.pollFills()
		}
	}
}

func (o *Orchestrator) runReconcileTicker(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.reconcileOnce(); err != nil {
				return fmt.Errorf("orchestrator reconcile tick: %w", err)
			}
		}
	}
}

func (o *Orchestrator) runHeartbeatTicker(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.lifecycle.Heartbeat(o.cfg.RunID); err != nil {
				return fmt.Errorf("orchestrator heartbeat: %w", err)
			}
			o.runTimer()
			tripped, err := o.arm.CheckFlagFile()
			if err != nil {
				return fmt.Errorf("orchestrator flag-file check: %w", err)
			}
			if tripped {
				o.metrics.IncDisarm()
				o.recordAuditHalt(o.clock.Now().UnixNano(), "arm flag file deleted, system disarmed")
			}
			expired, err := o.arm.CheckDeadman(o.cfg.RunID, o.cfg.DeadmanTTL)
			if err != nil {
				return fmt.Errorf("orchestrator deadman check: %w", err)
			}
			if expired {
				o.metrics.IncHalt()
				o.recordAuditHalt(o.clock.Now().UnixNano(), "deadman ttl expired")
				return fmt.Errorf("orchestrator: deadman expired, run halted")
			}
		}
	}
}

// processBar runs one bar through integrity, strategy, and the gateway, in
// the exact order: advance integrity -> invoke strategy ->
// forward each emitted intent through the gateway.
func (o *Orchestrator) processBar(bar schema.Bar) error {
	verdict := o.integEng.ProcessBar(bar, o.clock.Now())
	if verdict.Halted || verdict.Disarmed {
		if verdict.Disarmed {
			_ = o.arm.Disarm(verdict.Reason)
			o.metrics.IncDisarm()
		}
		if verdict.Halted {
			_ = o.lifecycle.Halt(o.cfg.RunID, verdict.Reason)
			o.metrics.IncHalt()
		}
		o.recordAuditIntegrity(bar, verdict)
		return nil
	}

	o.lastPrices[bar.Symbol] = bar.Close
	o.dayID = bar.DayID

	for _, intent := range o.strat.OnBar(bar) {
		if err := o.submitIntent(bar, intent); err != nil {
			o.recordAuditReject(bar, intent, err)
		}
	}
	return nil
}

func (o *Orchestrator) submitIntent(bar schema.Bar, intent schema.OrderIntent) error {
	equity := o.ledger.Equity(o.lastPrices)
	currentQty := o.ledger.PositionQty(intent.Symbol)
	isReducing := isRiskReducing(currentQty, intent.Side)

	state := risk.StateView{
		EquityMicros:   equity,
		Position:       currentQty,
		ReferencePrice: o.lastPrices[intent.Symbol],
		NowUnixMs:      bar.EndTS / int64(time.Millisecond),
		IsRiskReducing: isReducing,
	}

	clientOrderID, err := o.gw.Send(o.dayID, intent, state)
	if err != nil {
		if kind, ok := mqkerrors.Kind(err); ok && kind == mqkerrors.KindPreconditionFailed {
			o.metrics.IncRiskAction(schema.RiskReject)
		}
		return err
	}
	o.metrics.IncRiskAction(schema.RiskAllow)
	_ = clientOrderID
	return nil
}

// runTimer drives strategies that act on elapsed wall-clock time alone
// (end-of-day flatten, session-open warmup), independent of bar arrival.
func (o *Orchestrator) runTimer() {
	nowUnixMs := o.clock.Now().UnixNano() / 1_000_000
	for _, intent := range o.strat.OnTimer(nowUnixMs) {
		bar := schema.Bar{Symbol: intent.Symbol, EndTS: o.clock.Now().UnixNano()}
		if err := o.submitIntent(bar, intent); err != nil {
			o.recordAuditReject(bar, intent, err)
		}
	}
}

func isRiskReducing(currentQty schema.Quantity, side schema.OrderSide) bool {
	switch {
	case currentQty > 0 && side == schema.SideSell:
		return true
	case currentQty < 0 && side == schema.SideBuy:
		return true
	default:
		return false
	}
}

// pollFills drains the paper broker's resting orders against the latest
// mark for each symbol, simulating a fill on every dispatch tick. A real
// venue adapter instead pushes fills asynchronously (see broker.PaperWS);
// this polling loop only applies to the synchronous broker.Paper shape.
func (o *Orchestrator) pollFills() {
	for _, order := range o.gw.State().Pending() {
		price, ok := o.lastPrices[order.Symbol]
		if !ok {
			continue
		}
		fill, ok := tryFillAtPrice(o.broker, order.ClientOrderID, price, o.clock.Now().UnixNano())
		if !ok {
			continue
		}
		o.applyFill(fill)
	}
}

// tryFillAtPrice narrows SnapshotBroker down to the synchronous
// FillAtPrice method that only broker.Paper implements; adapters without
// it (e.g. a live websocket venue) simply never produce a poll-driven
// fill here, and rely on their own push path into OnFill instead.
func tryFillAtPrice(brk SnapshotBroker, clientOrderID schema.ClientOrderID, price schema.Price, tsUTC int64) (schema.Fill, bool) {
	type filler interface {
		FillAtPrice(clientOrderID schema.ClientOrderID, price schema.Price, tsUTC int64) (schema.Fill, bool)
	}
	f, ok := brk.(filler)
	if !ok {
		return schema.Fill{}, false
	}
	return f.FillAtPrice(clientOrderID, price, tsUTC)
}

// OnBrokerFill is the entry point for push-based adapters (broker.PaperWS's
// FillHandler, a live venue's execution stream): the adapter hands every
// unsolicited fill here instead of waiting for the poll loop to discover it.
func (o *Orchestrator) OnBrokerFill(fill schema.Fill) {
	o.applyFill(fill)
}

func (o *Orchestrator) applyFill(fill schema.Fill) {
	applied, err := o.gw.OnFill(fill)
	if err != nil || !applied {
		return
	}
	// OnFill stamps the inbox applied before the in-memory ledger append
	// below; a crash between the two is safe because RecoverOnBoot rebuilds
	// the ledger from the full inbox journal, not from applied_at.
	o.seqNo++
	if err := o.ledger.AppendFill(o.seqNo, fill); err != nil {
		return
	}
	o.metrics.IncFill()
	o.recordAuditFill(fill)

	for _, intent := range o.strat.OnFill(fill) {
		if err := o.submitIntent(schema.Bar{Symbol: intent.Symbol, EndTS: fill.TsUTC}, intent); err != nil {
			o.recordAuditReject(schema.Bar{Symbol: intent.Symbol, EndTS: fill.TsUTC}, intent, err)
		}
	}
}

func (o *Orchestrator) reconcileOnce() error {
	if err := o.ledger.VerifyIntegrity(); err != nil {
		_ = o.lifecycle.Halt(o.cfg.RunID, schema.DisarmIntegrityViolation)
		o.metrics.IncHalt()
		o.recordAuditHalt(o.clock.Now().UnixNano(), fmt.Sprintf("ledger integrity check failed: %v", err))
		return mqkerrors.WithKind(mqkerrors.KindDataIntegrity, err)
	}

	local := o.buildLocalSnapshot()
	broker := o.buildBrokerSnapshot()
	verdict, err := reconcile.ReconcileTick(o.watermark, local, broker)
	if err != nil {
		return err
	}
	if verdict.Action == reconcile.DriftHaltAndDisarm {
		if err := o.lifecycle.Halt(o.cfg.RunID, schema.DisarmReconcileDrift); err != nil {
			return err
		}
		o.metrics.IncHalt()
		o.recordAuditReconcile(verdict)
	}
	if err := o.db.ReconcileCheckpointWrite(o.cfg.RunID, reconcileVerdictOf(verdict), broker.FetchedAtMs, verdict.Report.ResultHash()); err != nil {
		return err
	}
	return nil
}

func reconcileVerdictOf(v reconcile.DriftVerdict) schema.ReconcileVerdict {
	if v.Action == reconcile.DriftContinue {
		return schema.ReconcileClean
	}
	return schema.ReconcileDirty
}
