package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/riskkernel/mqk/internal/armstate"
	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/risk"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/store"
)

// Broker is the minimal surface the gateway needs from an order adapter.
// Concrete adapters live in internal/broker; defining the interface here,
// at the consumer, keeps internal/broker free to depend only on schema.
type Broker interface {
	Submit(intent schema.OrderIntent, clientOrderID schema.ClientOrderID) (schema.OrderAck, error)
	// Cancel and Replace take the broker's own order id, resolved by the
	// gateway through the persisted broker-order map before the call is
	// made — never the caller-supplied client order id.
	Cancel(clientOrderID schema.ClientOrderID, brokerOrderID string) (schema.OrderAck, error)
	Replace(clientOrderID schema.ClientOrderID, brokerOrderID string, newIntent schema.OrderIntent) (schema.OrderAck, error)
}

// Config controls one gateway instance, bound to a single run.
type Config struct {
	RunID             schema.RunID
	EngineID          schema.EngineID
	ResendOnReconnect bool
	// FreshnessBoundMs is the maximum age, in milliseconds, a reconcile
	// checkpoint's watermark may have and still count as CLEAN for
	// gating Send/Replace; mirrors ops.Config.Reconcile.FreshnessBound.
	FreshnessBoundMs int64
}

// Gateway is the only path by which a strategy's order intent reaches the
// outbox. Every gate (arm-state, run status, reconcile freshness, risk) is
// read here, never trusted from a caller; a rejected or halted risk
// decision never reaches the outbox at all. Submission to the broker
// itself happens out-of-line, in Dispatcher, per the outbox pattern
// mqk-db's outbox_claim_batch implies: Send's job ends at a durably
// persisted PENDING row. The Send/OnFill/Reconnect shape is split here
// into a synchronous intake half (Gateway) and an asynchronous dispatch
// half (Dispatcher), since a durable outbox needs a claim step in between
// rather than a single synchronous submit call.
type Gateway struct {
	cfg       Config
	state     *StateMachine
	risk      *risk.Engine
	arm       *armstate.Service
	db        *store.Store
	connected bool
}

// New creates a gateway bound to one run, its risk engine, the durable
// arm-state service, and the outbox/inbox store.
func New(cfg Config, riskEngine *risk.Engine, arm *armstate.Service, db *store.Store) *Gateway {
	return &Gateway{
		cfg:       cfg,
		state:     NewStateMachine(),
		risk:      riskEngine,
		arm:       arm,
		db:        db,
		connected: true,
	}
}

// State returns the underlying order state machine.
func (g *Gateway) State() *StateMachine { return g.state }

// checkLiveGates reads every precondition a submit/replace must clear
// before it may touch the risk engine or the outbox: arm-state ARMED, the
// run row RUNNING on this engine, and the latest reconcile checkpoint
// CLEAN within the freshness bound. Every check is a fresh store read, not
// a caller-supplied verdict, so a stale in-process flag can never stand in
// for ground truth.
func (g *Gateway) checkLiveGates(nowUnixMs int64) error {
	armState, _, err := g.arm.Current()
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if armState != schema.ArmArmed {
		return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("gateway: system is not ARMED"))
	}

	run, err := g.db.FetchRun(g.cfg.RunID)
	if err != nil {
		return err
	}
	if schema.RunStatus(run.Status) != schema.StatusRunning {
		return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("gateway: run %s is %s, not RUNNING", g.cfg.RunID, run.Status))
	}

	checkpoint, err := g.db.ReconcileCheckpointLoadLatest(g.cfg.RunID)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if checkpoint == nil {
		return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("gateway: no reconcile checkpoint recorded for run %s", g.cfg.RunID))
	}
	if schema.ReconcileVerdict(checkpoint.Verdict) != schema.ReconcileClean {
		return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("gateway: latest reconcile checkpoint is %s, not CLEAN", checkpoint.Verdict))
	}
	age := nowUnixMs - checkpoint.SnapshotWatermarkMs
	if g.cfg.FreshnessBoundMs > 0 && age > g.cfg.FreshnessBoundMs {
		return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("gateway: reconcile checkpoint is %dms stale, exceeds freshness bound %dms", age, g.cfg.FreshnessBoundMs))
	}
	return nil
}

// Send gates and durably enqueues one order intent. state is the
// portfolio/integrity-derived risk.StateView for this instant; dayID keys
// the risk engine's daily-loss ratchet. Returns the deterministic client
// order id assigned to the intent; the Dispatcher submits it to the broker
// on its own schedule.
func (g *Gateway) Send(dayID int64, intent schema.OrderIntent, state risk.StateView) (schema.ClientOrderID, error) {
	if err := intent.Validate(); err != nil {
		return "", mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}

	if err := g.checkLiveGates(state.NowUnixMs); err != nil {
		return "", err
	}

	decision := g.risk.Evaluate(dayID, intent, state)
	switch decision.Action {
	case schema.RiskReject:
		return "", mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("risk rejected: %s", decision.Reason))
	case schema.RiskHalt, schema.RiskFlattenAndHalt:
		return "", mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("risk halted: %s", decision.Reason))
	}

	clientOrderID := schema.DeriveClientOrderID(g.cfg.EngineID, intent.IntentID, g.cfg.RunID)

	if _, err := g.state.ApplyIntent(clientOrderID, intent); err != nil {
		if err == ErrDuplicateOrder {
			// Retry with the same intent id: same deterministic client order
			// id, same outbox row (the enqueue below deduplicates on it), no
			// second broker submit. The duplicate succeeds at the API.
			return clientOrderID, nil
		}
		return "", fmt.Errorf("gateway send: %w", err)
	}

	orderJSON, err := json.Marshal(intent)
	if err != nil {
		return "", mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	if _, err := g.db.OutboxEnqueue(g.cfg.RunID, string(clientOrderID), orderJSON); err != nil {
		return "", fmt.Errorf("gateway send: %w", err)
	}
	return clientOrderID, nil
}

// resolveBrokerOrderID looks up the broker's own order id for clientOrderID
// through the persisted map, refusing to proceed against a caller-supplied
// id that was never actually submitted by this gateway.
func (g *Gateway) resolveBrokerOrderID(clientOrderID schema.ClientOrderID) (string, error) {
	brokerOrderID, ok, err := g.db.BrokerMapLookup(string(clientOrderID))
	if err != nil {
		return "", fmt.Errorf("gateway: %w", err)
	}
	if !ok {
		return "", mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("gateway: %s has no live broker order mapping", clientOrderID))
	}
	return brokerOrderID, nil
}

// Cancel requests cancellation of a previously sent order directly against
// the broker: cancels are not queued through the outbox, since a stale
// cancel racing a fill must be resolved immediately, not on the next
// dispatch tick. The broker order id is always resolved through the
// persisted map, never taken from clientOrderID directly.
func (g *Gateway) Cancel(broker Broker, clientOrderID schema.ClientOrderID) (schema.OrderAck, error) {
	if !g.connected {
		return schema.OrderAck{}, mqkerrors.WithKind(mqkerrors.KindBrokerTransient, fmt.Errorf("gateway disconnected"))
	}
	brokerOrderID, err := g.resolveBrokerOrderID(clientOrderID)
	if err != nil {
		return schema.OrderAck{}, err
	}
	ack, err := broker.Cancel(clientOrderID, brokerOrderID)
	if err != nil {
		return schema.OrderAck{}, mqkerrors.WithKind(mqkerrors.KindBrokerTransient, err)
	}
	if ack.Accepted {
		if _, err := g.state.ApplyCancelAck(clientOrderID); err != nil {
			return ack, err
		}
		if err := g.db.BrokerMapRemove(string(clientOrderID)); err != nil {
			return ack, fmt.Errorf("gateway cancel: %w", err)
		}
	}
	return ack, nil
}

// Replace submits a modified intent in place of a previously sent,
// still-live order. It runs through the exact same gates as Send (arm
// state, run status, reconcile freshness, risk), then resolves the broker
// order id through the persisted map exactly like Cancel — replace is not
// a second, looser submission path, it is submit's and cancel's choke
// point applied together.
func (g *Gateway) Replace(dayID int64, clientOrderID schema.ClientOrderID, newIntent schema.OrderIntent, state risk.StateView, broker Broker) (schema.OrderAck, error) {
	if err := newIntent.Validate(); err != nil {
		return schema.OrderAck{}, mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	if !g.connected {
		return schema.OrderAck{}, mqkerrors.WithKind(mqkerrors.KindBrokerTransient, fmt.Errorf("gateway disconnected"))
	}
	if err := g.checkLiveGates(state.NowUnixMs); err != nil {
		return schema.OrderAck{}, err
	}

	decision := g.risk.Evaluate(dayID, newIntent, state)
	switch decision.Action {
	case schema.RiskReject:
		return schema.OrderAck{}, mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("risk rejected: %s", decision.Reason))
	case schema.RiskHalt, schema.RiskFlattenAndHalt:
		return schema.OrderAck{}, mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("risk halted: %s", decision.Reason))
	}

	brokerOrderID, err := g.resolveBrokerOrderID(clientOrderID)
	if err != nil {
		return schema.OrderAck{}, err
	}

	ack, err := broker.Replace(clientOrderID, brokerOrderID, newIntent)
	if err != nil {
		return schema.OrderAck{}, mqkerrors.WithKind(mqkerrors.KindBrokerTransient, err)
	}
	if ack.Accepted {
		if err := g.db.BrokerMapUpsert(string(clientOrderID), ack.BrokerOrderID); err != nil {
			return ack, fmt.Errorf("gateway replace: %w", err)
		}
	}
	return ack, nil
}

// OnFill applies a broker fill report, deduplicated through the inbox
// before it ever reaches the order state machine: a redelivered fill
// message is a no-op, not a double-apply. Once the fill closes the order
// out (FILLED), the matching outbox row is marked ACKED and its broker-map
// entry is dropped — the same terminal cleanup Cancel already performs on
// a canceled order.
func (g *Gateway) OnFill(fill schema.Fill) (applied bool, err error) {
	fillJSON, err := json.Marshal(fill)
	if err != nil {
		return false, mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	inserted, err := g.db.InboxInsertDeduped(g.cfg.RunID, fill.BrokerMessageID, fillJSON)
	if err != nil {
		return false, fmt.Errorf("gateway on_fill: %w", err)
	}
	if !inserted {
		return false, nil
	}
	order, err := g.state.ApplyFill(fill)
	if err != nil {
		return false, fmt.Errorf("gateway on_fill: %w", err)
	}
	if err := g.db.InboxMarkApplied(fill.BrokerMessageID); err != nil {
		return false, fmt.Errorf("gateway on_fill: %w", err)
	}
	if order.State == OrderStateFilled {
		if _, err := g.db.OutboxMarkAcked(string(fill.ClientOrderID)); err != nil {
			return true, fmt.Errorf("gateway on_fill: %w", err)
		}
		if err := g.db.BrokerMapRemove(string(fill.ClientOrderID)); err != nil {
			return true, fmt.Errorf("gateway on_fill: %w", err)
		}
	}
	return true, nil
}

// Disconnect marks the gateway unable to reach the broker.
func (g *Gateway) Disconnect() { g.connected = false }

// Reconnect marks the gateway connected and returns pending orders to
// resend, if the gateway is configured to do so.
func (g *Gateway) Reconnect() []*Order {
	g.connected = true
	if !g.cfg.ResendOnReconnect {
		return nil
	}
	return g.state.Pending()
}
