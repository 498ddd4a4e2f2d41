package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/armstate"
	"github.com/riskkernel/mqk/internal/clock"
	"github.com/riskkernel/mqk/internal/gateway"
	"github.com/riskkernel/mqk/internal/integrity"
	"github.com/riskkernel/mqk/internal/portfolio"
	"github.com/riskkernel/mqk/internal/reconcile"
	"github.com/riskkernel/mqk/internal/risk"
	"github.com/riskkernel/mqk/internal/runlifecycle"
	"github.com/riskkernel/mqk/internal/schema"
)

// fakeBroker is a minimal SnapshotBroker used to exercise buildBrokerSnapshot
// without a real venue connection.
type fakeBroker struct {
	resting map[schema.ClientOrderID]schema.OrderIntent
}

func (b *fakeBroker) Submit(intent schema.OrderIntent, clientOrderID schema.ClientOrderID) (schema.OrderAck, error) {
	return schema.OrderAck{ClientOrderID: clientOrderID, Accepted: true}, nil
}

func (b *fakeBroker) Cancel(clientOrderID schema.ClientOrderID, brokerOrderID string) (schema.OrderAck, error) {
	return schema.OrderAck{ClientOrderID: clientOrderID, Accepted: true}, nil
}

func (b *fakeBroker) Replace(clientOrderID schema.ClientOrderID, brokerOrderID string, newIntent schema.OrderIntent) (schema.OrderAck, error) {
	return schema.OrderAck{ClientOrderID: clientOrderID, Accepted: true}, nil
}

func (b *fakeBroker) Snapshot(fetchedAtMs int64) map[schema.ClientOrderID]schema.OrderIntent {
	return b.resting
}

func newTestOrchestratorWithCapacity(t *testing.T, brk SnapshotBroker, capacity int) *Orchestrator {
	t.Helper()
	riskEng := risk.NewEngine(risk.Config{MaxOrderQty: 1000, MaxPosition: 1000})
	arm := armstate.New(nil)
	lifecycle := runlifecycle.New(nil, arm)
	gwCfg := gateway.Config{RunID: "run-1", EngineID: "engine-1"}
	gw := gateway.New(gwCfg, riskEng, arm, nil)
	dispatcher := gateway.NewDispatcher("dispatcher-1", gw, brk)
	ledger := portfolio.New(1_000_000)
	integEng := integrity.NewEngine(integrity.Config{Mode: schema.ModePaper})

	cfg := DefaultConfig("run-1", "engine-1", schema.ModePaper)
	cfg.QueueCapacity = capacity
	return New(cfg, clock.Real{}, nil, arm, lifecycle, gw, dispatcher, brk, ledger, riskEng, integEng, nil, nil, nil)
}

func newTestOrchestrator(t *testing.T, brk SnapshotBroker) *Orchestrator {
	t.Helper()
	return newTestOrchestratorWithCapacity(t, brk, 4096)
}

func TestOrderStateToStatusCoversEveryGatewayState(t *testing.T) {
	cases := map[gateway.OrderState]reconcile.OrderStatus{
		gateway.OrderStateSent:       reconcile.OrderStatusNew,
		gateway.OrderStateAcked:      reconcile.OrderStatusAccepted,
		gateway.OrderStatePartFilled: reconcile.OrderStatusPartiallyFilled,
		gateway.OrderStateFilled:     reconcile.OrderStatusFilled,
		gateway.OrderStateCanceled:   reconcile.OrderStatusCanceled,
		gateway.OrderStateRejected:   reconcile.OrderStatusRejected,
	}
	for state, want := range cases {
		assert.Equal(t, want, orderStateToStatus(state))
	}
	assert.Equal(t, reconcile.OrderStatusUnknown, orderStateToStatus("bogus"))
}

func TestQtySignedFlipsSignOnSell(t *testing.T) {
	assert.Equal(t, int64(10), qtySigned(schema.SideBuy, 10))
	assert.Equal(t, int64(-10), qtySigned(schema.SideSell, 10))
}

func TestIsRiskReducing(t *testing.T) {
	assert.True(t, isRiskReducing(5, schema.SideSell))
	assert.True(t, isRiskReducing(-5, schema.SideBuy))
	assert.False(t, isRiskReducing(5, schema.SideBuy))
	assert.False(t, isRiskReducing(0, schema.SideSell))
}

func TestBuildLocalSnapshotReflectsGatewayOrdersAndLedgerPositions(t *testing.T) {
	brk := &fakeBroker{resting: map[schema.ClientOrderID]schema.OrderIntent{}}
	o := newTestOrchestrator(t, brk)

	intent := schema.OrderIntent{IntentID: "intent-1", Symbol: "AAPL", Side: schema.SideBuy, Type: schema.OrderTypeMarket, Qty: 10}
	_, err := o.gw.State().ApplyIntent("COID-1", intent)
	require.NoError(t, err)

	require.NoError(t, o.ledger.AppendFill(1, schema.Fill{
		BrokerMessageID: "msg-1", ClientOrderID: "COID-1", Symbol: "AAPL",
		Side: schema.SideBuy, Qty: 10, Price: 100_000_000, TsUTC: 1,
	}))

	snap := o.buildLocalSnapshot()
	require.Contains(t, snap.Orders, "COID-1")
	assert.Equal(t, reconcile.OrderStatusNew, snap.Orders["COID-1"].Status)
	assert.Equal(t, int64(10), snap.Positions["AAPL"])
}

func TestBuildBrokerSnapshotAggregatesPositionsFromRestingOrders(t *testing.T) {
	brk := &fakeBroker{resting: map[schema.ClientOrderID]schema.OrderIntent{
		"COID-1": {Symbol: "AAPL", Side: schema.SideBuy, Qty: 10},
		"COID-2": {Symbol: "AAPL", Side: schema.SideSell, Qty: 4},
	}}
	o := newTestOrchestrator(t, brk)

	snap := o.buildBrokerSnapshot()
	assert.Equal(t, int64(6), snap.Positions["AAPL"])
	assert.Len(t, snap.Orders, 2)
	assert.Greater(t, snap.FetchedAtMs, int64(0))
}

func TestPublishBarReturnsErrQueueFullWhenSaturated(t *testing.T) {
	brk := &fakeBroker{resting: map[schema.ClientOrderID]schema.OrderIntent{}}
	o := newTestOrchestratorWithCapacity(t, brk, 1)

	require.NoError(t, o.PublishBar(schema.Bar{Symbol: "AAPL", EndTS: 1}))
	err := o.PublishBar(schema.Bar{Symbol: "AAPL", EndTS: 2})
	assert.Error(t, err)
}
