package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/schema"
)

func sampleIntent() schema.OrderIntent {
	return schema.OrderIntent{
		IntentID: "intent-1",
		RunID:    "run-1",
		EngineID: "MAIN",
		Symbol:   "AAPL",
		Side:     schema.SideBuy,
		Type:     schema.OrderTypeMarket,
		Qty:      100,
	}
}

func TestApplyIntentCreatesSentOrder(t *testing.T) {
	m := NewStateMachine()
	o, err := m.ApplyIntent("coid-1", sampleIntent())
	require.NoError(t, err)
	assert.Equal(t, OrderStateSent, o.State)
	assert.Equal(t, schema.Quantity(100), o.LeavesQty)
}

func TestApplyIntentRejectsDuplicate(t *testing.T) {
	m := NewStateMachine()
	_, err := m.ApplyIntent("coid-1", sampleIntent())
	require.NoError(t, err)
	_, err = m.ApplyIntent("coid-1", sampleIntent())
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestApplyAckAcceptedMovesToAcked(t *testing.T) {
	m := NewStateMachine()
	_, _ = m.ApplyIntent("coid-1", sampleIntent())
	o, err := m.ApplyAck(schema.OrderAck{ClientOrderID: "coid-1", Accepted: true, BrokerOrderID: "b-1"})
	require.NoError(t, err)
	assert.Equal(t, OrderStateAcked, o.State)
	assert.Equal(t, "b-1", o.BrokerOrderID)
}

func TestApplyAckRejectedMovesToRejected(t *testing.T) {
	m := NewStateMachine()
	_, _ = m.ApplyIntent("coid-1", sampleIntent())
	o, err := m.ApplyAck(schema.OrderAck{ClientOrderID: "coid-1", Accepted: false, RejectReason: "no"})
	require.NoError(t, err)
	assert.Equal(t, OrderStateRejected, o.State)
}

func TestApplyAckUnknownOrderErrors(t *testing.T) {
	m := NewStateMachine()
	_, err := m.ApplyAck(schema.OrderAck{ClientOrderID: "ghost", Accepted: true})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestApplyFillPartialThenFull(t *testing.T) {
	m := NewStateMachine()
	_, _ = m.ApplyIntent("coid-1", sampleIntent())
	_, _ = m.ApplyAck(schema.OrderAck{ClientOrderID: "coid-1", Accepted: true})

	o, err := m.ApplyFill(schema.Fill{ClientOrderID: "coid-1", Qty: 40})
	require.NoError(t, err)
	assert.Equal(t, OrderStatePartFilled, o.State)
	assert.Equal(t, schema.Quantity(60), o.LeavesQty)

	o, err = m.ApplyFill(schema.Fill{ClientOrderID: "coid-1", Qty: 60})
	require.NoError(t, err)
	assert.Equal(t, OrderStateFilled, o.State)
	assert.Equal(t, schema.Quantity(0), o.LeavesQty)
}

func TestApplyFillRejectsNonPositiveQty(t *testing.T) {
	m := NewStateMachine()
	_, _ = m.ApplyIntent("coid-1", sampleIntent())
	_, err := m.ApplyFill(schema.Fill{ClientOrderID: "coid-1", Qty: 0})
	assert.ErrorIs(t, err, ErrInvalidFill)
}

func TestApplyFillOnTerminalOrderErrors(t *testing.T) {
	m := NewStateMachine()
	_, _ = m.ApplyIntent("coid-1", sampleIntent())
	_, _ = m.ApplyFill(schema.Fill{ClientOrderID: "coid-1", Qty: 100})
	_, err := m.ApplyFill(schema.Fill{ClientOrderID: "coid-1", Qty: 10})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyCancelAckMarksCanceled(t *testing.T) {
	m := NewStateMachine()
	_, _ = m.ApplyIntent("coid-1", sampleIntent())
	o, err := m.ApplyCancelAck("coid-1")
	require.NoError(t, err)
	assert.Equal(t, OrderStateCanceled, o.State)
}

func TestPendingExcludesTerminalOrders(t *testing.T) {
	m := NewStateMachine()
	_, _ = m.ApplyIntent("coid-1", sampleIntent())
	_, _ = m.ApplyIntent("coid-2", sampleIntent())
	_, _ = m.ApplyCancelAck("coid-2")

	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, schema.ClientOrderID("coid-1"), pending[0].ClientOrderID)
}
