package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/bus"
	"github.com/riskkernel/mqk/internal/chaos"
	"github.com/riskkernel/mqk/internal/schema"
)

// These tests run a chaos engine in front of the order state machine to
// confirm the machine's terminal-state guard (ApplyAck/ApplyFill/
// ApplyCancelAck all refuse a transition out of a terminal state) actually
// holds against a feed that misbehaves, not just against hand-written
// single-event test cases.

func TestChaosDuplicatedFillNeverDoubleFillsAnOrder(t *testing.T) {
	eng, err := chaos.NewEngine(chaos.Config{Seed: 1, DuplicateRate: 1, ReorderWindow: 1})
	require.NoError(t, err)

	m := NewStateMachine()
	_, err = m.ApplyIntent("coid-1", sampleIntent())
	require.NoError(t, err)

	fillEvent := bus.Event{Topic: bus.TopicFill, Fill: schema.Fill{ClientOrderID: "coid-1", Qty: 100}}
	delivered := eng.Process(fillEvent)
	require.Len(t, delivered, 2, "duplicate rate of 1 must hand back the event twice")

	first, err := m.ApplyFill(delivered[0].Fill)
	require.NoError(t, err)
	assert.Equal(t, OrderStateFilled, first.State)

	second, err := m.ApplyFill(delivered[1].Fill)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, OrderStateFilled, second.State)
	assert.Equal(t, schema.Quantity(0), second.LeavesQty)
}

func TestChaosDuplicatedCancelAckNeverDoubleCancels(t *testing.T) {
	eng, err := chaos.NewEngine(chaos.Config{Seed: 2, DuplicateRate: 1, ReorderWindow: 1})
	require.NoError(t, err)

	m := NewStateMachine()
	_, err = m.ApplyIntent("coid-1", sampleIntent())
	require.NoError(t, err)

	ackEvent := bus.Event{Topic: bus.TopicAck, Ack: schema.OrderAck{ClientOrderID: "coid-1", Accepted: true, BrokerOrderID: "b-1"}}
	delivered := eng.Process(ackEvent)
	require.Len(t, delivered, 2)

	for _, ev := range delivered {
		_, err := m.ApplyAck(ev.Ack)
		require.NoError(t, err)
	}

	_, err = m.ApplyCancelAck("coid-1")
	require.NoError(t, err)
	// A cancel ack that arrives again after the order is already canceled
	// (e.g. a redelivered broker message) must be refused, not silently
	// re-applied.
	_, err = m.ApplyCancelAck("coid-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestChaosDropRemovesEventBeforeItReachesStateMachine(t *testing.T) {
	eng, err := chaos.NewEngine(chaos.Config{Seed: 3, DropRate: 1, ReorderWindow: 1})
	require.NoError(t, err)

	fillEvent := bus.Event{Topic: bus.TopicFill, Fill: schema.Fill{ClientOrderID: "coid-1", Qty: 100}}
	delivered := eng.Process(fillEvent)
	assert.Empty(t, delivered, "drop rate of 1 must never hand the event on")
}

func TestChaosReorderBufferStillPreservesExactlyOneDeliveryPerInput(t *testing.T) {
	eng, err := chaos.NewEngine(chaos.Config{Seed: 4, ReorderWindow: 3})
	require.NoError(t, err)

	m := NewStateMachine()
	for i, coid := range []schema.ClientOrderID{"coid-1", "coid-2", "coid-3"} {
		_, err := m.ApplyIntent(coid, sampleIntent())
		require.NoError(t, err)
		_ = i
	}

	var delivered []bus.Event
	for _, coid := range []schema.ClientOrderID{"coid-1", "coid-2", "coid-3"} {
		delivered = append(delivered, eng.Process(bus.Event{Topic: bus.TopicFill, Fill: schema.Fill{ClientOrderID: coid, Qty: 100}})...)
	}
	delivered = append(delivered, eng.Flush()...)

	require.Len(t, delivered, 3, "a reorder window must not drop or invent events, only shuffle them")
	seen := map[schema.ClientOrderID]bool{}
	for _, ev := range delivered {
		o, err := m.ApplyFill(ev.Fill)
		require.NoError(t, err)
		assert.Equal(t, OrderStateFilled, o.State)
		seen[ev.Fill.ClientOrderID] = true
	}
	assert.Len(t, seen, 3)
}
