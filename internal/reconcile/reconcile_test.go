package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/schema"
)

func TestReconcileCleanWhenSnapshotsMatch(t *testing.T) {
	local := LocalSnapshot{
		Orders:    map[string]OrderSnapshot{"o1": {OrderID: "o1", Symbol: "AAPL", Side: schema.SideBuy, Qty: 100, FilledQty: 0, Status: OrderStatusNew}},
		Positions: map[string]int64{"AAPL": 100},
	}
	broker := BrokerSnapshot{
		Orders:      map[string]OrderSnapshot{"o1": {OrderID: "o1", Symbol: "AAPL", Side: schema.SideBuy, Qty: 100, FilledQty: 0, Status: OrderStatusNew}},
		Positions:   map[string]int64{"AAPL": 100},
		FetchedAtMs: 1000,
	}
	r := Reconcile(local, broker)
	assert.True(t, r.IsClean())
	assert.Empty(t, r.Reasons)
	assert.Empty(t, r.Diffs)
}

func TestReconcileDetectsUnknownBrokerOrder(t *testing.T) {
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{}}
	broker := BrokerSnapshot{
		Orders:      map[string]OrderSnapshot{"ghost": {OrderID: "ghost", Symbol: "AAPL", Qty: 10}},
		Positions:   map[string]int64{},
		FetchedAtMs: 1000,
	}
	r := Reconcile(local, broker)
	assert.False(t, r.IsClean())
	assert.Contains(t, r.Reasons, ReasonUnknownBrokerOrder)
	require.Len(t, r.Diffs, 1)
	assert.Equal(t, "UnknownOrder", r.Diffs[0].Kind)
	assert.Equal(t, "ghost", r.Diffs[0].OrderID)
}

func TestReconcileDetectsOrderFieldDrift(t *testing.T) {
	local := LocalSnapshot{
		Orders:    map[string]OrderSnapshot{"o1": {OrderID: "o1", Symbol: "AAPL", Qty: 100, Status: OrderStatusNew}},
		Positions: map[string]int64{},
	}
	broker := BrokerSnapshot{
		Orders:      map[string]OrderSnapshot{"o1": {OrderID: "o1", Symbol: "AAPL", Qty: 50, Status: OrderStatusPartiallyFilled}},
		Positions:   map[string]int64{},
		FetchedAtMs: 1000,
	}
	r := Reconcile(local, broker)
	assert.False(t, r.IsClean())
	assert.Contains(t, r.Reasons, ReasonOrderDrift)
	fields := map[string]bool{}
	for _, d := range r.Diffs {
		fields[d.Field] = true
	}
	assert.True(t, fields["qty"])
	assert.True(t, fields["status"])
}

func TestReconcileDetectsPositionMismatch(t *testing.T) {
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{"AAPL": 100}}
	broker := BrokerSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{"AAPL": 80}, FetchedAtMs: 1000}
	r := Reconcile(local, broker)
	assert.False(t, r.IsClean())
	assert.Contains(t, r.Reasons, ReasonPositionMismatch)
	require.Len(t, r.Diffs, 1)
	assert.Equal(t, int64(100), r.Diffs[0].LocalQty)
	assert.Equal(t, int64(80), r.Diffs[0].BrokerQty)
}

func TestReconcileIgnoresLocalOrderMissingFromBroker(t *testing.T) {
	local := LocalSnapshot{
		Orders:    map[string]OrderSnapshot{"o1": {OrderID: "o1", Symbol: "AAPL", Qty: 10}},
		Positions: map[string]int64{},
	}
	broker := BrokerSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{}, FetchedAtMs: 1000}
	r := Reconcile(local, broker)
	assert.True(t, r.IsClean())
}

func TestReconcileReasonsAndDiffsAreDeterministicallySorted(t *testing.T) {
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{"AAPL": 1, "MSFT": 1}}
	broker := BrokerSnapshot{
		Orders:      map[string]OrderSnapshot{"z": {OrderID: "z"}, "a": {OrderID: "a"}},
		Positions:   map[string]int64{"AAPL": 2, "MSFT": 2},
		FetchedAtMs: 1000,
	}
	r1 := Reconcile(local, broker)
	r2 := Reconcile(local, broker)
	assert.Equal(t, r1.Reasons, r2.Reasons)
	assert.Equal(t, r1.Diffs, r2.Diffs)
	assert.Equal(t, "a", r1.Diffs[0].OrderID)
	assert.Equal(t, "z", r1.Diffs[1].OrderID)
}

func TestWatermarkRejectsZeroTimestamp(t *testing.T) {
	wm := &SnapshotWatermark{}
	err := wm.Accept(BrokerSnapshot{FetchedAtMs: 0})
	require.Error(t, err)
	var stale *StaleBrokerSnapshot
	require.ErrorAs(t, err, &stale)
	assert.True(t, stale.Freshness.MissingTimestamp)
}

func TestWatermarkRejectsOutOfOrderSnapshot(t *testing.T) {
	wm := &SnapshotWatermark{}
	require.NoError(t, wm.Accept(BrokerSnapshot{FetchedAtMs: 1000}))
	err := wm.Accept(BrokerSnapshot{FetchedAtMs: 500})
	require.Error(t, err)
	assert.Equal(t, int64(1000), wm.LastAcceptedMs())
}

func TestWatermarkAcceptsMonotonicAdvance(t *testing.T) {
	wm := &SnapshotWatermark{}
	require.NoError(t, wm.Accept(BrokerSnapshot{FetchedAtMs: 1000}))
	require.NoError(t, wm.Accept(BrokerSnapshot{FetchedAtMs: 1001}))
	assert.Equal(t, int64(1001), wm.LastAcceptedMs())
	assert.True(t, wm.HasAcceptedAny())
}

func TestReconcileMonotonicShortCircuitsOnStaleSnapshot(t *testing.T) {
	wm := &SnapshotWatermark{}
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{}}
	require.NoError(t, wm.Accept(BrokerSnapshot{FetchedAtMs: 1000}))
	_, err := ReconcileMonotonic(wm, local, BrokerSnapshot{FetchedAtMs: 900})
	require.Error(t, err)
}

func TestCheckArmGatePermitsOnCleanReconcile(t *testing.T) {
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{}}
	broker := BrokerSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{}, FetchedAtMs: 1000}
	v := CheckArmGate(local, broker)
	assert.Equal(t, GatePermitted, v.Gate)
}

func TestCheckArmGateBlocksOnDirtyReconcile(t *testing.T) {
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{"AAPL": 1}}
	broker := BrokerSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{"AAPL": 2}, FetchedAtMs: 1000}
	v := CheckArmGate(local, broker)
	assert.Equal(t, GateBlocked, v.Gate)
	assert.False(t, v.Report.IsClean())
}

func TestReconcileTickHaltsAndDisarmsOnDrift(t *testing.T) {
	wm := &SnapshotWatermark{}
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{"AAPL": 1}}
	broker := BrokerSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{"AAPL": 2}, FetchedAtMs: 1000}
	v, err := ReconcileTick(wm, local, broker)
	require.NoError(t, err)
	assert.Equal(t, DriftHaltAndDisarm, v.Action)
}

func TestReconcileTickContinuesOnCleanSnapshot(t *testing.T) {
	wm := &SnapshotWatermark{}
	local := LocalSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{}}
	broker := BrokerSnapshot{Orders: map[string]OrderSnapshot{}, Positions: map[string]int64{}, FetchedAtMs: 1000}
	v, err := ReconcileTick(wm, local, broker)
	require.NoError(t, err)
	assert.Equal(t, DriftContinue, v.Action)
}
