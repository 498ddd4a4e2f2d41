package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/schema"
)

func TestIncRiskReasonCountsPerReason(t *testing.T) {
	m := NewMetrics()
	m.IncRiskReason(schema.RiskReasonDailyLossLimitBreached)
	m.IncRiskReason(schema.RiskReasonDailyLossLimitBreached)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RiskReasonCounts[schema.RiskReasonDailyLossLimitBreached])
	assert.Zero(t, snap.RiskReasonCounts[schema.RiskReasonKillSwitch])
}

func TestIncRiskActionCounts(t *testing.T) {
	m := NewMetrics()
	m.IncRiskAction(schema.RiskHalt)
	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.RiskActionCounts[schema.RiskHalt])
}

func TestQueueAndLifecycleCounters(t *testing.T) {
	m := NewMetrics()
	m.IncQueueDrop()
	m.IncQueueClosed()
	m.IncFill()
	m.IncHalt()
	m.IncDisarm()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.QueueDrops)
	assert.Equal(t, uint64(1), snap.QueueClosed)
	assert.Equal(t, uint64(1), snap.Fills)
	assert.Equal(t, uint64(1), snap.Halts)
	assert.Equal(t, uint64(1), snap.Disarms)
}

func TestLatencyStatsTracksMinMaxAvg(t *testing.T) {
	m := NewMetrics()
	m.ObserveRiskEval(10 * time.Millisecond)
	m.ObserveRiskEval(30 * time.Millisecond)

	snap := m.Snapshot().RiskEvalLatency
	require.Equal(t, uint64(2), snap.Count)
	assert.Equal(t, 10*time.Millisecond, snap.Min)
	assert.Equal(t, 30*time.Millisecond, snap.Max)
	assert.Equal(t, 20*time.Millisecond, snap.Avg)
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRiskReason(schema.RiskReasonAllowed)
		m.IncFill()
		m.ObserveRiskEval(time.Millisecond)
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestCollectExposesRegisteredSeries(t *testing.T) {
	m := NewMetrics()
	m.IncFill()
	m.IncRiskReason(schema.RiskReasonKillSwitch)

	count := testutil.CollectAndCount(m)
	assert.GreaterOrEqual(t, count, 2)

	reg := NewRegistry(m)
	require.NotNil(t, reg)
}
