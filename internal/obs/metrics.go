package obs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/riskkernel/mqk/internal/schema"
)

var allRiskReasons = []schema.RiskReason{
	schema.RiskReasonAllowed,
	schema.RiskReasonAlreadyHalted,
	schema.RiskReasonKillSwitch,
	schema.RiskReasonPdtPrevented,
	schema.RiskReasonDailyLossLimitBreached,
	schema.RiskReasonMaxDrawdownBreached,
	schema.RiskReasonRejectStormBreached,
	schema.RiskReasonBadInput,
}

var allRiskActions = []schema.RiskAction{
	schema.RiskAllow,
	schema.RiskReject,
	schema.RiskHalt,
	schema.RiskFlattenAndHalt,
}

// Metrics collects lock-free hot-path counters and latency stats for risk
// evaluation, order flow, and queue backpressure. It also implements
// prometheus.Collector so the same numbers can be scraped over HTTP (see
// exporter.go) without a second, divergent bookkeeping path: Collect reads
// straight off these atomics on every scrape.
type Metrics struct {
	riskReasonCounts map[schema.RiskReason]*uint64
	riskActionCounts map[schema.RiskAction]*uint64
	queueDrops       uint64
	queueClosed      uint64
	fills            uint64
	halts            uint64
	disarms          uint64

	eventLatency     LatencyStats
	orderFlowLatency LatencyStats
	riskEvalLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	RiskReasonCounts map[schema.RiskReason]uint64
	RiskActionCounts map[schema.RiskAction]uint64
	QueueDrops       uint64
	QueueClosed      uint64
	Fills            uint64
	Halts            uint64
	Disarms          uint64
	EventLatency     LatencySnapshot
	OrderFlowLatency LatencySnapshot
	RiskEvalLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container, pre-populating a counter slot
// for every known risk reason and action so Inc* never needs a mutex to
// find (or create) one on the hot path.
func NewMetrics() *Metrics {
	m := &Metrics{
		riskReasonCounts: make(map[schema.RiskReason]*uint64, len(allRiskReasons)),
		riskActionCounts: make(map[schema.RiskAction]*uint64, len(allRiskActions)),
	}
	for _, r := range allRiskReasons {
		m.riskReasonCounts[r] = new(uint64)
	}
	for _, a := range allRiskActions {
		m.riskActionCounts[a] = new(uint64)
	}
	return m
}

// IncRiskReason increments the counter for a risk verdict's reason code.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	if ctr, ok := m.riskReasonCounts[reason]; ok {
		atomic.AddUint64(ctr, 1)
	}
}

// IncRiskAction increments the counter for a risk verdict's action.
func (m *Metrics) IncRiskAction(action schema.RiskAction) {
	if m == nil {
		return
	}
	if ctr, ok := m.riskActionCounts[action]; ok {
		atomic.AddUint64(ctr, 1)
	}
}

// IncQueueDrop records a bounded queue rejecting a publish because it was full.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a publish attempt against an already-closed queue.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncFill records a successfully applied fill.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

// IncHalt records a halt transition (Halt or FlattenAndHalt).
func (m *Metrics) IncHalt() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.halts, 1)
}

// IncDisarm records an armstate disarm transition.
func (m *Metrics) IncDisarm() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.disarms, 1)
}

// ObserveOrderFlow measures end-to-end order flow latency, intent to ack.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// ObserveRiskEval measures a single risk engine evaluation's latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveEvent measures a bus event's end-to-end processing latency.
func (m *Metrics) ObserveEvent(d time.Duration) {
	if m == nil {
		return
	}
	m.eventLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	reasonCounts := make(map[schema.RiskReason]uint64, len(m.riskReasonCounts))
	for r, ctr := range m.riskReasonCounts {
		if v := atomic.LoadUint64(ctr); v > 0 {
			reasonCounts[r] = v
		}
	}
	actionCounts := make(map[schema.RiskAction]uint64, len(m.riskActionCounts))
	for a, ctr := range m.riskActionCounts {
		if v := atomic.LoadUint64(ctr); v > 0 {
			actionCounts[a] = v
		}
	}
	return Snapshot{
		RiskReasonCounts: reasonCounts,
		RiskActionCounts: actionCounts,
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		QueueClosed:      atomic.LoadUint64(&m.queueClosed),
		Fills:            atomic.LoadUint64(&m.fills),
		Halts:            atomic.LoadUint64(&m.halts),
		Disarms:          atomic.LoadUint64(&m.disarms),
		EventLatency:     m.eventLatency.Snapshot(),
		OrderFlowLatency: m.orderFlowLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}

var (
	riskReasonDesc = prometheus.NewDesc(
		"mqk_risk_reason_total", "Risk verdicts by reason code.", []string{"reason"}, nil)
	riskActionDesc = prometheus.NewDesc(
		"mqk_risk_action_total", "Risk verdicts by action.", []string{"action"}, nil)
	queueDropsDesc = prometheus.NewDesc(
		"mqk_queue_drops_total", "Bus publishes rejected because the queue was full.", nil, nil)
	queueClosedDesc = prometheus.NewDesc(
		"mqk_queue_closed_publishes_total", "Bus publishes rejected because the queue was closed.", nil, nil)
	fillsDesc = prometheus.NewDesc(
		"mqk_fills_total", "Fills applied to the portfolio ledger.", nil, nil)
	haltsDesc = prometheus.NewDesc(
		"mqk_halts_total", "Halt transitions (Halt or FlattenAndHalt).", nil, nil)
	disarmsDesc = prometheus.NewDesc(
		"mqk_disarms_total", "Armstate disarm transitions.", nil, nil)
	latencyAvgDesc = prometheus.NewDesc(
		"mqk_latency_seconds_avg", "Average observed latency by stage.", []string{"stage"}, nil)
	latencyMaxDesc = prometheus.NewDesc(
		"mqk_latency_seconds_max", "Maximum observed latency by stage.", []string{"stage"}, nil)
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- riskReasonDesc
	ch <- riskActionDesc
	ch <- queueDropsDesc
	ch <- queueClosedDesc
	ch <- fillsDesc
	ch <- haltsDesc
	ch <- disarmsDesc
	ch <- latencyAvgDesc
	ch <- latencyMaxDesc
}

// Collect implements prometheus.Collector, reading straight off the live
// atomics via Snapshot so a scrape never lags or double-counts against the
// hot-path counters.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	snap := m.Snapshot()
	for reason, count := range snap.RiskReasonCounts {
		ch <- prometheus.MustNewConstMetric(riskReasonDesc, prometheus.CounterValue, float64(count), string(reason))
	}
	for action, count := range snap.RiskActionCounts {
		ch <- prometheus.MustNewConstMetric(riskActionDesc, prometheus.CounterValue, float64(count), string(action))
	}
	ch <- prometheus.MustNewConstMetric(queueDropsDesc, prometheus.CounterValue, float64(snap.QueueDrops))
	ch <- prometheus.MustNewConstMetric(queueClosedDesc, prometheus.CounterValue, float64(snap.QueueClosed))
	ch <- prometheus.MustNewConstMetric(fillsDesc, prometheus.CounterValue, float64(snap.Fills))
	ch <- prometheus.MustNewConstMetric(haltsDesc, prometheus.CounterValue, float64(snap.Halts))
	ch <- prometheus.MustNewConstMetric(disarmsDesc, prometheus.CounterValue, float64(snap.Disarms))

	stages := map[string]LatencySnapshot{
		"event":      snap.EventLatency,
		"order_flow": snap.OrderFlowLatency,
		"risk_eval":  snap.RiskEvalLatency,
	}
	for stage, s := range stages {
		if s.Count == 0 {
			continue
		}
		ch <- prometheus.MustNewConstMetric(latencyAvgDesc, prometheus.GaugeValue, s.Avg.Seconds(), stage)
		ch <- prometheus.MustNewConstMetric(latencyMaxDesc, prometheus.GaugeValue, s.Max.Seconds(), stage)
	}
}
