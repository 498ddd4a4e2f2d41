package reconcile

import "fmt"

// SnapshotFreshness describes a rejected broker snapshot: either it carries
// no fetch timestamp at all, or it is older than the last accepted one.
type SnapshotFreshness struct {
	FetchedAtMs      int64
	LastAcceptedMs   int64
	MissingTimestamp bool
}

func (f SnapshotFreshness) Error() string {
	if f.MissingTimestamp {
		return "stale broker snapshot: fetched_at_ms is zero"
	}
	return fmt.Sprintf("stale broker snapshot: fetched_at_ms=%d older than last accepted %d",
		f.FetchedAtMs, f.LastAcceptedMs)
}

// StaleBrokerSnapshot wraps the SnapshotFreshness rejection reason so callers
// can distinguish it from other errors via errors.As.
type StaleBrokerSnapshot struct {
	Freshness SnapshotFreshness
}

func (e *StaleBrokerSnapshot) Error() string { return e.Freshness.Error() }

// SnapshotWatermark enforces that broker snapshots are applied in
// non-decreasing fetch-time order. It starts unset: the first Accept call
// always succeeds provided the snapshot carries a non-zero timestamp.
type SnapshotWatermark struct {
	lastAcceptedMs int64
	hasAccepted    bool
}

// Check reports, without mutating state, whether broker would be accepted.
func (w *SnapshotWatermark) Check(broker BrokerSnapshot) error {
	if broker.FetchedAtMs == 0 {
		return &StaleBrokerSnapshot{Freshness: SnapshotFreshness{MissingTimestamp: true}}
	}
	if w.hasAccepted && broker.FetchedAtMs < w.lastAcceptedMs {
		return &StaleBrokerSnapshot{Freshness: SnapshotFreshness{
			FetchedAtMs:    broker.FetchedAtMs,
			LastAcceptedMs: w.lastAcceptedMs,
		}}
	}
	return nil
}

// Accept validates and, on success, advances the watermark.
func (w *SnapshotWatermark) Accept(broker BrokerSnapshot) error {
	if err := w.Check(broker); err != nil {
		return err
	}
	w.lastAcceptedMs = broker.FetchedAtMs
	w.hasAccepted = true
	return nil
}

func (w *SnapshotWatermark) LastAcceptedMs() int64 { return w.lastAcceptedMs }
func (w *SnapshotWatermark) HasAcceptedAny() bool  { return w.hasAccepted }

// ReconcileMonotonic enforces watermark acceptance before running Reconcile,
// so a stale or out-of-order broker snapshot never contributes to a
// clean/drift verdict.
func ReconcileMonotonic(wm *SnapshotWatermark, local LocalSnapshot, broker BrokerSnapshot) (Report, error) {
	if err := wm.Accept(broker); err != nil {
		return Report{}, err
	}
	return Reconcile(local, broker), nil
}
