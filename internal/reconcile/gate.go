package reconcile

// ArmStartGate is the verdict blocking or permitting a LIVE arm/start
// transition. Both gates run the identical reconcile check; they are kept
// as distinct functions because arm and start are distinct call sites with
// distinct failure handling upstream (runlifecycle.ArmPreflight vs the
// orchestrator's run-loop entry).
type ArmStartGate string

const (
	GatePermitted ArmStartGate = "Permitted"
	GateBlocked   ArmStartGate = "Blocked"
)

// GateVerdict carries the gate decision plus the report that produced it.
type GateVerdict struct {
	Gate   ArmStartGate
	Report Report
}

func permitted() GateVerdict { return GateVerdict{Gate: GatePermitted, Report: Clean()} }

func blocked(r Report) GateVerdict { return GateVerdict{Gate: GateBlocked, Report: r} }

// CheckArmGate is consulted by runlifecycle before a run may transition to
// ARMED in LIVE mode.
func CheckArmGate(local LocalSnapshot, broker BrokerSnapshot) GateVerdict {
	r := Reconcile(local, broker)
	if r.IsClean() {
		return permitted()
	}
	return blocked(r)
}

// CheckStartGate is consulted before a run may transition from ARMED to
// RUNNING; identical semantics to CheckArmGate, kept distinct for call-site
// clarity and because the two gates are expected to diverge (e.g. a future
// start-time-only check) without forcing callers to share a name.
func CheckStartGate(local LocalSnapshot, broker BrokerSnapshot) GateVerdict {
	r := Reconcile(local, broker)
	if r.IsClean() {
		return permitted()
	}
	return blocked(r)
}

// DriftAction is what the periodic reconcile tick tells the orchestrator to
// do with an already-running engine.
type DriftAction string

const (
	DriftContinue      DriftAction = "Continue"
	DriftHaltAndDisarm DriftAction = "HaltAndDisarm"
)

// DriftVerdict carries the tick's action plus the report that produced it.
type DriftVerdict struct {
	Action DriftAction
	Report Report
}

// ReconcileTick runs a periodic drift check against a running engine. Unlike
// the arm/start gates, a dirty tick does not merely block a transition, it
// demands the already-running engine halt and disarm.
func ReconcileTick(wm *SnapshotWatermark, local LocalSnapshot, broker BrokerSnapshot) (DriftVerdict, error) {
	report, err := ReconcileMonotonic(wm, local, broker)
	if err != nil {
		return DriftVerdict{}, err
	}
	if report.IsClean() {
		return DriftVerdict{Action: DriftContinue, Report: report}, nil
	}
	return DriftVerdict{Action: DriftHaltAndDisarm, Report: report}, nil
}
