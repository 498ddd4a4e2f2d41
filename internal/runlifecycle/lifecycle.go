// Package runlifecycle drives a run through CREATED -> ARMED -> RUNNING ->
// STOPPED/HALTED, composing internal/store's state-transition gates with
// internal/armstate's durable sticky latch and internal/reconcile's arm
// gate. The enum-driven transition-validation idiom (ApplyIntent/ApplyAck
// reject invalid transitions instead of clamping) generalizes from order
// states to run states, matching mqk-db's arm_run/begin_run/stop_run/
// halt_run state set and transition gates.
package runlifecycle

import (
	"fmt"

	"github.com/riskkernel/mqk/internal/armstate"
	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/reconcile"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/store"
)

// Lifecycle is the composed run state machine for one engine process.
type Lifecycle struct {
	db  *store.Store
	arm *armstate.Service
}

// New creates a Lifecycle over an already-migrated store and its arm-state
// service.
func New(db *store.Store, arm *armstate.Service) *Lifecycle {
	return &Lifecycle{db: db, arm: arm}
}

// Create inserts a fresh run row in CREATED status.
func (l *Lifecycle) Create(run store.NewRun) error {
	return l.db.InsertRun(run)
}

// Arm runs the six-condition arm-preflight gate and, for LIVE runs, also
// requires a clean reconcile report against the given local/broker
// snapshots before persisting ARMED to both the run row and the durable
// arm-state latch. A BACKTEST or PAPER run skips the reconcile gate: there
// is no broker to reconcile against.
func (l *Lifecycle) Arm(runID schema.RunID, mode schema.RunMode, local reconcile.LocalSnapshot, broker reconcile.BrokerSnapshot) error {
	if mode == schema.ModeLive {
		verdict := reconcile.CheckArmGate(local, broker)
		if verdict.Gate == reconcile.GateBlocked {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("reconcile-dirty: arm blocked: %v", verdict.Report.Reasons))
		}
	}
	if err := l.db.ArmPreflight(runID); err != nil {
		return err
	}
	return l.arm.Arm()
}

// Begin transitions ARMED -> RUNNING. A LIVE run passes through
// CheckStartGate exactly like Arm passes through CheckArmGate: the window
// between arming and starting is long enough for broker state to drift, so
// start gets its own fresh reconcile check rather than trusting the
// arm-time verdict still holds.
func (l *Lifecycle) Begin(runID schema.RunID, local reconcile.LocalSnapshot, broker reconcile.BrokerSnapshot) error {
	run, err := l.db.FetchRun(runID)
	if err != nil {
		return err
	}
	if schema.RunMode(run.Mode) == schema.ModeLive {
		verdict := reconcile.CheckStartGate(local, broker)
		if verdict.Gate == reconcile.GateBlocked {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("reconcile-dirty: start blocked: %v", verdict.Report.Reasons))
		}
	}
	return l.db.BeginRun(runID)
}

// Stop transitions ARMED/RUNNING -> STOPPED. Arm-state is left untouched: a
// clean stop is not a disarm event, and the next Arm call re-validates the
// preflight gate from scratch regardless.
func (l *Lifecycle) Stop(runID schema.RunID) error {
	return l.db.StopRun(runID)
}

// Halt transitions any status to HALTED and disarms the system with the
// given reason. Halt must always succeed: it is the system's last line of
// defense and never itself subject to a precondition gate.
func (l *Lifecycle) Halt(runID schema.RunID, reason schema.DisarmReason) error {
	if err := l.db.HaltRun(runID); err != nil {
		return err
	}
	return l.arm.Disarm(reason)
}

// Heartbeat stamps the liveness timestamp for a RUNNING run.
func (l *Lifecycle) Heartbeat(runID schema.RunID) error {
	return l.db.HeartbeatRun(runID)
}
