// Package armstate binds the in-process sticky disarm latch kept by
// internal/integrity (and surfaced by internal/risk's kill switch) to the
// persisted sys_arm_state row, so a process restart never silently re-arms
// a system an operator or a violation disarmed. Grounded on mqk-db's
// persist_arm_state/load_arm_state/deadman_expired/enforce_deadman_or_halt
// (original_source/core-rs/crates/mqk-db/src/lib.rs), ported into a Go
// service type over internal/store rather than free functions over a pool,
// matching this module's struct-plus-method idiom elsewhere (risk.Engine,
// integrity.Engine).
package armstate

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/store"
)

// Service is the durable arm-state gate: every component that needs to know
// "is this system currently permitted to trade" reads through here, never
// through a bare in-memory flag.
type Service struct {
	db *store.Store

	mu          sync.Mutex
	flagPath    string
	flagWritten bool
}

// New creates an arm-state service over an already-migrated store.
func New(db *store.Store) *Service {
	return &Service{db: db}
}

// WithFlagFile makes the service additionally maintain an externally
// observable flag file at path while armed, for host-level watchdogs that
// cannot read the database: written on Arm, removed on Disarm. Deleting
// the file out from under a running process triggers a disarm (see
// CheckFlagFile) but re-creating it never clears one: the database row is
// the authority, the file is only a mirror.
func (s *Service) WithFlagFile(path string) *Service {
	s.flagPath = path
	return s
}

// Boot loads the persisted arm state at process start and enforces the
// fail-closed boot policy: a system that crashed or stopped while ARMED
// comes back DISARMED with BootDefault (arming evidence does not survive a
// process boundary), a persisted DISARMED keeps its original reason so an
// operator still sees why (DeadmanHalt, IntegrityViolation, ...), and a
// fresh system with no row gets its initial DISARMED/BootDefault row
// written here.
func (s *Service) Boot() (schema.ArmValue, schema.DisarmReason, error) {
	snap, err := s.db.LoadArmState()
	if err != nil {
		return "", "", fmt.Errorf("armstate boot: %w", err)
	}
	if snap == nil || snap.State == schema.ArmArmed {
		if err := s.Disarm(schema.DisarmBootDefault); err != nil {
			return "", "", fmt.Errorf("armstate boot: %w", err)
		}
		return schema.ArmDisarmed, schema.DisarmBootDefault, nil
	}
	s.removeFlagFile()
	return snap.State, snap.Reason, nil
}

// Current reads the persisted arm state without mutating it, for gate
// checks on the hot path. A fresh system with no row reads as
// DISARMED/BootDefault. Boot, not Current, is what a process start calls:
// only Boot applies the force-disarm boot policy.
func (s *Service) Current() (schema.ArmValue, schema.DisarmReason, error) {
	snap, err := s.db.LoadArmState()
	if err != nil {
		return "", "", fmt.Errorf("armstate current: %w", err)
	}
	if snap == nil {
		return schema.ArmDisarmed, schema.DisarmBootDefault, nil
	}
	return snap.State, snap.Reason, nil
}

// Arm persists ARMED with no reason. Callers must have already passed
// runlifecycle's arm-preflight gate; this call does not re-check it.
func (s *Service) Arm() error {
	if err := s.db.PersistArmState(schema.ArmArmed, schema.DisarmNone); err != nil {
		return fmt.Errorf("armstate arm: %w", err)
	}
	if err := s.writeFlagFile(); err != nil {
		// The row committed, so the system is armed; a host watchdog
		// missing its file will disarm it again, which is the safe
		// direction to fail in.
		return fmt.Errorf("armstate arm: %w", err)
	}
	return nil
}

func (s *Service) writeFlagFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flagPath == "" {
		return nil
	}
	if err := os.WriteFile(s.flagPath, []byte("ARMED\n"), 0o644); err != nil {
		return fmt.Errorf("write flag file: %w", err)
	}
	s.flagWritten = true
	return nil
}

// Disarm persists DISARMED with the given reason. reason must not be
// DisarmNone: every disarm has a cause, recorded for the operator.
func (s *Service) Disarm(reason schema.DisarmReason) error {
	if reason == schema.DisarmNone {
		return fmt.Errorf("armstate disarm: reason must not be DisarmNone")
	}
	if err := s.db.PersistArmState(schema.ArmDisarmed, reason); err != nil {
		return fmt.Errorf("armstate disarm: %w", err)
	}
	s.removeFlagFile()
	return nil
}

func (s *Service) removeFlagFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flagPath != "" {
		_ = os.Remove(s.flagPath)
	}
	s.flagWritten = false
}

// CheckFlagFile maintains the externally observable flag file for an armed
// system and enforces its one-way kill semantics. While armed: if this
// process has not yet written the file (the arm may have happened in
// another process, e.g. the operator CLI), it is written now; once written,
// a subsequent deletion is treated as a host watchdog's kill signal and
// disarms the system. Returns true if a disarm was triggered. Re-creating
// the file by hand never clears a disarm: the database row is the
// authority, the file is only a mirror.
func (s *Service) CheckFlagFile() (bool, error) {
	s.mu.Lock()
	path, written := s.flagPath, s.flagWritten
	s.mu.Unlock()
	if path == "" {
		return false, nil
	}
	snap, err := s.db.LoadArmState()
	if err != nil {
		return false, fmt.Errorf("armstate check_flag_file: %w", err)
	}
	if snap == nil || snap.State != schema.ArmArmed {
		return false, nil
	}
	if !written {
		if err := s.writeFlagFile(); err != nil {
			return false, fmt.Errorf("armstate check_flag_file: %w", err)
		}
		return false, nil
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := s.Disarm(schema.DisarmManual); err != nil {
		return true, err
	}
	return true, nil
}

// CheckDeadman enforces the heartbeat deadman switch for a RUNNING run: if
// the run's last heartbeat is older than ttl (or was never recorded while
// RUNNING), the run is halted and the system disarmed in the same call.
func (s *Service) CheckDeadman(runID schema.RunID, ttl time.Duration) (expired bool, err error) {
	expired, err = s.db.EnforceDeadmanOrHalt(runID, ttl)
	if err != nil {
		return false, fmt.Errorf("armstate check_deadman: %w", err)
	}
	if expired {
		if derr := s.Disarm(schema.DisarmDeadmanHalt); derr != nil {
			return true, derr
		}
	}
	return expired, nil
}
