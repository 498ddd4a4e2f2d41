package store

import (
	"encoding/json"
	"fmt"
	"time"

	gormerrors "errors"

	"gorm.io/gorm"

	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/ops"
	"github.com/riskkernel/mqk/internal/schema"
)

// NewRun is the insertion payload for a fresh run row; Status always starts
// CREATED.
type NewRun struct {
	RunID           schema.RunID
	EngineID        schema.EngineID
	Mode            schema.RunMode
	StartedAtUTC    time.Time
	GitHash         string
	ConfigHash      string
	Config          ops.Config
	HostFingerprint string
}

// InsertRun inserts a new run row in CREATED status.
func (s *Store) InsertRun(run NewRun) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	row := RunRow{
		RunID:           string(run.RunID),
		EngineID:        string(run.EngineID),
		Mode:            string(run.Mode),
		StartedAtUTC:    run.StartedAtUTC,
		GitHash:         run.GitHash,
		ConfigHash:      run.ConfigHash,
		ConfigJSON:      cfgJSON,
		HostFingerprint: run.HostFingerprint,
		Status:          string(schema.StatusCreated),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert_run: %w", err)
	}
	return nil
}

// FetchRun loads a run row by id.
func (s *Store) FetchRun(runID schema.RunID) (RunRow, error) {
	var row RunRow
	err := s.db.Where("run_id = ?", string(runID)).First(&row).Error
	if gormerrors.Is(err, gorm.ErrRecordNotFound) {
		return RunRow{}, mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf("run %s not found", runID))
	}
	if err != nil {
		return RunRow{}, fmt.Errorf("fetch_run: %w", err)
	}
	return row, nil
}

// AssertRunBinding verifies a run row is bound to (engine, mode,
// config_hash), so a gateway process can never submit orders against a run
// it was not configured for.
func (s *Store) AssertRunBinding(runID schema.RunID, engine schema.EngineID, mode schema.RunMode, configHash string) error {
	row, err := s.FetchRun(runID)
	if err != nil {
		return err
	}
	if row.EngineID != string(engine) {
		return mqkerrors.WithKind(mqkerrors.KindSecurityRefusal, fmt.Errorf("run binding mismatch: engine_id"))
	}
	if row.Mode != string(mode) {
		return mqkerrors.WithKind(mqkerrors.KindSecurityRefusal, fmt.Errorf("run binding mismatch: mode"))
	}
	if row.ConfigHash != configHash {
		return mqkerrors.WithKind(mqkerrors.KindSecurityRefusal, fmt.Errorf("run binding mismatch: config_hash"))
	}
	return nil
}

// ArmPreflight validates every arming safety invariant without mutating
// state or talking to the broker, then arms the run if every condition
// holds. Reconcile cleanliness is checked
// exclusively via sys_reconcile_checkpoint, never audit_events: a forged
// audit row can never satisfy this gate.
func (s *Store) ArmPreflight(runID schema.RunID) error {
	row, err := s.FetchRun(runID)
	if err != nil {
		return err
	}
	var cfg ops.Config
	if err := json.Unmarshal(row.ConfigJSON, &cfg); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindCorruption, fmt.Errorf("arm_preflight: config_json unreadable: %w", err))
	}
	isLive := row.Mode == string(schema.ModeLive)

	if isLive && cfg.Arm.RequireCleanReconcile {
		checkpoint, err := s.ReconcileCheckpointLoadLatest(schema.RunID(row.RunID))
		if err != nil {
			return err
		}
		// A blocked arm is a closed gate awaiting operator action, not
		// observed drift on a running engine, so these carry
		// PreconditionFailed (with the reconcile-dirty marker the operator
		// surface keys its exit code on) rather than ReconcileDirty, which
		// is reserved for the tick that disarms a live system.
		if checkpoint == nil {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"reconcile-dirty: no sys_reconcile_checkpoint row found for run"))
		}
		if checkpoint.Verdict != string(schema.ReconcileClean) {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"reconcile-dirty: latest checkpoint verdict=%q", checkpoint.Verdict))
		}
		age := time.Now().UTC().UnixMilli() - checkpoint.SnapshotWatermarkMs
		if age > cfg.Reconcile.FreshnessBound {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"reconcile-dirty: checkpoint watermark is %dms old, freshness bound is %dms",
				age, cfg.Reconcile.FreshnessBound))
		}
	}

	if isLive {
		if cfg.Risk.DailyLossLimit <= 0 {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"risk.daily_loss_limit is zero (must be > 0 for LIVE)"))
		}
		if cfg.Risk.MaxDrawdown <= 0 {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"risk.max_drawdown must be > 0 for LIVE"))
		}
	}

	if isLive && cfg.Arm.KillSwitchPolicies.Enabled {
		ksp := cfg.Arm.KillSwitchPolicies
		if ksp.StalePolicy == "" || ksp.StalePolicy == "IGNORE" {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"arm_preflight stale_policy must be set and not IGNORE for LIVE"))
		}
		if ksp.FeedDisagreementPolicy == "" || ksp.FeedDisagreementPolicy == "IGNORE" {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"arm_preflight feed_disagreement_policy must be set and not IGNORE for LIVE"))
		}
		if ksp.MaxRejectsPerWindow <= 0 {
			return mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, fmt.Errorf(
				"arm_preflight reject_storm.max_rejects must be > 0 for LIVE"))
		}
	}

	if err := cfg.BrokerCredentials.Validate(schema.EngineID(row.EngineID)); isLive && err != nil {
		return mqkerrors.WithKind(mqkerrors.KindSecurityRefusal, err)
	}

	return s.ArmRun(schema.RunID(row.RunID))
}

// ArmRun transitions CREATED/STOPPED -> ARMED.
func (s *Store) ArmRun(runID schema.RunID) error {
	row, err := s.FetchRun(runID)
	if err != nil {
		return err
	}
	status := schema.RunStatus(row.Status)
	if status != schema.StatusCreated && status != schema.StatusStopped {
		return mqkerrors.WithKind(mqkerrors.KindStateConflict, fmt.Errorf("arm_run invalid state: %s", row.Status))
	}
	now := time.Now().UTC()
	res := s.db.Model(&RunRow{}).Where("run_id = ?", string(runID)).Updates(map[string]any{
		"status":       string(schema.StatusArmed),
		"armed_at_utc": now,
	})
	if res.Error != nil {
		if uniqueViolation(res.Error, "uq_live_engine_active_run") {
			return mqkerrors.WithKind(mqkerrors.KindStateConflict, fmt.Errorf("unique active LIVE constraint"))
		}
		return fmt.Errorf("arm_run: %w", res.Error)
	}
	return nil
}

// BeginRun transitions ARMED -> RUNNING.
func (s *Store) BeginRun(runID schema.RunID) error {
	row, err := s.FetchRun(runID)
	if err != nil {
		return err
	}
	if schema.RunStatus(row.Status) != schema.StatusArmed {
		return mqkerrors.WithKind(mqkerrors.KindStateConflict, fmt.Errorf("begin_run invalid state: %s", row.Status))
	}
	now := time.Now().UTC()
	return s.db.Model(&RunRow{}).Where("run_id = ?", string(runID)).Updates(map[string]any{
		"status":         string(schema.StatusRunning),
		"running_at_utc": now,
	}).Error
}

// StopRun transitions ARMED/RUNNING -> STOPPED.
func (s *Store) StopRun(runID schema.RunID) error {
	row, err := s.FetchRun(runID)
	if err != nil {
		return err
	}
	status := schema.RunStatus(row.Status)
	if status != schema.StatusArmed && status != schema.StatusRunning {
		return mqkerrors.WithKind(mqkerrors.KindStateConflict, fmt.Errorf("stop_run invalid state: %s", row.Status))
	}
	now := time.Now().UTC()
	return s.db.Model(&RunRow{}).Where("run_id = ?", string(runID)).Updates(map[string]any{
		"status":         string(schema.StatusStopped),
		"stopped_at_utc": now,
	}).Error
}

// HaltRun transitions any status to HALTED, sticky and unconditional: a
// halt must always succeed regardless of current state.
func (s *Store) HaltRun(runID schema.RunID) error {
	now := time.Now().UTC()
	return s.db.Model(&RunRow{}).Where("run_id = ?", string(runID)).Updates(map[string]any{
		"status":        string(schema.StatusHalted),
		"halted_at_utc": now,
	}).Error
}

// HeartbeatRun stamps last_heartbeat_utc for a RUNNING run.
func (s *Store) HeartbeatRun(runID schema.RunID) error {
	row, err := s.FetchRun(runID)
	if err != nil {
		return err
	}
	if schema.RunStatus(row.Status) != schema.StatusRunning {
		return mqkerrors.WithKind(mqkerrors.KindStateConflict, fmt.Errorf("heartbeat_run invalid state: %s", row.Status))
	}
	now := time.Now().UTC()
	return s.db.Model(&RunRow{}).Where("run_id = ?", string(runID)).Update("last_heartbeat_utc", now).Error
}

// DeadmanExpired reports whether a RUNNING run's heartbeat is stale. A
// RUNNING run with no heartbeat at all is treated as expired.
func (s *Store) DeadmanExpired(runID schema.RunID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("deadman ttl must be > 0"))
	}
	row, err := s.FetchRun(runID)
	if err != nil {
		return false, err
	}
	if row.Status != string(schema.StatusRunning) {
		return false, nil
	}
	if row.LastHeartbeatUTC == nil {
		return true, nil
	}
	return time.Since(*row.LastHeartbeatUTC) > ttl, nil
}

// EnforceDeadmanOrHalt halts the run if its heartbeat is expired, returning
// whether a halt occurred.
func (s *Store) EnforceDeadmanOrHalt(runID schema.RunID, ttl time.Duration) (bool, error) {
	expired, err := s.DeadmanExpired(runID, ttl)
	if err != nil {
		return false, err
	}
	if !expired {
		return false, nil
	}
	row, err := s.FetchRun(runID)
	if err != nil {
		return false, err
	}
	if row.Status != string(schema.StatusRunning) {
		return false, nil
	}
	if err := s.HaltRun(runID); err != nil {
		return false, err
	}
	return true, nil
}

// CountActiveLiveRuns counts LIVE runs in ARMED or RUNNING status, used by
// operator tooling to refuse destructive operations against a live system.
func (s *Store) CountActiveLiveRuns() (int64, error) {
	var n int64
	err := s.db.Model(&RunRow{}).
		Where("mode = ? and status in ?", string(schema.ModeLive), []string{string(schema.StatusArmed), string(schema.StatusRunning)}).
		Count(&n).Error
	return n, err
}

// HasActiveLiveRuns is a convenience boolean wrapper over CountActiveLiveRuns.
func (s *Store) HasActiveLiveRuns() (bool, error) {
	n, err := s.CountActiveLiveRuns()
	return n > 0, err
}
