package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/riskkernel/mqk/internal/schema"
)

// ReconcileCheckpointWrite writes a checkpoint after a genuine reconcile
// pass. This is the only function that can satisfy ArmPreflight's reconcile
// gate; inserting an audit event with event_type=CLEAN never does.
func (s *Store) ReconcileCheckpointWrite(runID schema.RunID, verdict schema.ReconcileVerdict, snapshotWatermarkMs int64, resultHash string) error {
	row := ReconcileCheckpointRow{
		RunID:               string(runID),
		Verdict:             string(verdict),
		SnapshotWatermarkMs: snapshotWatermarkMs,
		ResultHash:          resultHash,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("reconcile_checkpoint_write: %w", err)
	}
	return nil
}

// ReconcileCheckpointLoadLatest loads the most recent checkpoint for a run,
// or nil if the reconcile engine has never written one.
func (s *Store) ReconcileCheckpointLoadLatest(runID schema.RunID) (*ReconcileCheckpointRow, error) {
	var row ReconcileCheckpointRow
	err := s.db.Where("run_id = ?", string(runID)).
		Order("created_at_utc desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile_checkpoint_load_latest: %w", err)
	}
	return &row, nil
}
