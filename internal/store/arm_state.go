package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/riskkernel/mqk/internal/schema"
)

// PersistArmState upserts the singleton sys_arm_state row. reason is the
// DisarmReason variant name when state is DISARMED, empty when ARMED.
func (s *Store) PersistArmState(state schema.ArmValue, reason schema.DisarmReason) error {
	var reasonPtr *string
	if reason != schema.DisarmNone {
		r := string(reason)
		reasonPtr = &r
	}
	err := s.db.Exec(`
		insert into sys_arm_state (sentinel_id, state, reason, updated_at_utc)
		values (1, ?, ?, now())
		on conflict (sentinel_id) do update
			set state = excluded.state,
			    reason = excluded.reason,
			    updated_at_utc = excluded.updated_at_utc
	`, string(state), reasonPtr).Error
	if err != nil {
		return fmt.Errorf("persist_arm_state: %w", err)
	}
	return nil
}

// ArmStateSnapshot is the last persisted arm state.
type ArmStateSnapshot struct {
	State  schema.ArmValue
	Reason schema.DisarmReason
}

// LoadArmState loads the last persisted arm state. A nil return means no
// state has ever been persisted: callers must treat a fresh system as
// DISARMED/BootDefault, this kernel's boot-disarm-by-default policy, never
// ARMED.
func (s *Store) LoadArmState() (*ArmStateSnapshot, error) {
	var row ArmStateRow
	err := s.db.Where("sentinel_id = 1").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load_arm_state: %w", err)
	}
	reason := schema.DisarmNone
	if row.Reason != nil {
		reason = schema.DisarmReason(*row.Reason)
	}
	return &ArmStateSnapshot{State: schema.ArmValue(row.State), Reason: reason}, nil
}
