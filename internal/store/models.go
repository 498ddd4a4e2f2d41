// Package store is the persistent store backing runs, the transactional
// outbox/inbox, the broker order id map, sticky arm-state, and reconcile
// checkpoints. Table shapes, state machine columns, and query semantics
// are grounded on mqk-db/src/lib.rs; connection management uses a
// gorm+postgres wrapper.
package store

import (
	"time"

	"gorm.io/datatypes"
)

// RunRow is the persisted run row. Status transitions are validated in
// runs.go, not by gorm hooks, so every transition is auditable and testable
// independent of the ORM.
type RunRow struct {
	RunID            string         `gorm:"column:run_id;type:uuid;primaryKey"`
	EngineID         string         `gorm:"column:engine_id;not null"`
	Mode             string         `gorm:"column:mode;not null;check:mode IN ('BACKTEST','PAPER','LIVE')"`
	StartedAtUTC     time.Time      `gorm:"column:started_at_utc;not null"`
	GitHash          string         `gorm:"column:git_hash;not null"`
	ConfigHash       string         `gorm:"column:config_hash;not null"`
	ConfigJSON       datatypes.JSON `gorm:"column:config_json;not null"`
	HostFingerprint  string         `gorm:"column:host_fingerprint;not null"`
	Status           string         `gorm:"column:status;not null;default:CREATED;check:status IN ('CREATED','ARMED','RUNNING','STOPPED','HALTED')"`
	ArmedAtUTC       *time.Time     `gorm:"column:armed_at_utc"`
	RunningAtUTC     *time.Time     `gorm:"column:running_at_utc"`
	StoppedAtUTC     *time.Time     `gorm:"column:stopped_at_utc"`
	HaltedAtUTC      *time.Time     `gorm:"column:halted_at_utc"`
	LastHeartbeatUTC *time.Time     `gorm:"column:last_heartbeat_utc"`
}

func (RunRow) TableName() string { return "runs" }

// OutboxRow is one transactional-outbox entry: an order intent awaiting
// dispatch to the broker, deduplicated on IdempotencyKey.
type OutboxRow struct {
	OutboxID       int64          `gorm:"column:outbox_id;primaryKey;autoIncrement"`
	RunID          string         `gorm:"column:run_id;type:uuid;not null"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null;uniqueIndex"`
	OrderJSON      datatypes.JSON `gorm:"column:order_json;not null"`
	Status         string         `gorm:"column:status;not null;default:PENDING;check:status IN ('PENDING','CLAIMED','SENT','ACKED','FAILED')"`
	CreatedAtUTC   time.Time      `gorm:"column:created_at_utc;not null;autoCreateTime"`
	SentAtUTC      *time.Time     `gorm:"column:sent_at_utc"`
	ClaimedAtUTC   *time.Time     `gorm:"column:claimed_at_utc"`
	ClaimedBy      *string        `gorm:"column:claimed_by"`
}

func (OutboxRow) TableName() string { return "oms_outbox" }

// InboxRow is one deduplicated broker message/fill, keyed on BrokerMessageID.
// AppliedAtUTC is nil until the portfolio apply step completes, so a crash
// between insert and apply surfaces the row for replay.
type InboxRow struct {
	InboxID         int64          `gorm:"column:inbox_id;primaryKey;autoIncrement"`
	RunID           string         `gorm:"column:run_id;type:uuid;not null"`
	BrokerMessageID string         `gorm:"column:broker_message_id;not null;uniqueIndex"`
	MessageJSON     datatypes.JSON `gorm:"column:message_json;not null"`
	ReceivedAtUTC   time.Time      `gorm:"column:received_at_utc;not null;autoCreateTime"`
	AppliedAtUTC    *time.Time     `gorm:"column:applied_at_utc"`
}

func (InboxRow) TableName() string { return "oms_inbox" }

// BrokerOrderMapRow maps our ClientOrderID to the broker's own order id, so
// cancel/replace can target the right order after a crash or restart.
type BrokerOrderMapRow struct {
	InternalID      string    `gorm:"column:internal_id;primaryKey"`
	BrokerID        string    `gorm:"column:broker_id;not null"`
	RegisteredAtUTC time.Time `gorm:"column:registered_at_utc;not null;autoCreateTime"`
}

func (BrokerOrderMapRow) TableName() string { return "broker_order_map" }

// ArmStateRow is the singleton sticky arm-state row.
type ArmStateRow struct {
	SentinelID   int       `gorm:"column:sentinel_id;primaryKey"`
	State        string    `gorm:"column:state;not null;check:state IN ('ARMED','DISARMED')"`
	Reason       *string   `gorm:"column:reason"`
	UpdatedAtUTC time.Time `gorm:"column:updated_at_utc;not null"`
}

func (ArmStateRow) TableName() string { return "sys_arm_state" }

// ReconcileCheckpointRow is a persisted reconcile verdict. arm_preflight
// reads only this table for reconcile cleanliness, never audit_events: a
// forged audit row with event_type=CLEAN must never satisfy arming.
type ReconcileCheckpointRow struct {
	CheckpointID        int64     `gorm:"column:checkpoint_id;primaryKey;autoIncrement"`
	RunID               string    `gorm:"column:run_id;type:uuid;not null"`
	Verdict             string    `gorm:"column:verdict;not null;check:verdict IN ('CLEAN','DIRTY')"`
	SnapshotWatermarkMs int64     `gorm:"column:snapshot_watermark_ms;not null"`
	ResultHash          string    `gorm:"column:result_hash;not null"`
	CreatedAtUTC        time.Time `gorm:"column:created_at_utc;not null;autoCreateTime"`
}

func (ReconcileCheckpointRow) TableName() string { return "sys_reconcile_checkpoint" }

// AuditEventRow mirrors internal/audit.Event for the database copy of the
// hash chain, committed to disk and store in the same logical operation.
type AuditEventRow struct {
	EventID  string         `gorm:"column:event_id;primaryKey"`
	RunID    string         `gorm:"column:run_id;type:uuid;not null"`
	TsUTC    int64          `gorm:"column:ts_utc;not null"`
	Topic    string         `gorm:"column:topic;not null"`
	Type     string         `gorm:"column:event_type;not null"`
	Payload  datatypes.JSON `gorm:"column:payload;not null"`
	HashPrev string         `gorm:"column:hash_prev"`
	HashSelf string         `gorm:"column:hash_self"`
}

func (AuditEventRow) TableName() string { return "audit_events" }

// AllModels lists every model AutoMigrate should manage.
func AllModels() []any {
	return []any{
		&RunRow{}, &OutboxRow{}, &InboxRow{}, &BrokerOrderMapRow{},
		&ArmStateRow{}, &ReconcileCheckpointRow{}, &AuditEventRow{},
	}
}
