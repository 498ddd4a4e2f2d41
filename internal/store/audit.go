package store

import (
	"fmt"

	"github.com/riskkernel/mqk/internal/audit"
)

// InsertAuditEvent persists the database copy of one audit log entry. The
// gateway/reconcile/armstate callers that also append to the on-disk JSONL
// writer call this with the same audit.Event value in the same logical
// operation, so disk and store never disagree about what was committed.
func (s *Store) InsertAuditEvent(ev audit.Event) error {
	row := AuditEventRow{
		EventID:  ev.EventID,
		RunID:    string(ev.RunID),
		TsUTC:    ev.TsUTC,
		Topic:    ev.Topic,
		Type:     ev.Type,
		Payload:  []byte(ev.Payload),
		HashPrev: ev.HashPrev,
		HashSelf: ev.HashSelf,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert_audit_event: %w", err)
	}
	return nil
}
