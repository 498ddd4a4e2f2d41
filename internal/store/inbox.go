package store

import (
	"fmt"

	"github.com/riskkernel/mqk/internal/schema"
)

// InboxInsertDeduped inserts a broker message/fill, deduplicated on
// brokerMessageID. Returns false without creating a second row if already
// present. Caller contract: on true, apply the fill to the portfolio then
// call InboxMarkApplied; a crash between insert and mark-applied leaves the
// row unstamped, and the startup replay over InboxLoadAllForRun applies and
// stamps it.
func (s *Store) InboxInsertDeduped(runID schema.RunID, brokerMessageID string, messageJSON []byte) (bool, error) {
	res := s.db.Exec(`
		insert into oms_inbox (run_id, broker_message_id, message_json)
		values (?, ?, ?)
		on conflict (broker_message_id) do nothing
	`, string(runID), brokerMessageID, messageJSON)
	if res.Error != nil {
		return false, fmt.Errorf("inbox_insert_deduped: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// InboxMarkApplied stamps applied_at_utc after a successful portfolio
// apply. Idempotent: a no-op if already stamped or the row is absent.
func (s *Store) InboxMarkApplied(brokerMessageID string) error {
	err := s.db.Exec(`
		update oms_inbox set applied_at_utc = now()
		where broker_message_id = ? and applied_at_utc is null
	`, brokerMessageID).Error
	if err != nil {
		return fmt.Errorf("inbox_mark_applied: %w", err)
	}
	return nil
}

// InboxLoadAllForRun loads every inbox row for a run in inbox_id ascending
// order. Inbox rows live forever as dedupe proof, so the table doubles as
// the run's complete fill journal: daemon startup replays it to rebuild the
// in-memory portfolio before processing anything new.
func (s *Store) InboxLoadAllForRun(runID schema.RunID) ([]InboxRow, error) {
	var rows []InboxRow
	err := s.db.Where("run_id = ?", string(runID)).
		Order("inbox_id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("inbox_load_all_for_run: %w", err)
	}
	return rows, nil
}

// InboxLoadUnappliedForRun loads inbox rows received but not yet applied,
// in inbox_id ascending order. Startup recovery does not call it: it
// replays every row through InboxLoadAllForRun.
func (s *Store) InboxLoadUnappliedForRun(runID schema.RunID) ([]InboxRow, error) {
	var rows []InboxRow
	err := s.db.Where("run_id = ? and applied_at_utc is null", string(runID)).
		Order("inbox_id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("inbox_load_unapplied_for_run: %w", err)
	}
	return rows, nil
}
