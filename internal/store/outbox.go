package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/riskkernel/mqk/internal/schema"
)

// OutboxEnqueue inserts an order intent into the outbox. Returns false
// without creating a second row if idempotencyKey already exists: restarts
// can never double-submit.
func (s *Store) OutboxEnqueue(runID schema.RunID, idempotencyKey string, orderJSON []byte) (bool, error) {
	res := s.db.Exec(`
		insert into oms_outbox (run_id, idempotency_key, order_json, status)
		values (?, ?, ?, 'PENDING')
		on conflict (idempotency_key) do nothing
	`, string(runID), idempotencyKey, orderJSON)
	if res.Error != nil {
		return false, fmt.Errorf("outbox_enqueue: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// OutboxClaimBatch atomically claims up to batchSize PENDING rows for
// exclusive dispatch via FOR UPDATE SKIP LOCKED, so concurrent dispatchers
// never claim the same row. The caller must follow up with
// OutboxMarkSent/OutboxMarkFailed/OutboxReleaseClaim.
func (s *Store) OutboxClaimBatch(batchSize int64, dispatcherID string) ([]OutboxRow, error) {
	var rows []OutboxRow
	err := s.db.Raw(`
		with to_claim as (
			select outbox_id
			from oms_outbox
			where status = 'PENDING'
			order by outbox_id asc
			limit ?
			for update skip locked
		)
		update oms_outbox
		   set status = 'CLAIMED',
		       claimed_at_utc = now(),
		       claimed_by = ?
		 where outbox_id in (select outbox_id from to_claim)
		returning outbox_id, run_id, idempotency_key, order_json, status,
		          created_at_utc, sent_at_utc, claimed_at_utc, claimed_by
	`, batchSize, dispatcherID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("outbox_claim_batch: %w", err)
	}
	return rows, nil
}

// OutboxReleaseClaim reverts a CLAIMED row back to PENDING, so a dispatcher
// that failed before broker submit relinquishes its claim for retry.
func (s *Store) OutboxReleaseClaim(idempotencyKey string) (bool, error) {
	res := s.db.Exec(`
		update oms_outbox
		   set status = 'PENDING', claimed_at_utc = null, claimed_by = null
		 where idempotency_key = ? and status = 'CLAIMED'
	`, idempotencyKey)
	if res.Error != nil {
		return false, fmt.Errorf("outbox_release_claim: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// OutboxFetchByIdempotencyKey loads a single outbox row.
func (s *Store) OutboxFetchByIdempotencyKey(idempotencyKey string) (*OutboxRow, error) {
	var row OutboxRow
	err := s.db.Where("idempotency_key = ?", idempotencyKey).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("outbox_fetch_by_idempotency_key: %w", err)
	}
	return &row, nil
}

// OutboxMarkSent transitions CLAIMED -> SENT. Only rows claimed via
// OutboxClaimBatch can be marked sent, preventing a rogue dispatcher from
// bypassing the claim/lock protocol.
func (s *Store) OutboxMarkSent(idempotencyKey string) (bool, error) {
	res := s.db.Exec(`
		update oms_outbox
		   set status = 'SENT', sent_at_utc = coalesce(sent_at_utc, now())
		 where idempotency_key = ? and status = 'CLAIMED'
	`, idempotencyKey)
	if res.Error != nil {
		return false, fmt.Errorf("outbox_mark_sent: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// OutboxMarkAcked transitions SENT -> ACKED, the outbox's terminal success
// state, reached once a fill closes the order the row submitted. Guarded
// on the current status like OutboxMarkSent/OutboxMarkFailed, so a stale
// or out-of-order ack can never pull a PENDING/CLAIMED/FAILED row into
// ACKED and break the status DAG.
func (s *Store) OutboxMarkAcked(idempotencyKey string) (bool, error) {
	res := s.db.Exec(`
		update oms_outbox set status = 'ACKED' where idempotency_key = ? and status = 'SENT'
	`, idempotencyKey)
	if res.Error != nil {
		return false, fmt.Errorf("outbox_mark_acked: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// OutboxMarkFailed transitions CLAIMED -> FAILED.
func (s *Store) OutboxMarkFailed(idempotencyKey string) (bool, error) {
	res := s.db.Exec(`
		update oms_outbox set status = 'FAILED' where idempotency_key = ? and status = 'CLAIMED'
	`, idempotencyKey)
	if res.Error != nil {
		return false, fmt.Errorf("outbox_mark_failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// OutboxListUnackedForRun lists every non-terminal (not ACKED) outbox row
// for a run, the minimal deterministic input to a reconcile pass.
func (s *Store) OutboxListUnackedForRun(runID schema.RunID) ([]OutboxRow, error) {
	var rows []OutboxRow
	err := s.db.Where("run_id = ? and status in ?", string(runID),
		[]string{"PENDING", "CLAIMED", "SENT", "FAILED"}).
		Order("outbox_id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("outbox_list_unacked_for_run: %w", err)
	}
	return rows, nil
}
