package store

import (
	gormerrors "errors"
	"fmt"

	"gorm.io/gorm"
)

// BrokerMapUpsert persists (or updates) an internal_id -> broker_id mapping
// after a confirmed broker submit. Idempotent retries after a crash between
// submit and OutboxMarkSent safely overwrite rather than fail.
func (s *Store) BrokerMapUpsert(internalID, brokerID string) error {
	err := s.db.Exec(`
		insert into broker_order_map (internal_id, broker_id)
		values (?, ?)
		on conflict (internal_id) do update set broker_id = excluded.broker_id
	`, internalID, brokerID).Error
	if err != nil {
		return fmt.Errorf("broker_map_upsert: %w", err)
	}
	return nil
}

// BrokerMapRemove deletes a mapping once an order reaches a terminal state.
// Idempotent: a no-op if internalID is absent.
func (s *Store) BrokerMapRemove(internalID string) error {
	err := s.db.Exec(`delete from broker_order_map where internal_id = ?`, internalID).Error
	if err != nil {
		return fmt.Errorf("broker_map_remove: %w", err)
	}
	return nil
}

// BrokerMapLookup resolves a single internal_id to its persisted broker_id.
// Cancel/replace must call this rather than trust a caller-supplied order
// id: the persisted map is the only record of which broker order actually
// corresponds to a given client order id. ok is false if internalID has no
// live mapping (already terminal, or never submitted).
func (s *Store) BrokerMapLookup(internalID string) (brokerID string, ok bool, err error) {
	var row BrokerOrderMapRow
	err = s.db.Where("internal_id = ?", internalID).First(&row).Error
	if gormerrors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("broker_map_lookup: %w", err)
	}
	return row.BrokerID, true, nil
}

// BrokerMapLoad loads every live internal_id -> broker_id pair in
// registration order, for repopulating the in-memory map at daemon startup.
func (s *Store) BrokerMapLoad() ([]BrokerOrderMapRow, error) {
	var rows []BrokerOrderMapRow
	err := s.db.Order("registered_at_utc asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("broker_map_load: %w", err)
	}
	return rows, nil
}
