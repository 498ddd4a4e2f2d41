package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/store"
)

// Dispatcher claims PENDING outbox rows and submits them to the broker,
// applying the resulting ack back into the gateway's order state machine.
// Grounded on mqk-db's outbox_claim_batch (FOR UPDATE SKIP LOCKED) contract:
// concurrent dispatcher instances never claim the same row, so Tick is safe
// to run from more than one process sharing a database.
type Dispatcher struct {
	id     string
	gw     *Gateway
	db     *store.Store
	broker Broker
}

// NewDispatcher creates a dispatcher with a stable instance id (used as the
// claimed_by column) over one gateway and its broker adapter.
func NewDispatcher(id string, gw *Gateway, broker Broker) *Dispatcher {
	return &Dispatcher{id: id, gw: gw, db: gw.db, broker: broker}
}

// Tick claims up to batchSize PENDING rows and submits each to the broker.
// A row whose submit errors is released back to PENDING for the next tick
// rather than marked FAILED, since a transport error carries no information
// about whether the broker actually received the order.
func (d *Dispatcher) Tick(batchSize int64) (dispatched int, err error) {
	rows, err := d.db.OutboxClaimBatch(batchSize, d.id)
	if err != nil {
		return 0, fmt.Errorf("dispatcher tick: %w", err)
	}
	for _, row := range rows {
		if err := d.dispatchOne(row); err != nil {
			if _, relErr := d.db.OutboxReleaseClaim(row.IdempotencyKey); relErr != nil {
				return dispatched, fmt.Errorf("dispatcher tick: release after failed dispatch: %w", relErr)
			}
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (d *Dispatcher) dispatchOne(row store.OutboxRow) error {
	var intent schema.OrderIntent
	if err := json.Unmarshal(row.OrderJSON, &intent); err != nil {
		return fmt.Errorf("dispatch_one: order_json unreadable: %w", err)
	}
	clientOrderID := schema.ClientOrderID(row.IdempotencyKey)

	ack, err := d.broker.Submit(intent, clientOrderID)
	if err != nil {
		return fmt.Errorf("dispatch_one: broker submit: %w", err)
	}

	if _, err := d.gw.state.ApplyAck(ack); err != nil {
		return fmt.Errorf("dispatch_one: %w", err)
	}

	if ack.Accepted {
		if err := d.db.BrokerMapUpsert(string(clientOrderID), ack.BrokerOrderID); err != nil {
			return fmt.Errorf("dispatch_one: %w", err)
		}
		if _, err := d.db.OutboxMarkSent(row.IdempotencyKey); err != nil {
			return fmt.Errorf("dispatch_one: %w", err)
		}
	} else {
		d.gw.risk.RecordReject(0)
		if _, err := d.db.OutboxMarkFailed(row.IdempotencyKey); err != nil {
			return fmt.Errorf("dispatch_one: %w", err)
		}
	}
	return nil
}
