package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/riskkernel/mqk/internal/gateway"
	"github.com/riskkernel/mqk/internal/schema"
)

// WireSnapshotter is the optional broker capability RecoverOnBoot uses to
// resolve crash-stranded CLAIMED outbox rows: a broker that can report its
// own resting orders with their broker-assigned ids. Kept as a narrowing
// interface like the FillAtPrice one in orchestrator.go, since not every
// adapter supports it.
type WireSnapshotter interface {
	FetchSnapshot(capturedAt time.Time) schema.BrokerSnapshot
}

// RecoverOnBoot rebuilds this process's in-memory state from the durable
// tables and resolves crash ambiguity, in order:
//
//  1. The gateway order state machine is rebuilt from non-terminal outbox
//     rows (an in-memory map does not survive a restart; the outbox does).
//  2. CLAIMED rows (a crash between broker submit and map upsert) are
//     reconciled against the broker's own view: if the broker knows the
//     client order id, the submit happened, so the map is upserted and the
//     row advances to SENT without ever re-submitting; if the broker does
//     not, the submit never happened and the claim is released back to
//     PENDING for the dispatcher. A broker that cannot report its view
//     leaves the row CLAIMED, the fail-safe direction.
//  3. The portfolio ledger is rebuilt by replaying the run's full inbox
//     journal in inbox_id order; rows whose applied_at is still null (a
//     crash between insert and apply) get stamped as part of the replay.
//
// Call before Run, never concurrently with it.
func (o *Orchestrator) RecoverOnBoot() error {
	if err := o.recoverOutbox(); err != nil {
		return err
	}
	return o.replayInbox()
}

func (o *Orchestrator) recoverOutbox() error {
	rows, err := o.db.OutboxListUnackedForRun(o.cfg.RunID)
	if err != nil {
		return fmt.Errorf("recover outbox: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	var brokerView map[schema.ClientOrderID]string // client order id -> broker order id
	if ws, ok := o.broker.(WireSnapshotter); ok {
		snap := ws.FetchSnapshot(o.clock.Now())
		brokerView = make(map[schema.ClientOrderID]string, len(snap.Orders))
		for _, ord := range snap.Orders {
			brokerView[schema.ClientOrderID(ord.ClientOrderID)] = ord.BrokerOrderID
		}
	}

	for _, row := range rows {
		var intent schema.OrderIntent
		if err := json.Unmarshal(row.OrderJSON, &intent); err != nil {
			return fmt.Errorf("recover outbox: order_json unreadable for %s: %w", row.IdempotencyKey, err)
		}
		clientOrderID := schema.ClientOrderID(row.IdempotencyKey)
		if _, err := o.gw.State().ApplyIntent(clientOrderID, intent); err != nil {
			return fmt.Errorf("recover outbox: %s: %w", clientOrderID, err)
		}

		switch schema.OutboxStatus(row.Status) {
		case schema.OutboxSent:
			brokerOrderID, ok, err := o.db.BrokerMapLookup(row.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("recover outbox: %w", err)
			}
			if ok {
				if _, err := o.gw.State().ApplyAck(schema.OrderAck{ClientOrderID: clientOrderID, BrokerOrderID: brokerOrderID, Accepted: true}); err != nil {
					return fmt.Errorf("recover outbox: %s: %w", clientOrderID, err)
				}
			}
		case schema.OutboxFailed:
			if _, err := o.gw.State().ApplyAck(schema.OrderAck{ClientOrderID: clientOrderID, Accepted: false, RejectReason: "broker rejected"}); err != nil {
				return fmt.Errorf("recover outbox: %s: %w", clientOrderID, err)
			}
		case schema.OutboxClaimed:
			if brokerView == nil {
				continue // no broker view: leave CLAIMED for the reconcile tick
			}
			brokerOrderID, present := brokerView[clientOrderID]
			if present {
				if err := o.db.BrokerMapUpsert(row.IdempotencyKey, brokerOrderID); err != nil {
					return fmt.Errorf("recover outbox: %w", err)
				}
				if _, err := o.db.OutboxMarkSent(row.IdempotencyKey); err != nil {
					return fmt.Errorf("recover outbox: %w", err)
				}
				if _, err := o.gw.State().ApplyAck(schema.OrderAck{ClientOrderID: clientOrderID, BrokerOrderID: brokerOrderID, Accepted: true}); err != nil {
					return fmt.Errorf("recover outbox: %s: %w", clientOrderID, err)
				}
			} else {
				if _, err := o.db.OutboxReleaseClaim(row.IdempotencyKey); err != nil {
					return fmt.Errorf("recover outbox: %w", err)
				}
			}
		}
	}
	return nil
}

func (o *Orchestrator) replayInbox() error {
	rows, err := o.db.InboxLoadAllForRun(o.cfg.RunID)
	if err != nil {
		return fmt.Errorf("replay inbox: %w", err)
	}
	for _, row := range rows {
		var fill schema.Fill
		if err := json.Unmarshal(row.MessageJSON, &fill); err != nil {
			return fmt.Errorf("replay inbox: message_json unreadable for %s: %w", row.BrokerMessageID, err)
		}

		// The order may already be terminal (its outbox row is ACKED and no
		// longer listed), so an unknown-order result here is expected, not
		// drift; the ledger replay below is what actually rebuilds state.
		if _, err := o.gw.State().ApplyFill(fill); err != nil && err != gateway.ErrUnknownOrder {
			return fmt.Errorf("replay inbox: %s: %w", row.BrokerMessageID, err)
		}

		o.seqNo++
		if err := o.ledger.AppendFill(o.seqNo, fill); err != nil {
			return fmt.Errorf("replay inbox: %s: %w", row.BrokerMessageID, err)
		}
		o.lastPrices[fill.Symbol] = fill.Price

		if row.AppliedAtUTC == nil {
			if err := o.db.InboxMarkApplied(row.BrokerMessageID); err != nil {
				return fmt.Errorf("replay inbox: %w", err)
			}
		}
	}
	return nil
}
