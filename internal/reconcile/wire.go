package reconcile

import (
	"fmt"
	"strings"

	"github.com/riskkernel/mqk/internal/schema"
)

// FromWire converts a broker's wire snapshot into the comparison shape
// Reconcile consumes, scoped by client_order_id engine prefix: orders
// placed by other engines sharing the same brokerage account are not ours
// to reconcile and are dropped before the diff. An empty prefix keeps
// everything (single-engine accounts).
//
// Filled quantity is not a field on the wire order, so it is recomputed
// here by summing the snapshot's own fills per client_order_id: the two
// sections of one snapshot are internally consistent by construction, and
// deriving one from the other avoids trusting a redundant field that could
// drift.
//
// FetchedAtMs comes from captured_at_utc; a zero capture time maps to 0,
// which the snapshot watermark rejects, so a broker that omits the field
// fails closed rather than reconciling against an undated view.
func FromWire(ws schema.BrokerSnapshot, enginePrefix string) (BrokerSnapshot, error) {
	filled := make(map[string]int64)
	for _, f := range ws.Fills {
		if enginePrefix != "" && !strings.HasPrefix(f.ClientOrderID, enginePrefix) {
			continue
		}
		qty, err := schema.MoneyFromDecimal(f.Qty)
		if err != nil {
			return BrokerSnapshot{}, fmt.Errorf("broker fill %s: %w", f.BrokerFillID, err)
		}
		filled[f.ClientOrderID] += int64(qty)
	}

	orders := make(map[string]OrderSnapshot)
	for _, o := range ws.Orders {
		if enginePrefix != "" && !strings.HasPrefix(o.ClientOrderID, enginePrefix) {
			continue
		}
		qty, err := schema.MoneyFromDecimal(o.Qty)
		if err != nil {
			return BrokerSnapshot{}, fmt.Errorf("broker order %s: %w", o.ClientOrderID, err)
		}
		orders[o.ClientOrderID] = OrderSnapshot{
			OrderID:   o.ClientOrderID,
			Symbol:    o.Symbol,
			Side:      schema.OrderSide(strings.ToUpper(o.Side)),
			Qty:       int64(qty),
			FilledQty: filled[o.ClientOrderID],
			Status:    statusFromWire(o.Status),
		}
	}

	positions := make(map[string]int64)
	for _, p := range ws.Positions {
		qty, err := schema.MoneyFromDecimal(p.Qty)
		if err != nil {
			return BrokerSnapshot{}, fmt.Errorf("broker position %s: %w", p.Symbol, err)
		}
		positions[p.Symbol] += int64(qty)
	}

	var fetchedAtMs int64
	if !ws.CapturedAtUTC.IsZero() {
		fetchedAtMs = ws.CapturedAtUTC.UnixMilli()
	}

	return BrokerSnapshot{Orders: orders, Positions: positions, FetchedAtMs: fetchedAtMs}, nil
}

// statusFromWire maps the broker's status vocabulary onto the closed local
// OrderStatus set. Anything unrecognized becomes Unknown, which Reconcile
// treats as drift evidence rather than silently matching.
func statusFromWire(s string) OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return OrderStatusNew
	case "ACCEPTED", "OPEN", "WORKING":
		return OrderStatusAccepted
	case "PARTIALLY_FILLED", "PARTIAL":
		return OrderStatusPartiallyFilled
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return OrderStatusCanceled
	case "REJECTED":
		return OrderStatusRejected
	default:
		return OrderStatusUnknown
	}
}
