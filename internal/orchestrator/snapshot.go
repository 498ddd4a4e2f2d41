package orchestrator

import (
	"github.com/riskkernel/mqk/internal/gateway"
	"github.com/riskkernel/mqk/internal/reconcile"
	"github.com/riskkernel/mqk/internal/schema"
)

// orderStateToStatus translates the gateway's SENT/ACKED/... order model
// into reconcile's local-view OrderStatus. Every gateway.OrderState has a
// home here; a value falling through to the default would mean the two
// enums drifted out of sync.
func orderStateToStatus(s gateway.OrderState) reconcile.OrderStatus {
	switch s {
	case gateway.OrderStateSent:
		return reconcile.OrderStatusNew
	case gateway.OrderStateAcked:
		return reconcile.OrderStatusAccepted
	case gateway.OrderStatePartFilled:
		return reconcile.OrderStatusPartiallyFilled
	case gateway.OrderStateFilled:
		return reconcile.OrderStatusFilled
	case gateway.OrderStateCanceled:
		return reconcile.OrderStatusCanceled
	case gateway.OrderStateRejected:
		return reconcile.OrderStatusRejected
	default:
		return reconcile.OrderStatusUnknown
	}
}

// buildLocalSnapshot reflects the gateway's in-memory order book and the
// portfolio ledger's position view into reconcile's comparison shape. This
// is the engine's own belief about the world; buildBrokerSnapshot is the
// independently observed other half.
func (o *Orchestrator) buildLocalSnapshot() reconcile.LocalSnapshot {
	orders := make(map[string]reconcile.OrderSnapshot)
	for _, ord := range o.gw.State().AllOrders() {
		orders[string(ord.ClientOrderID)] = reconcile.OrderSnapshot{
			OrderID:   string(ord.ClientOrderID),
			Symbol:    ord.Symbol,
			Side:      ord.Side,
			Qty:       int64(ord.Qty),
			FilledQty: int64(ord.Qty) - int64(ord.LeavesQty),
			Status:    orderStateToStatus(ord.State),
		}
	}

	positions := make(map[string]int64)
	for symbol, qty := range o.ledger.Snapshot().Positions {
		positions[symbol] = int64(qty)
	}

	return reconcile.LocalSnapshot{Orders: orders, Positions: positions}
}

// buildBrokerSnapshot polls the broker adapter's own view of its resting
// orders. Only orders the broker itself still considers live are reported,
// since a broker snapshot by construction never lists a terminal order;
// reconcile.Reconcile treats "present locally but absent from broker" as
// consistent, whatever the local order's status.
func (o *Orchestrator) buildBrokerSnapshot() reconcile.BrokerSnapshot {
	fetchedAtMs := o.clock.Now().UnixNano() / 1_000_000
	brokerOrders := o.broker.Snapshot(fetchedAtMs)

	orders := make(map[string]reconcile.OrderSnapshot, len(brokerOrders))
	positions := make(map[string]int64)
	for clientOrderID, intent := range brokerOrders {
		orders[string(clientOrderID)] = reconcile.OrderSnapshot{
			OrderID:   string(clientOrderID),
			Symbol:    intent.Symbol,
			Side:      intent.Side,
			Qty:       int64(intent.Qty),
			FilledQty: 0,
			Status:    reconcile.OrderStatusAccepted,
		}
		positions[intent.Symbol] += qtySigned(intent.Side, intent.Qty)
	}

	return reconcile.BrokerSnapshot{Orders: orders, Positions: positions, FetchedAtMs: fetchedAtMs}
}

func qtySigned(side schema.OrderSide, qty schema.Quantity) int64 {
	if side == schema.SideSell {
		return -int64(qty)
	}
	return int64(qty)
}
