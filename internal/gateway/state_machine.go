// Package gateway is the single submission choke-point every order intent
// must pass through: it is the only caller-facing way for a strategy to
// reach a broker, and it reads every gate (arm-state, risk, integrity,
// reconcile) itself rather than trust a caller-supplied verdict. The
// ApplyIntent/ApplyAck/ApplyFill shape and Send/OnAck/OnFill/Reconnect
// pending-resend idiom are adapted from a uint64-keyed, ack-status-driven
// order model into this module's ClientOrderID-keyed, Accepted/RejectReason
// driven schema.OrderAck.
package gateway

import (
	"errors"

	"github.com/riskkernel/mqk/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// OrderState tracks one order's lifecycle inside the gateway.
type OrderState string

const (
	OrderStateSent       OrderState = "SENT"
	OrderStateAcked      OrderState = "ACKED"
	OrderStateRejected   OrderState = "REJECTED"
	OrderStatePartFilled OrderState = "PART_FILLED"
	OrderStateFilled     OrderState = "FILLED"
	OrderStateCanceled   OrderState = "CANCELED"
)

// Order is the gateway's view of one submitted intent.
type Order struct {
	IntentID      schema.IntentID
	ClientOrderID schema.ClientOrderID
	BrokerOrderID string
	Symbol        string
	Side          schema.OrderSide
	Qty           schema.Quantity
	LeavesQty     schema.Quantity
	State         OrderState
}

func isTerminal(state OrderState) bool {
	switch state {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// StateMachine tracks every order the gateway has sent, keyed by the
// client order id assigned at send time.
type StateMachine struct {
	orders map[schema.ClientOrderID]*Order
}

// NewStateMachine creates an empty order state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[schema.ClientOrderID]*Order)}
}

// Order returns the current order state.
func (m *StateMachine) Order(id schema.ClientOrderID) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// ApplyIntent registers a new order in SENT state under the given
// deterministic client order id.
func (m *StateMachine) ApplyIntent(clientOrderID schema.ClientOrderID, intent schema.OrderIntent) (*Order, error) {
	if clientOrderID == "" {
		return nil, ErrUnknownOrder
	}
	if _, ok := m.orders[clientOrderID]; ok {
		return nil, ErrDuplicateOrder
	}
	o := &Order{
		IntentID:      intent.IntentID,
		ClientOrderID: clientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		LeavesQty:     intent.Qty,
		State:         OrderStateSent,
	}
	m.orders[clientOrderID] = o
	return o, nil
}

// ApplyAck updates order state from the broker's synchronous ack/reject.
func (m *StateMachine) ApplyAck(ack schema.OrderAck) (*Order, error) {
	o, ok := m.orders[ack.ClientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if isTerminal(o.State) {
		return o, ErrInvalidTransition
	}
	if ack.Accepted {
		o.State = OrderStateAcked
		o.BrokerOrderID = ack.BrokerOrderID
	} else {
		o.State = OrderStateRejected
	}
	return o, nil
}

// ApplyFill updates order state from a broker fill report.
func (m *StateMachine) ApplyFill(fill schema.Fill) (*Order, error) {
	o, ok := m.orders[fill.ClientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if isTerminal(o.State) {
		return o, ErrInvalidTransition
	}
	qty := int64(fill.Qty)
	if qty <= 0 {
		return o, ErrInvalidFill
	}
	if o.LeavesQty == 0 && o.Qty > 0 {
		o.LeavesQty = o.Qty
	}
	leaves := int64(o.LeavesQty) - qty
	if leaves <= 0 {
		o.LeavesQty = 0
		o.State = OrderStateFilled
	} else {
		o.LeavesQty = schema.Quantity(leaves)
		o.State = OrderStatePartFilled
	}
	return o, nil
}

// ApplyCancelAck marks an order canceled.
func (m *StateMachine) ApplyCancelAck(clientOrderID schema.ClientOrderID) (*Order, error) {
	o, ok := m.orders[clientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if isTerminal(o.State) {
		return o, ErrInvalidTransition
	}
	o.State = OrderStateCanceled
	return o, nil
}

// Pending returns every order not yet in a terminal state, for
// resend-on-reconnect.
func (m *StateMachine) Pending() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		if !isTerminal(o.State) {
			out = append(out, o)
		}
	}
	return out
}

// AllOrders returns every order the gateway has ever sent in this process,
// terminal or not, for building a reconcile local snapshot.
func (m *StateMachine) AllOrders() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}
