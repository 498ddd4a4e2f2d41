// Package broker implements order adapters satisfying internal/gateway's
// Broker interface: Paper, an in-process simulator, and PaperWS, a
// websocket-transported variant of the same simulator for exercising the
// transport path independently of the fill logic.
package broker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/riskkernel/mqk/internal/schema"
)

// Paper is a deterministic in-process paper broker: every submit with a new
// client_order_id is accepted synchronously (no simulated rejects). The "always ack, rely on
// the upstream risk decision to reject" flow is generalized into a real
// Broker implementation independent of any particular gateway.
type Paper struct {
	mu     sync.Mutex
	orders map[schema.ClientOrderID]pendingOrder
}

type pendingOrder struct {
	intent        schema.OrderIntent
	leavesQty     schema.Quantity
	brokerOrderID string
}

// NewPaper creates an empty in-process paper broker.
func NewPaper() *Paper {
	return &Paper{orders: make(map[schema.ClientOrderID]pendingOrder)}
}

// Submit accepts every new client_order_id: the paper broker has no capital
// or venue constraints of its own. A client_order_id it already holds is
// refused with an error.
func (p *Paper) Submit(intent schema.OrderIntent, clientOrderID schema.ClientOrderID) (schema.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.orders[clientOrderID]; exists {
		return schema.OrderAck{}, fmt.Errorf("paper broker: duplicate client_order_id %s", clientOrderID)
	}
	brokerOrderID := "paper-" + string(clientOrderID)
	p.orders[clientOrderID] = pendingOrder{intent: intent, leavesQty: intent.Qty, brokerOrderID: brokerOrderID}
	return schema.OrderAck{
		ClientOrderID: clientOrderID,
		BrokerOrderID: brokerOrderID,
		Accepted:      true,
	}, nil
}

// Cancel removes a resting order. Accepted is false if the order is
// already gone (filled or previously canceled), or if brokerOrderID does
// not match the id this broker actually issued for clientOrderID.
func (p *Paper) Cancel(clientOrderID schema.ClientOrderID, brokerOrderID string) (schema.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientOrderID]
	if !ok || o.brokerOrderID != brokerOrderID {
		return schema.OrderAck{ClientOrderID: clientOrderID, Accepted: false, RejectReason: "unknown order"}, nil
	}
	delete(p.orders, clientOrderID)
	return schema.OrderAck{ClientOrderID: clientOrderID, Accepted: true}, nil
}

// Replace cancels the resting order at clientOrderID and re-books it under
// the same id with newIntent, the paper broker's equivalent of a native
// cancel/replace: no partial fill carries over, matching a full replace at
// most venues.
func (p *Paper) Replace(clientOrderID schema.ClientOrderID, brokerOrderID string, newIntent schema.OrderIntent) (schema.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientOrderID]
	if !ok || o.brokerOrderID != brokerOrderID {
		return schema.OrderAck{ClientOrderID: clientOrderID, Accepted: false, RejectReason: "unknown order"}, nil
	}
	newBrokerOrderID := "paper-" + string(clientOrderID) + "-r"
	p.orders[clientOrderID] = pendingOrder{intent: newIntent, leavesQty: newIntent.Qty, brokerOrderID: newBrokerOrderID}
	return schema.OrderAck{ClientOrderID: clientOrderID, BrokerOrderID: newBrokerOrderID, Accepted: true}, nil
}

// FillAtPrice simulates a full fill of a resting order at the given price,
// for use by a backtest/paper-trading driver that steps the book forward
// bar by bar. Returns ok=false if the order is not resting.
func (p *Paper) FillAtPrice(clientOrderID schema.ClientOrderID, price schema.Price, tsUTC int64) (schema.Fill, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientOrderID]
	if !ok {
		return schema.Fill{}, false
	}
	delete(p.orders, clientOrderID)
	return schema.Fill{
		BrokerMessageID: "paper-fill-" + string(clientOrderID),
		ClientOrderID:   clientOrderID,
		Symbol:          o.intent.Symbol,
		Side:            o.intent.Side,
		Qty:             o.leavesQty,
		Price:           price,
		TsUTC:           tsUTC,
	}, true
}

// FetchSnapshot renders the broker's current state in the snapshot wire
// format, with the supplied capture time as the monotonicity watermark.
// A paper venue holds no capital of its own and forgets orders the moment
// they fill, so the account section is zeroed and the fills/positions
// sections are empty: the engine's own ledger is the authority for both,
// and reconcile's comparison treats an empty broker position book against
// a flat local book as consistent. Orders are emitted in client_order_id
// order so two snapshots of the same book encode byte-identically.
func (p *Paper) FetchSnapshot(capturedAt time.Time) schema.BrokerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	orders := make([]schema.BrokerOrder, 0, len(ids))
	for _, id := range ids {
		o := p.orders[schema.ClientOrderID(id)]
		wire := schema.BrokerOrder{
			BrokerOrderID: o.brokerOrderID,
			ClientOrderID: id,
			Symbol:        o.intent.Symbol,
			Side:          string(o.intent.Side),
			Type:          string(o.intent.Type),
			Status:        "ACCEPTED",
			Qty:           schema.Money(o.leavesQty).String(),
			CreatedAtUTC:  capturedAt.UTC(),
		}
		if o.intent.Price > 0 {
			s := schema.Money(o.intent.Price).String()
			wire.LimitPrice = &s
		}
		if o.intent.StopPrice > 0 {
			s := schema.Money(o.intent.StopPrice).String()
			wire.StopPrice = &s
		}
		orders = append(orders, wire)
	}

	return schema.BrokerSnapshot{
		CapturedAtUTC: capturedAt.UTC(),
		Account:       schema.BrokerAccount{Equity: "0", Cash: "0", Currency: "USD"},
		Orders:        orders,
		Fills:         []schema.BrokerFill{},
		Positions:     []schema.BrokerPosition{},
	}
}

// Snapshot returns the broker's current resting orders (no positions), for
// internal/reconcile comparison against the engine's local view.
func (p *Paper) Snapshot(fetchedAtMs int64) (orders map[schema.ClientOrderID]schema.OrderIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[schema.ClientOrderID]schema.OrderIntent, len(p.orders))
	for id, o := range p.orders {
		out[id] = o.intent
	}
	return out
}
