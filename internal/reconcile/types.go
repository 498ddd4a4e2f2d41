// Package reconcile implements deterministic, pure local/broker snapshot
// comparison, snapshot monotonicity, and the arm/start gate every LIVE
// transition must pass through. Grounded on mqk-reconcile/src/{types,engine,
// gate,watermark}.rs, translated to Go with sorted-slice determinism in
// place of Rust's BTreeMap/BTreeSet ordering.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/riskkernel/mqk/internal/schema"
)

// OrderStatus is the minimal order status model reconcile compares.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusAccepted        OrderStatus = "Accepted"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCanceled        OrderStatus = "Canceled"
	OrderStatusRejected        OrderStatus = "Rejected"
	OrderStatusUnknown         OrderStatus = "Unknown"
)

// OrderSnapshot is the shape compared between local and broker views; only
// fields that can cause drift are present.
type OrderSnapshot struct {
	OrderID   string
	Symbol    string
	Side      schema.OrderSide
	Qty       int64
	FilledQty int64
	Status    OrderStatus
}

// LocalSnapshot is the state the engine believes to be true.
type LocalSnapshot struct {
	Orders    map[string]OrderSnapshot
	Positions map[string]int64
}

// BrokerSnapshot is the state observed from the broker, plus the fetch
// timestamp the monotonicity watermark enforces.
type BrokerSnapshot struct {
	Orders      map[string]OrderSnapshot
	Positions   map[string]int64
	FetchedAtMs int64
}

// ReconcileAction is what the engine tells the runtime to do.
type ReconcileAction string

const (
	ActionClean ReconcileAction = "Clean"
	ActionHalt  ReconcileAction = "Halt"
)

// Reason classifies why reconcile halted. Stable ordering is enforced by
// Reconcile before the report is returned.
type Reason string

const (
	ReasonUnknownBrokerOrder Reason = "UnknownBrokerOrder"
	ReasonPositionMismatch   Reason = "PositionMismatch"
	ReasonOrderDrift         Reason = "OrderDrift"
)

// Diff is one piece of mismatch evidence.
type Diff struct {
	Kind      string // "UnknownOrder" | "PositionQtyMismatch" | "OrderMismatch"
	OrderID   string
	Symbol    string
	LocalQty  int64
	BrokerQty int64
	Field     string
	Local     string
	Broker    string
}

// Report is the full reconcile outcome.
type Report struct {
	Action  ReconcileAction
	Reasons []Reason
	Diffs   []Diff
}

// Clean builds an empty, passing report.
func Clean() Report {
	return Report{Action: ActionClean}
}

// IsClean reports whether the reconcile passed.
func (r Report) IsClean() bool { return r.Action == ActionClean }

// ResultHash is the checkpoint's result_hash: SHA-256 over the report's
// JSON encoding. Reasons and Diffs are already deterministically sorted by
// Reconcile, so equal outcomes hash equally across runs and processes.
func (r Report) ResultHash() string {
	data, err := json.Marshal(r)
	if err != nil {
		// Report is plain strings and ints; Marshal cannot fail on it.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
