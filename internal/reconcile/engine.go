package reconcile

import "sort"

// Reconcile deterministically compares local and broker snapshots:
// an unknown broker order, any order-field drift on ids present on both
// sides, or any position quantity mismatch all trigger HALT. A local order
// missing from the broker snapshot is deliberately NOT treated as drift, to
// avoid false halts from broker retention windows.
func Reconcile(local LocalSnapshot, broker BrokerSnapshot) Report {
	var reasons []Reason
	var diffs []Diff
	seen := map[Reason]bool{}
	pushReason := func(r Reason) {
		if !seen[r] {
			seen[r] = true
			reasons = append(reasons, r)
		}
	}

	for orderID := range broker.Orders {
		if _, ok := local.Orders[orderID]; !ok {
			diffs = append(diffs, Diff{Kind: "UnknownOrder", OrderID: orderID})
			pushReason(ReasonUnknownBrokerOrder)
		}
	}

	for orderID, localOrd := range local.Orders {
		if brokerOrd, ok := broker.Orders[orderID]; ok {
			compareOrders(orderID, localOrd, brokerOrd, &diffs, pushReason)
		}
	}

	symbols := map[string]bool{}
	for s := range local.Positions {
		symbols[s] = true
	}
	for s := range broker.Positions {
		symbols[s] = true
	}
	sortedSymbols := make([]string, 0, len(symbols))
	for s := range symbols {
		sortedSymbols = append(sortedSymbols, s)
	}
	sort.Strings(sortedSymbols)

	for _, sym := range sortedSymbols {
		lq := local.Positions[sym]
		bq := broker.Positions[sym]
		if lq != bq {
			diffs = append(diffs, Diff{Kind: "PositionQtyMismatch", Symbol: sym, LocalQty: lq, BrokerQty: bq})
			pushReason(ReasonPositionMismatch)
		}
	}

	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	sort.Slice(diffs, func(i, j int) bool { return diffLess(diffs[i], diffs[j]) })

	if len(reasons) == 0 {
		return Clean()
	}
	return Report{Action: ActionHalt, Reasons: reasons, Diffs: diffs}
}

func compareOrders(orderID string, local, broker OrderSnapshot, diffs *[]Diff, pushReason func(Reason)) {
	add := func(field, localVal, brokerVal string) {
		*diffs = append(*diffs, Diff{Kind: "OrderMismatch", OrderID: orderID, Field: field, Local: localVal, Broker: brokerVal})
		pushReason(ReasonOrderDrift)
	}
	if local.Symbol != broker.Symbol {
		add("symbol", local.Symbol, broker.Symbol)
	}
	if local.Side != broker.Side {
		add("side", string(local.Side), string(broker.Side))
	}
	if local.Qty != broker.Qty {
		add("qty", itoa64(local.Qty), itoa64(broker.Qty))
	}
	if local.FilledQty != broker.FilledQty {
		add("filled_qty", itoa64(local.FilledQty), itoa64(broker.FilledQty))
	}
	if local.Status != broker.Status {
		add("status", string(local.Status), string(broker.Status))
	}
}

// IsCleanReconcile is the gate for LIVE arming: reconcile must be clean.
func IsCleanReconcile(local LocalSnapshot, broker BrokerSnapshot) bool {
	return Reconcile(local, broker).IsClean()
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func diffLess(a, b Diff) bool {
	if a.Kind != b.Kind {
		// Kinds sort in the order Diff.Kind lists them, not alphabetically.
		rank := func(kind string) int {
			switch kind {
			case "UnknownOrder":
				return 0
			case "PositionQtyMismatch":
				return 1
			}
			return 2
		}
		return rank(a.Kind) < rank(b.Kind)
	}
	if a.OrderID != b.OrderID {
		return a.OrderID < b.OrderID
	}
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	return a.Field < b.Field
}
