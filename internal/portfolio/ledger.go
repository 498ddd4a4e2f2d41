// Package portfolio implements the FIFO lot ledger: cash, realized PnL,
// unrealized PnL from the last mark, and equity. Every mutation is rejected
// before it touches state if it would violate a ledger invariant (non-
// positive qty/price, negative fee, empty symbol); VerifyIntegrity replays
// the full entry log as an O(n) consistency check.
package portfolio

import (
	"fmt"
	"strings"

	"github.com/riskkernel/mqk/internal/schema"
)

// Lot is a single FIFO-queued purchase (or short) still open.
type Lot struct {
	Qty       schema.Quantity // signed: positive for long lots, negative for short lots
	CostPrice schema.Price    // per-unit cost basis
}

// entry is one logged ledger mutation, replayed by VerifyIntegrity.
type entry struct {
	seqNo uint64
	fill  *schema.Fill
	cash  *cashEntry
}

type cashEntry struct {
	amount schema.Money
	reason string
}

// Ledger is a single run's portfolio state.
type Ledger struct {
	InitialCash schema.Money

	lots     map[string][]Lot
	cash     schema.Money
	realized schema.Money

	lastSeqNo uint64
	entries   []entry
}

// New creates a ledger seeded with initialCash.
func New(initialCash schema.Money) *Ledger {
	return &Ledger{
		InitialCash: initialCash,
		lots:        make(map[string][]Lot),
		cash:        initialCash,
	}
}

// AppendFill validates and applies a single fill, consuming/opening FIFO
// lots and moving cash. seqNo must be strictly increasing across calls.
func (l *Ledger) AppendFill(seqNo uint64, fill schema.Fill) error {
	if err := validateFill(fill); err != nil {
		return err
	}
	if err := l.checkSeq(seqNo); err != nil {
		return err
	}

	qty := int64(fill.Qty)
	if fill.Side == schema.SideSell {
		qty = -qty
	}
	realized := l.applyToLots(fill.Symbol, qty, fill.Price)
	l.realized += realized

	notional := schema.Money(int64(fill.Price) * qty)
	l.cash -= notional
	l.cash -= fill.Fee

	l.lastSeqNo = seqNo
	fillCopy := fill
	l.entries = append(l.entries, entry{seqNo: seqNo, fill: &fillCopy})
	return nil
}

// AppendCash validates and applies a standalone cash movement (funding,
// withdrawal, dividend, interest). amount may be negative (a debit);
// reason must be non-empty so the audit trail always explains a cash move.
func (l *Ledger) AppendCash(seqNo uint64, amount schema.Money, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("cash entry reason must not be empty")
	}
	if err := l.checkSeq(seqNo); err != nil {
		return err
	}
	l.cash += amount
	l.lastSeqNo = seqNo
	l.entries = append(l.entries, entry{seqNo: seqNo, cash: &cashEntry{amount: amount, reason: reason}})
	return nil
}

func (l *Ledger) checkSeq(seqNo uint64) error {
	if len(l.entries) > 0 && seqNo <= l.lastSeqNo {
		return fmt.Errorf("seq_no must be strictly increasing: got %d, last was %d", seqNo, l.lastSeqNo)
	}
	return nil
}

func validateFill(fill schema.Fill) error {
	if fill.Qty <= 0 {
		return fmt.Errorf("fill qty must be > 0")
	}
	if fill.Price <= 0 {
		return fmt.Errorf("fill price must be > 0")
	}
	if fill.Fee < 0 {
		return fmt.Errorf("fill fee must be >= 0")
	}
	if strings.TrimSpace(fill.Symbol) == "" {
		return fmt.Errorf("fill symbol must not be empty")
	}
	if fill.Side != schema.SideBuy && fill.Side != schema.SideSell {
		return fmt.Errorf("fill side must be BUY or SELL")
	}
	return nil
}

// applyToLots consumes/opens FIFO lots for symbol by signed delta qty
// (positive=buy, negative=sell) at price, returning realized PnL from any
// lots closed in the process.
func (l *Ledger) applyToLots(symbol string, delta int64, price schema.Price) schema.Money {
	lots := l.lots[symbol]
	var realized schema.Money

	for delta != 0 && len(lots) > 0 {
		head := lots[0]
		headQty := int64(head.Qty)
		// A fill only closes lots when it moves opposite to the resting
		// lot's sign (a buy closes a short lot, a sell closes a long lot).
		if sameSign(delta, headQty) {
			break
		}
		closeQty := minAbs(delta, headQty)
		realized += schema.Money(closeQty) * schema.Money(int64(price)-int64(head.CostPrice)) * schema.Money(sign(headQty))

		if abs64(headQty) == closeQty {
			lots = lots[1:]
		} else {
			lots[0].Qty = schema.Quantity(headQty - closeQty*sign(headQty))
		}
		delta += closeQty * sign(headQty)
	}

	if delta != 0 {
		lots = append(lots, Lot{Qty: schema.Quantity(delta), CostPrice: price})
	}

	if len(lots) == 0 {
		delete(l.lots, symbol)
	} else {
		l.lots[symbol] = lots
	}
	return realized
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minAbs(a, b int64) int64 {
	aa, ab := abs64(a), abs64(b)
	if aa < ab {
		return aa
	}
	return ab
}

// PositionQty returns the signed open quantity for symbol (0 if flat).
func (l *Ledger) PositionQty(symbol string) schema.Quantity {
	var total int64
	for _, lot := range l.lots[symbol] {
		total += int64(lot.Qty)
	}
	return schema.Quantity(total)
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() schema.Money { return l.cash }

// RealizedPnL returns cumulative realized PnL.
func (l *Ledger) RealizedPnL() schema.Money { return l.realized }

// UnrealizedPnL returns unrealized PnL across all open lots given marks.
func (l *Ledger) UnrealizedPnL(marks map[string]schema.Price) schema.Money {
	var total schema.Money
	for symbol, lots := range l.lots {
		mark, ok := marks[symbol]
		if !ok {
			continue
		}
		for _, lot := range lots {
			total += schema.Money(int64(lot.Qty)) * schema.Money(int64(mark)-int64(lot.CostPrice))
		}
	}
	return total
}

// Equity returns cash + unrealized PnL against marks.
func (l *Ledger) Equity(marks map[string]schema.Price) schema.Money {
	return l.cash + l.UnrealizedPnL(marks)
}

// Snapshot is a point-in-time view of the ledger for persistence/audit.
type Snapshot struct {
	Cash         schema.Money
	RealizedPnL  schema.Money
	Positions    map[string]schema.Quantity
	LastSeqNo    uint64
}

// Snapshot captures the current ledger state.
func (l *Ledger) Snapshot() Snapshot {
	positions := make(map[string]schema.Quantity, len(l.lots))
	for symbol := range l.lots {
		positions[symbol] = l.PositionQty(symbol)
	}
	return Snapshot{
		Cash:        l.cash,
		RealizedPnL: l.realized,
		Positions:   positions,
		LastSeqNo:   l.lastSeqNo,
	}
}

// VerifyIntegrity recomputes the entire ledger from the logged entry list
// and compares it against current state: an O(n) replay check that the
// incremental application above never drifted from canonical full replay.
func (l *Ledger) VerifyIntegrity() error {
	replay := New(l.InitialCash)
	for _, e := range l.entries {
		var err error
		switch {
		case e.fill != nil:
			err = replay.appendFillUnchecked(e.seqNo, *e.fill)
		case e.cash != nil:
			err = replay.appendCashUnchecked(e.seqNo, e.cash.amount, e.cash.reason)
		}
		if err != nil {
			return fmt.Errorf("replay failed at seq %d: %w", e.seqNo, err)
		}
	}
	if replay.cash != l.cash {
		return fmt.Errorf("cash mismatch: replay=%d live=%d", replay.cash, l.cash)
	}
	if replay.realized != l.realized {
		return fmt.Errorf("realized pnl mismatch: replay=%d live=%d", replay.realized, l.realized)
	}
	for symbol, qty := range replay.allPositions() {
		if l.PositionQty(symbol) != qty {
			return fmt.Errorf("position mismatch for %s: replay=%d live=%d", symbol, qty, l.PositionQty(symbol))
		}
	}
	return nil
}

func (l *Ledger) allPositions() map[string]schema.Quantity {
	out := make(map[string]schema.Quantity, len(l.lots))
	for symbol := range l.lots {
		out[symbol] = l.PositionQty(symbol)
	}
	return out
}

// appendFillUnchecked/appendCashUnchecked skip the strictly-increasing seq
// guard during replay, since replay intentionally re-applies the original
// sequence numbers in original order.
func (l *Ledger) appendFillUnchecked(seqNo uint64, fill schema.Fill) error {
	if err := validateFill(fill); err != nil {
		return err
	}
	qty := int64(fill.Qty)
	if fill.Side == schema.SideSell {
		qty = -qty
	}
	l.realized += l.applyToLots(fill.Symbol, qty, fill.Price)
	l.cash -= schema.Money(int64(fill.Price) * qty)
	l.cash -= fill.Fee
	l.lastSeqNo = seqNo
	return nil
}

func (l *Ledger) appendCashUnchecked(seqNo uint64, amount schema.Money, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("cash entry reason must not be empty")
	}
	l.cash += amount
	l.lastSeqNo = seqNo
	return nil
}
