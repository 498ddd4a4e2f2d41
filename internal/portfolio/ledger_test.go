package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/schema"
)

func buyFill(symbol string, qty schema.Quantity, price schema.Price) schema.Fill {
	return schema.Fill{Symbol: symbol, Side: schema.SideBuy, Qty: qty, Price: price}
}

func sellFill(symbol string, qty schema.Quantity, price schema.Price) schema.Fill {
	return schema.Fill{Symbol: symbol, Side: schema.SideSell, Qty: qty, Price: price}
}

func TestRejectsZeroQty(t *testing.T) {
	l := New(1_000_000)
	err := l.AppendFill(1, schema.Fill{Symbol: "AAPL", Side: schema.SideBuy, Qty: 0, Price: 100})
	assert.Error(t, err)
}

func TestRejectsNegativePrice(t *testing.T) {
	l := New(1_000_000)
	err := l.AppendFill(1, schema.Fill{Symbol: "AAPL", Side: schema.SideBuy, Qty: 10, Price: -1})
	assert.Error(t, err)
}

func TestRejectsNegativeFee(t *testing.T) {
	l := New(1_000_000)
	f := buyFill("AAPL", 10, 100)
	f.Fee = -1
	assert.Error(t, l.AppendFill(1, f))
}

func TestRejectsEmptySymbol(t *testing.T) {
	l := New(1_000_000)
	assert.Error(t, l.AppendFill(1, buyFill("", 10, 100)))
}

func TestSeqNoMustBeStrictlyIncreasing(t *testing.T) {
	l := New(1_000_000)
	require.NoError(t, l.AppendFill(5, buyFill("AAPL", 10, 100)))
	assert.Error(t, l.AppendFill(5, buyFill("AAPL", 10, 100)))
	assert.Error(t, l.AppendFill(4, buyFill("AAPL", 10, 100)))
}

func TestBuyThenSellRealizedPnl(t *testing.T) {
	l := New(1_000_000)
	require.NoError(t, l.AppendFill(1, buyFill("AAPL", 10, 100)))
	require.NoError(t, l.AppendFill(2, sellFill("AAPL", 10, 110)))

	assert.Equal(t, schema.Money(100), l.RealizedPnL())
	assert.Equal(t, schema.Quantity(0), l.PositionQty("AAPL"))
}

func TestPartialSellLeavesOpenPosition(t *testing.T) {
	l := New(1_000_000)
	require.NoError(t, l.AppendFill(1, buyFill("AAPL", 10, 100)))
	require.NoError(t, l.AppendFill(2, sellFill("AAPL", 4, 110)))

	assert.Equal(t, schema.Quantity(6), l.PositionQty("AAPL"))
	assert.Equal(t, schema.Money(40), l.RealizedPnL())
}

func TestFeesReduceCash(t *testing.T) {
	l := New(1_000_000)
	f := buyFill("AAPL", 10, 100)
	f.Fee = 5
	require.NoError(t, l.AppendFill(1, f))
	assert.Equal(t, schema.Money(1_000_000-1_000-5), l.Cash())
}

func TestCashCreditIncreasesBalance(t *testing.T) {
	l := New(1_000_000)
	require.NoError(t, l.AppendCash(1, 500, "funding"))
	assert.Equal(t, schema.Money(1_000_500), l.Cash())
}

func TestCashEntryRequiresReason(t *testing.T) {
	l := New(1_000_000)
	assert.Error(t, l.AppendCash(1, 500, ""))
}

func TestUnrealizedPnlLongPosition(t *testing.T) {
	l := New(1_000_000)
	require.NoError(t, l.AppendFill(1, buyFill("AAPL", 10, 100)))
	marks := map[string]schema.Price{"AAPL": 120}
	assert.Equal(t, schema.Money(200), l.UnrealizedPnL(marks))
}

func TestVerifyIntegrityPassesAfterNormalOperations(t *testing.T) {
	l := New(1_000_000)
	require.NoError(t, l.AppendFill(1, buyFill("AAPL", 10, 100)))
	require.NoError(t, l.AppendFill(2, sellFill("AAPL", 4, 110)))
	require.NoError(t, l.AppendCash(3, -200, "withdrawal"))
	assert.NoError(t, l.VerifyIntegrity())
}

func TestFreshLedgerIsFlatAndConsistent(t *testing.T) {
	l := New(1_000_000)
	assert.Equal(t, schema.Quantity(0), l.PositionQty("AAPL"))
	assert.Equal(t, schema.Money(1_000_000), l.Cash())
	assert.NoError(t, l.VerifyIntegrity())
}
