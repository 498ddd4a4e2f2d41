package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/schema"
)

func TestPaperSubmitAcceptsAndRejectsDuplicate(t *testing.T) {
	p := NewPaper()
	intent := schema.OrderIntent{IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy, Type: schema.OrderTypeMarket, Qty: 10}

	ack, err := p.Submit(intent, "coid-1")
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "paper-coid-1", ack.BrokerOrderID)

	_, err = p.Submit(intent, "coid-1")
	assert.Error(t, err)
}

func TestPaperCancelUnknownOrderIsRejected(t *testing.T) {
	p := NewPaper()
	ack, err := p.Cancel("ghost", "paper-ghost")
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
}

func TestPaperCancelKnownOrderSucceeds(t *testing.T) {
	p := NewPaper()
	intent := schema.OrderIntent{IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy, Type: schema.OrderTypeMarket, Qty: 10}
	_, err := p.Submit(intent, "coid-1")
	require.NoError(t, err)

	ack, err := p.Cancel("coid-1", "paper-coid-1")
	require.NoError(t, err)
	assert.True(t, ack.Accepted)

	_, ok := p.FillAtPrice("coid-1", 100, 1000)
	assert.False(t, ok)
}

func TestPaperCancelWrongBrokerOrderIDIsRejected(t *testing.T) {
	p := NewPaper()
	intent := schema.OrderIntent{IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy, Type: schema.OrderTypeMarket, Qty: 10}
	_, err := p.Submit(intent, "coid-1")
	require.NoError(t, err)

	ack, err := p.Cancel("coid-1", "wrong-broker-id")
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
}

func TestPaperReplaceKnownOrderRebooks(t *testing.T) {
	p := NewPaper()
	intent := schema.OrderIntent{IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy, Type: schema.OrderTypeMarket, Qty: 10}
	_, err := p.Submit(intent, "coid-1")
	require.NoError(t, err)

	newIntent := intent
	newIntent.Qty = 25
	ack, err := p.Replace("coid-1", "paper-coid-1", newIntent)
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.NotEqual(t, "paper-coid-1", ack.BrokerOrderID)

	fill, ok := p.FillAtPrice("coid-1", 101, 5000)
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(25), fill.Qty)
}

func TestPaperFillAtPriceConsumesOrder(t *testing.T) {
	p := NewPaper()
	intent := schema.OrderIntent{IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy, Type: schema.OrderTypeMarket, Qty: 10}
	_, err := p.Submit(intent, "coid-1")
	require.NoError(t, err)

	fill, ok := p.FillAtPrice("coid-1", 101, 5000)
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(10), fill.Qty)
	assert.Equal(t, schema.Price(101), fill.Price)

	_, ok = p.FillAtPrice("coid-1", 101, 5001)
	assert.False(t, ok)
}

func TestPaperSnapshotReflectsRestingOrders(t *testing.T) {
	p := NewPaper()
	intent := schema.OrderIntent{IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy, Type: schema.OrderTypeMarket, Qty: 10}
	_, err := p.Submit(intent, "coid-1")
	require.NoError(t, err)

	snap := p.Snapshot(1000)
	require.Len(t, snap, 1)
	assert.Equal(t, "AAPL", snap["coid-1"].Symbol)
}

func TestPaperFetchSnapshotEncodesWireShape(t *testing.T) {
	p := NewPaper()
	intent := schema.OrderIntent{
		IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy,
		Type: schema.OrderTypeLimit, Qty: 10_000_000, Price: 105_105_000,
	}
	_, err := p.Submit(intent, "MAIN-coid-1")
	require.NoError(t, err)

	capturedAt := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	ws := p.FetchSnapshot(capturedAt)
	assert.Equal(t, capturedAt, ws.CapturedAtUTC)
	require.Len(t, ws.Orders, 1)

	qty, err := schema.MoneyFromDecimal(ws.Orders[0].Qty)
	require.NoError(t, err)
	assert.Equal(t, schema.Money(10_000_000), qty)
	require.NotNil(t, ws.Orders[0].LimitPrice)
	limit, err := schema.MoneyFromDecimal(*ws.Orders[0].LimitPrice)
	require.NoError(t, err)
	assert.Equal(t, schema.Money(105_105_000), limit)

	// round-trips through the wire codec without loss
	data, err := ws.Encode()
	require.NoError(t, err)
	back, err := schema.DecodeBrokerSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, ws, back)
}
