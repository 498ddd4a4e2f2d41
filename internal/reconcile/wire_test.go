package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/schema"
)

const snapshotJSON = `{
  "captured_at_utc": "2026-01-02T15:04:05Z",
  "account": {"equity": "100000.00", "cash": "95000.00", "currency": "USD"},
  "orders": [
    {"broker_order_id": "B1", "client_order_id": "MAIN-abc", "symbol": "AAPL",
     "side": "buy", "type": "LIMIT", "status": "partially_filled", "qty": "10",
     "limit_price": "105.10", "stop_price": null,
     "created_at_utc": "2026-01-02T15:00:00Z"},
    {"broker_order_id": "B2", "client_order_id": "EXP-zzz", "symbol": "AAPL",
     "side": "sell", "type": "MARKET", "status": "NEW", "qty": "3",
     "limit_price": null, "stop_price": null,
     "created_at_utc": "2026-01-02T15:00:00Z"}
  ],
  "fills": [
    {"broker_fill_id": "F1", "broker_order_id": "B1", "client_order_id": "MAIN-abc",
     "symbol": "AAPL", "side": "buy", "qty": "4", "price": "105.105", "fee": "0",
     "ts_utc": "2026-01-02T15:01:00Z"}
  ],
  "positions": [
    {"symbol": "AAPL", "qty": "4", "avg_price": "105.105"}
  ]
}`

func TestDecodeBrokerSnapshotParsesWireJSON(t *testing.T) {
	ws, err := schema.DecodeBrokerSnapshot([]byte(snapshotJSON))
	require.NoError(t, err)
	assert.Equal(t, "USD", ws.Account.Currency)
	require.Len(t, ws.Orders, 2)
	assert.Equal(t, "105.10", *ws.Orders[0].LimitPrice)
	require.Len(t, ws.Fills, 1)
	assert.Equal(t, "F1", ws.Fills[0].BrokerFillID)
}

func TestDecodeBrokerSnapshotRejectsMissingCaptureTime(t *testing.T) {
	_, err := schema.DecodeBrokerSnapshot([]byte(`{"account":{"equity":"1","cash":"1","currency":"USD"}}`))
	assert.Error(t, err)
}

func TestFromWireScopesOrdersByEnginePrefix(t *testing.T) {
	ws, err := schema.DecodeBrokerSnapshot([]byte(snapshotJSON))
	require.NoError(t, err)

	snap, err := FromWire(ws, "MAIN-")
	require.NoError(t, err)

	require.Len(t, snap.Orders, 1)
	ord := snap.Orders["MAIN-abc"]
	assert.Equal(t, schema.SideBuy, ord.Side)
	assert.Equal(t, int64(10_000_000), ord.Qty)
	assert.Equal(t, int64(4_000_000), ord.FilledQty) // summed from fills, not a wire field
	assert.Equal(t, OrderStatusPartiallyFilled, ord.Status)

	assert.Equal(t, int64(4_000_000), snap.Positions["AAPL"])
	assert.Equal(t, int64(1767366245000), snap.FetchedAtMs)
}

func TestFromWireEmptyPrefixKeepsEverything(t *testing.T) {
	ws, err := schema.DecodeBrokerSnapshot([]byte(snapshotJSON))
	require.NoError(t, err)

	snap, err := FromWire(ws, "")
	require.NoError(t, err)
	assert.Len(t, snap.Orders, 2)
}

func TestFromWireRejectsMalformedDecimalQty(t *testing.T) {
	ws := schema.BrokerSnapshot{
		Orders: []schema.BrokerOrder{{ClientOrderID: "MAIN-x", Qty: "not-a-number"}},
	}
	_, err := FromWire(ws, "")
	assert.Error(t, err)
}
