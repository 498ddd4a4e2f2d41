package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/schema"
)

// paperServer is a minimal in-process paper-trading server speaking the
// wireMessage protocol: every submit is acked and immediately filled in
// full, cancels are acked, and snapshot requests report a fixed resting
// order book.
func paperServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := gorillaws.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wireMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Kind {
			case "submit":
				if msg.Intent == nil {
					continue
				}
				writeMsg(conn, wireMessage{
					Kind:          "ack",
					ClientOrderID: msg.ClientOrderID,
					Ack: &schema.OrderAck{
						ClientOrderID: schema.ClientOrderID(msg.ClientOrderID),
						BrokerOrderID: "WSB-" + msg.ClientOrderID,
						Accepted:      true,
					},
				})
				writeMsg(conn, wireMessage{
					Kind: "fill",
					Fill: &schema.Fill{
						BrokerMessageID: "WSF-" + msg.ClientOrderID,
						ClientOrderID:   schema.ClientOrderID(msg.ClientOrderID),
						Symbol:          msg.Intent.Symbol,
						Side:            msg.Intent.Side,
						Qty:             msg.Intent.Qty,
						Price:           100_000_000,
						TsUTC:           1_000_000_000,
					},
				})
			case "cancel":
				writeMsg(conn, wireMessage{
					Kind:          "ack",
					ClientOrderID: msg.ClientOrderID,
					Ack: &schema.OrderAck{
						ClientOrderID: schema.ClientOrderID(msg.ClientOrderID),
						Accepted:      true,
					},
				})
			case "snapshot":
				limit := "105.105"
				writeMsg(conn, wireMessage{
					Kind: "snapshot",
					Snapshot: &schema.BrokerSnapshot{
						CapturedAtUTC: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
						Account:       schema.BrokerAccount{Equity: "0", Cash: "0", Currency: "USD"},
						Orders: []schema.BrokerOrder{{
							BrokerOrderID: "WSB-resting",
							ClientOrderID: "MAIN-resting",
							Symbol:        "AAPL",
							Side:          "BUY",
							Type:          "LIMIT",
							Status:        "ACCEPTED",
							Qty:           "10",
							LimitPrice:    &limit,
							CreatedAtUTC:  time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
						}},
						Fills:     []schema.BrokerFill{},
						Positions: []schema.BrokerPosition{},
					},
				})
			}
		}
	}))
}

func writeMsg(conn *gorillaws.Conn, msg wireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(gorillaws.TextMessage, data)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPaperWSSubmitAckAndPushedFill(t *testing.T) {
	srv := paperServer(t)
	defer srv.Close()

	fills := make(chan schema.Fill, 1)
	p, err := DialPaperWS(wsURL(srv), func(f schema.Fill) { fills <- f })
	require.NoError(t, err)
	defer p.Close()

	intent := schema.OrderIntent{
		IntentID: "i1", Symbol: "AAPL", Side: schema.SideBuy,
		Type: schema.OrderTypeMarket, Qty: 10,
	}
	ack, err := p.Submit(intent, "MAIN-c1")
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "WSB-MAIN-c1", ack.BrokerOrderID)

	select {
	case fill := <-fills:
		assert.Equal(t, "WSF-MAIN-c1", fill.BrokerMessageID)
		assert.Equal(t, schema.ClientOrderID("MAIN-c1"), fill.ClientOrderID)
		assert.Equal(t, schema.Quantity(10), fill.Qty)
	case <-time.After(5 * time.Second):
		t.Fatal("no fill pushed")
	}
}

func TestPaperWSCancelRoundTrip(t *testing.T) {
	srv := paperServer(t)
	defer srv.Close()

	p, err := DialPaperWS(wsURL(srv), nil)
	require.NoError(t, err)
	defer p.Close()

	ack, err := p.Cancel("MAIN-c2", "WSB-MAIN-c2")
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
}

func TestPaperWSFetchSnapshotAndBrokerView(t *testing.T) {
	srv := paperServer(t)
	defer srv.Close()

	p, err := DialPaperWS(wsURL(srv), nil)
	require.NoError(t, err)
	defer p.Close()

	ws, err := p.FetchSnapshot(5 * time.Second)
	require.NoError(t, err)
	require.Len(t, ws.Orders, 1)
	assert.Equal(t, "MAIN-resting", ws.Orders[0].ClientOrderID)

	view := p.Snapshot(ws.CapturedAtUTC.UnixMilli())
	require.Len(t, view, 1)
	resting := view["MAIN-resting"]
	assert.Equal(t, "AAPL", resting.Symbol)
	assert.Equal(t, schema.SideBuy, resting.Side)
	assert.Equal(t, schema.Quantity(10_000_000), resting.Qty)
	assert.Equal(t, schema.Price(105_105_000), resting.Price)
}

func TestPaperWSRequestTimesOutWithoutServerResponse(t *testing.T) {
	upgrader := gorillaws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return // swallow requests, never ack
			}
		}
	}))
	defer srv.Close()

	p, err := DialPaperWS(wsURL(srv), nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.request(wireMessage{Kind: "cancel", ClientOrderID: "MAIN-c3"}, 100*time.Millisecond)
	assert.Error(t, err)
}