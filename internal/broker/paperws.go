package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/riskkernel/mqk/internal/schema"
	mqkws "github.com/riskkernel/mqk/pkg/websocket"
)

// wireMessage is the JSON envelope exchanged with a paper-trading server:
// requests submit, cancel, replace, or ask for a snapshot; the server
// answers with an ack or a snapshot, and unsolicited fill messages arrive
// asynchronously.
type wireMessage struct {
	Kind          string                 `json:"kind"` // "submit" | "cancel" | "replace" | "ack" | "fill" | "snapshot"
	ClientOrderID string                 `json:"client_order_id"`
	BrokerOrderID string                 `json:"broker_order_id,omitempty"`
	Intent        *schema.OrderIntent    `json:"intent,omitempty"`
	Ack           *schema.OrderAck       `json:"ack,omitempty"`
	Fill          *schema.Fill           `json:"fill,omitempty"`
	Snapshot      *schema.BrokerSnapshot `json:"snapshot,omitempty"`
}

// FillHandler is invoked for every unsolicited fill message the server
// pushes over the connection.
type FillHandler func(schema.Fill)

// PaperWS is a websocket-transported paper broker: the same request/ack
// shape as Paper, carried over github.com/gorilla/websocket to a paper-
// trading server process instead of simulated in-process, so the
// transport path (reconnect, outbound backpressure) can be exercised
// independently of fill logic. The outbound send queue adapts
// pkg/websocket's Writer/OutboundPool/BufferPool (originally built for a
// market-data consumer's high-throughput fan-out) down to this module's
// single-connection, request/response use: one writer goroutine, one
// queue, no topic routing. A dropped connection is retried with
// pkg/websocket's Backoff rather than surfaced to the caller, since a
// paper venue outage should look like elevated latency, not a broker
// error that could trip the risk engine's reject-storm kill switch.
type PaperWS struct {
	url     string
	conn    *gorillaws.Conn
	writer  *mqkws.Writer
	onFill  FillHandler
	backoff mqkws.Backoff

	mu       sync.Mutex
	pending  map[schema.ClientOrderID]chan schema.OrderAck
	snapshot chan schema.BrokerSnapshot

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// DialPaperWS connects to a paper-trading server at url and starts the
// read/write pumps. onFill is called from the reader goroutine for every
// pushed fill; callers must not block in it. If the connection drops, it
// is retried in the background with exponential backoff until Close.
func DialPaperWS(url string, onFill FillHandler) (*PaperWS, error) {
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("paperws dial: %w", err)
	}
	bufPool := mqkws.DefaultBufferPool()
	outPool := mqkws.NewOutboundPool(bufPool)
	writer := mqkws.NewWriter(outPool, 256, mqkws.OverflowBlock)
	writer.SetConnected(true)

	p := &PaperWS{
		url:     url,
		conn:    conn,
		writer:  writer,
		onFill:  onFill,
		backoff: mqkws.DefaultBackoff(),
		pending: make(map[schema.ClientOrderID]chan schema.OrderAck),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.writePump()
	go p.readPumpWithReconnect()
	return p, nil
}

// readPumpWithReconnect runs readPump until it exits, then reconnects with
// backoff unless Close was called. Each reconnect swaps the live conn
// under p.mu so writePump never observes a half-closed one.
func (p *PaperWS) readPumpWithReconnect() {
	attempt := 0
	for {
		p.readPump()
		select {
		case <-p.closed:
			close(p.done)
			return
		default:
		}
		attempt++
		time.Sleep(p.backoff.Next(attempt))
		conn, _, err := gorillaws.DefaultDialer.Dial(p.url, nil)
		if err != nil {
			continue
		}
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		attempt = 0
	}
}

func (p *PaperWS) writePump() {
	for {
		select {
		case <-p.done:
			return
		default:
		}
		frame, ok := p.writer.Next(doneContext(p.done))
		if !ok {
			return
		}
		msgType := gorillaws.TextMessage
		if frame.MsgType == mqkws.MessageBinary {
			msgType = gorillaws.BinaryMessage
		}
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		// A write error just means the reader will notice the same break
		// and trigger a reconnect; the frame is dropped rather than
		// retried, matching request()'s own timeout-based recovery.
		_ = conn.WriteMessage(msgType, frame.Buf)
		frame.Release()
	}
}

// readPump reads until the connection breaks, then returns so
// readPumpWithReconnect can redial. It never closes p.done itself.
func (p *PaperWS) readPump() {
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Kind {
		case "ack":
			if msg.Ack == nil {
				continue
			}
			p.deliverAck(*msg.Ack)
		case "fill":
			if msg.Fill == nil || p.onFill == nil {
				continue
			}
			p.onFill(*msg.Fill)
		case "snapshot":
			if msg.Snapshot == nil {
				continue
			}
			p.mu.Lock()
			ch := p.snapshot
			p.snapshot = nil
			p.mu.Unlock()
			if ch != nil {
				ch <- *msg.Snapshot
			}
		}
	}
}

func (p *PaperWS) deliverAck(ack schema.OrderAck) {
	p.mu.Lock()
	ch, ok := p.pending[ack.ClientOrderID]
	if ok {
		delete(p.pending, ack.ClientOrderID)
	}
	p.mu.Unlock()
	if ok {
		ch <- ack
	}
}

func (p *PaperWS) request(msg wireMessage, timeout time.Duration) (schema.OrderAck, error) {
	ch := make(chan schema.OrderAck, 1)
	p.mu.Lock()
	p.pending[schema.ClientOrderID(msg.ClientOrderID)] = ch
	p.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return schema.OrderAck{}, fmt.Errorf("paperws request: %w", err)
	}
	if !p.writer.Send(mqkws.MessageText, payload) {
		return schema.OrderAck{}, fmt.Errorf("paperws request: send queue closed")
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-time.After(timeout):
		return schema.OrderAck{}, fmt.Errorf("paperws request: timed out waiting for ack")
	case <-p.done:
		return schema.OrderAck{}, fmt.Errorf("paperws request: connection closed")
	}
}

// Submit sends a submit request and blocks for the server's ack.
func (p *PaperWS) Submit(intent schema.OrderIntent, clientOrderID schema.ClientOrderID) (schema.OrderAck, error) {
	return p.request(wireMessage{
		Kind:          "submit",
		ClientOrderID: string(clientOrderID),
		Intent:        &intent,
	}, 5*time.Second)
}

// Cancel sends a cancel request carrying the resolved broker order id and
// blocks for the server's ack.
func (p *PaperWS) Cancel(clientOrderID schema.ClientOrderID, brokerOrderID string) (schema.OrderAck, error) {
	return p.request(wireMessage{
		Kind:          "cancel",
		ClientOrderID: string(clientOrderID),
		BrokerOrderID: brokerOrderID,
	}, 5*time.Second)
}

// Replace sends a replace request carrying the resolved broker order id and
// the new intent, and blocks for the server's ack.
func (p *PaperWS) Replace(clientOrderID schema.ClientOrderID, brokerOrderID string, newIntent schema.OrderIntent) (schema.OrderAck, error) {
	return p.request(wireMessage{
		Kind:          "replace",
		ClientOrderID: string(clientOrderID),
		BrokerOrderID: brokerOrderID,
		Intent:        &newIntent,
	}, 5*time.Second)
}

// FetchSnapshot asks the server for its current broker snapshot and blocks
// for the response. One snapshot request may be outstanding at a time; a
// second call before the first resolves supersedes it (the earlier caller
// times out), which is acceptable because the reconcile tick is the only
// caller and runs serially.
func (p *PaperWS) FetchSnapshot(timeout time.Duration) (schema.BrokerSnapshot, error) {
	ch := make(chan schema.BrokerSnapshot, 1)
	p.mu.Lock()
	p.snapshot = ch
	p.mu.Unlock()

	payload, err := json.Marshal(wireMessage{Kind: "snapshot"})
	if err != nil {
		return schema.BrokerSnapshot{}, fmt.Errorf("paperws snapshot: %w", err)
	}
	if !p.writer.Send(mqkws.MessageText, payload) {
		return schema.BrokerSnapshot{}, fmt.Errorf("paperws snapshot: send queue closed")
	}

	select {
	case snap := <-ch:
		return snap, nil
	case <-time.After(timeout):
		return schema.BrokerSnapshot{}, fmt.Errorf("paperws snapshot: timed out waiting for response")
	case <-p.done:
		return schema.BrokerSnapshot{}, fmt.Errorf("paperws snapshot: connection closed")
	}
}

// Snapshot satisfies the orchestrator's SnapshotBroker shape by fetching
// the server's wire snapshot and reducing it to the resting-order map the
// reconcile tick compares against. A fetch failure returns an empty map:
// the snapshot watermark then sees a zero capture time and rejects the
// tick, so a flapping connection degrades to "no reconcile evidence"
// rather than a spurious clean.
func (p *PaperWS) Snapshot(fetchedAtMs int64) map[schema.ClientOrderID]schema.OrderIntent {
	ws, err := p.FetchSnapshot(5 * time.Second)
	if err != nil {
		return map[schema.ClientOrderID]schema.OrderIntent{}
	}
	out := make(map[schema.ClientOrderID]schema.OrderIntent, len(ws.Orders))
	for _, ord := range ws.Orders {
		qty, err := schema.MoneyFromDecimal(ord.Qty)
		if err != nil {
			continue
		}
		intent := schema.OrderIntent{
			Symbol: ord.Symbol,
			Side:   schema.OrderSide(ord.Side),
			Type:   schema.OrderType(ord.Type),
			Qty:    schema.Quantity(qty),
		}
		if ord.LimitPrice != nil {
			if price, err := schema.MoneyFromDecimal(*ord.LimitPrice); err == nil {
				intent.Price = schema.Price(price)
			}
		}
		if ord.StopPrice != nil {
			if price, err := schema.MoneyFromDecimal(*ord.StopPrice); err == nil {
				intent.StopPrice = schema.Price(price)
			}
		}
		out[schema.ClientOrderID(ord.ClientOrderID)] = intent
	}
	return out
}

// Close shuts down the connection and both pump goroutines, and stops any
// in-flight reconnect attempt from redialing.
func (p *PaperWS) Close() error {
	p.writer.SetConnected(false)
	p.closeOnce.Do(func() {
		close(p.closed)
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		_ = conn.Close()
	})
	return nil
}

func doneContext(done <-chan struct{}) stoppableContext {
	return stoppableContext{done: done}
}

// stoppableContext is the minimal context.Context needed by Writer.Next,
// avoiding a dependency on a full context.WithCancel for a channel this
// package already owns.
type stoppableContext struct{ done <-chan struct{} }

func (stoppableContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c stoppableContext) Done() <-chan struct{}     { return c.done }
func (stoppableContext) Err() error                  { return nil }
func (stoppableContext) Value(any) any               { return nil }
