// Package bus provides the in-process, bounded, non-blocking event queue
// the orchestrator uses to decouple bar ingestion from strategy/gateway
// processing: a slow or wedged consumer must never make the producer block,
// since a blocked producer is indistinguishable from a stalled feed and
// would trip integrity's staleness latch for the wrong reason.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/riskkernel/mqk/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Topic names the kind of payload an Event carries, so a single queue can
// multiplex bars, fills, and acks through one ordered channel without a
// type switch on the payload itself.
type Topic string

const (
	TopicBar    Topic = "bar"
	TopicFill   Topic = "fill"
	TopicAck    Topic = "ack"
	TopicIntent Topic = "intent"
)

// Event is the unit passed through the in-memory bus. SeqNo is assigned by
// the publisher and is expected to be strictly increasing per topic; the
// queue itself does not enforce or depend on that, it only carries it
// through to the consumer for downstream ordering checks (e.g. the
// portfolio ledger's AppendFill).
type Event struct {
	Topic  Topic
	SeqNo  uint64
	TsUTC  int64
	Bar    schema.Bar
	Fill   schema.Fill
	Ack    schema.OrderAck
	Intent schema.OrderIntent
}

// Queue is a bounded, non-blocking event queue.
type Queue struct {
	ch     chan Event
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new events.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
