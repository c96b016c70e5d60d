package queue

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBufferFull is returned when an event is dropped because the
// dispatcher is backed up.
var ErrBufferFull = errors.New("event buffer full")

const drainTimeout = 5 * time.Second

type envelope struct {
	queue string
	event interface{}
}

// Dispatcher decouples event producers from the broker: events are queued
// in a bounded buffer and published by a single worker, so a slow or
// unreachable broker never holds up a checkout or a sweep.  Delivery stays
// best effort; events that do not fit the buffer are dropped and logged.
type Dispatcher struct {
	pub    *Publisher
	log    *logrus.Logger
	events chan envelope
}

// NewDispatcher returns a Dispatcher buffering up to size events.
func NewDispatcher(pub *Publisher, size int, log *logrus.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{pub: pub, log: log, events: make(chan envelope, size)}
}

func (d *Dispatcher) PublishOrderCompleted(_ context.Context, ev OrderCompletedEvent) error {
	return d.enqueue(OrderCompletedQueue, ev)
}

func (d *Dispatcher) PublishCartExpired(_ context.Context, ev CartExpiredEvent) error {
	return d.enqueue(CartExpiredQueue, ev)
}

func (d *Dispatcher) enqueue(queue string, ev interface{}) error {
	select {
	case d.events <- envelope{queue: queue, event: ev}:
		return nil
	default:
		d.log.WithField("queue", queue).Warn("rabbitmq: event buffer full; event dropped")
		return ErrBufferFull
	}
}

// Run publishes queued events until ctx is cancelled.  Events still
// buffered at that point get one more drain bounded by drainTimeout.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case env := <-d.events:
			_ = d.pub.Publish(ctx, env.queue, env.event)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case env := <-d.events:
			if ctx.Err() != nil {
				d.log.WithField("dropped", len(d.events)+1).Warn("rabbitmq: shutdown drain timed out; events dropped")
				return
			}
			_ = d.pub.Publish(ctx, env.queue, env.event)
		default:
			return
		}
	}
}
