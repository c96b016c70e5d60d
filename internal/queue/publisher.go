package queue

import (
	"context"
	"encoding/json"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DefaultPublishTimeout bounds one Publish call, dial included.
const DefaultPublishTimeout = 3 * time.Second

// Publisher publishes domain events to RabbitMQ.  It dials the broker for
// every message, so it holds no connection state and is safe for
// concurrent use.  Errors are logged and returned so callers can ignore
// failures without interrupting the main request flow.
type Publisher struct {
	url     string
	log     *logrus.Logger
	timeout time.Duration
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *logrus.Logger) *Publisher {
	return &Publisher{url: url, log: log, timeout: DefaultPublishTimeout}
}

// PublishOrderCompleted publishes ev to the order.completed queue.
func (p *Publisher) PublishOrderCompleted(ctx context.Context, ev OrderCompletedEvent) error {
	return p.Publish(ctx, OrderCompletedQueue, ev)
}

// PublishCartExpired publishes ev to the cart.expired queue.
func (p *Publisher) PublishCartExpired(ctx context.Context, ev CartExpiredEvent) error {
	return p.Publish(ctx, CartExpiredQueue, ev)
}

// Publish marshals v as JSON and sends it as a persistent message to the
// named queue through the default exchange.  The queue is declared first.
// The whole exchange with the broker is bounded by the publish timeout.
func (p *Publisher) Publish(ctx context.Context, queue string, v interface{}) error {
	entry := p.log.WithContext(ctx).WithField("queue", queue)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(v)
	if err != nil {
		entry.WithError(err).Error("rabbitmq: marshal event failed")
		return err
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      dialContext(ctx),
	})
	if err != nil {
		entry.WithError(err).Error("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		entry.WithError(err).Error("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		entry.WithError(err).Error("rabbitmq: queue declare failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		entry.WithError(err).Error("rabbitmq: publish failed")
		return err
	}
	return nil
}

// dialContext dials under ctx and carries its deadline onto the socket so
// the AMQP handshake cannot outlive it.
func dialContext(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}
