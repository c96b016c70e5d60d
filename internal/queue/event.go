// Package queue defines message payloads exchanged over the message broker
// together with the RabbitMQ publisher and the order audit consumer.
package queue

// Queue names.  Both queues are durable and carry persistent JSON messages.
const (
	OrderCompletedQueue = "order.completed"
	CartExpiredQueue    = "cart.expired"
)

// OrderCompletedEvent is published after a cart has been promoted to an
// order.  It carries enough information for downstream consumers to audit
// or notify without querying the primary database.
type OrderCompletedEvent struct {
	OrderID          uint64   `json:"order_id"`
	PaymentID        uint64   `json:"payment_id"`
	PaymentReference string   `json:"payment_reference"`
	PaymentMethod    string   `json:"payment_method"`
	CartID           uint64   `json:"cart_id"`
	UserID           uint64   `json:"user_id"`
	CustomerID       uint64   `json:"customer_id"`
	RaffleIDs        []uint64 `json:"raffle_ids"`
	TicketIDs        []uint64 `json:"ticket_ids"`
	TotalAmountCents uint64   `json:"total_amount_cents"`
	CompletedAt      string   `json:"completed_at"`
}

// CartExpiredEvent is published when the sweeper expires a cart.
type CartExpiredEvent struct {
	CartID    uint64   `json:"cart_id"`
	UserID    uint64   `json:"user_id"`
	TicketIDs []uint64 `json:"released_ticket_ids"`
	ExpiredAt string   `json:"expired_at"`
}
