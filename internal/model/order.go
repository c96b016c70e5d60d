package model

import "time"

// OrderStatus is the state of an order produced from a cart.
type OrderStatus string

const (
    OrderCompleted OrderStatus = "COMPLETED"
    OrderVoided    OrderStatus = "VOIDED"
)

// PaymentMethod enumerates how a customer paid for an order.
type PaymentMethod string

const (
    PaymentCash     PaymentMethod = "CASH"
    PaymentCard     PaymentMethod = "CARD"
    PaymentTransfer PaymentMethod = "TRANSFER"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
    switch m {
    case PaymentCash, PaymentCard, PaymentTransfer:
        return true
    }
    return false
}

// Order records a promoted cart.  It is created by the order finalizer
// together with a Payment.
type Order struct {
    ID               uint64      `json:"id"`                 // orders.id
    CartID           uint64      `json:"cart_id"`            // orders.cart_id
    UserID           uint64      `json:"user_id"`            // orders.user_id
    CustomerID       uint64      `json:"customer_id"`        // orders.customer_id
    TotalAmountCents uint64      `json:"total_amount_cents"` // orders.total_amount_cents
    Status           OrderStatus `json:"status"`             // orders.status
    CreatedAt        time.Time   `json:"created_at"`         // orders.created_at
}

// Payment is the payment record attached to an order.
type Payment struct {
    ID          uint64        `json:"id"`           // payments.id
    OrderID     uint64        `json:"order_id"`     // payments.order_id
    Method      PaymentMethod `json:"method"`       // payments.method
    AmountCents uint64        `json:"amount_cents"` // payments.amount_cents
    Reference   string        `json:"reference"`    // payments.reference
    CreatedAt   time.Time     `json:"created_at"`   // payments.created_at
}

// OrderHandoff is what a cart hands to the order finalizer on promotion.
type OrderHandoff struct {
    CartID           uint64        `json:"cart_id"`
    UserID           uint64        `json:"user_id"`
    CustomerID       uint64        `json:"customer_id"`
    TicketIDs        []uint64      `json:"ticket_ids"`
    TotalAmountCents uint64        `json:"total_amount_cents"`
    PaymentMethod    PaymentMethod `json:"payment_method"`
}

// OrderReceipt identifies the records created by the order finalizer.
type OrderReceipt struct {
    OrderID          uint64    `json:"order_id"`
    PaymentID        uint64    `json:"payment_id"`
    PaymentReference string    `json:"payment_reference"`
    TotalAmountCents uint64    `json:"total_amount_cents"`
    CreatedAt        time.Time `json:"created_at"`
}
