package model

import "time"

// CartStatus is the lifecycle state of a cart.  ACTIVE is the only
// non-terminal state.
type CartStatus string

const (
    CartActive    CartStatus = "ACTIVE"
    CartCompleted CartStatus = "COMPLETED"
    CartExpired   CartStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s CartStatus) Terminal() bool {
    return s == CartCompleted || s == CartExpired
}

// Cart is a user's time-bounded holding area for reserved tickets.  A
// user owns at most one ACTIVE cart.  UpdatedAt moves on every ticket add
// or remove and drives expiry.
type Cart struct {
    ID        uint64     `json:"id"`         // carts.id
    UserID    uint64     `json:"user_id"`    // carts.user_id
    Status    CartStatus `json:"status"`     // carts.status
    Tickets   []Ticket   `json:"tickets"`    // tickets where tickets.cart_id = carts.id
    CreatedAt time.Time  `json:"created_at"` // carts.created_at
    UpdatedAt time.Time  `json:"updated_at"` // carts.updated_at
}
