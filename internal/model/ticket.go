package model

import "time"

// TicketStatus is the availability state of a raffle ticket.
type TicketStatus string

const (
    TicketAvailable TicketStatus = "AVAILABLE"
    TicketReserved  TicketStatus = "RESERVED"
    TicketSold      TicketStatus = "SOLD"
)

// Ticket is a single numbered ticket of a raffle.  A ticket references a
// cart only while RESERVED and a customer only once SOLD.  Tickets are
// created in bulk when the raffle inventory is generated and are never
// deleted while the raffle exists.
type Ticket struct {
    ID         uint64       `json:"id"`                    // tickets.id
    RaffleID   uint64       `json:"raffle_id"`             // tickets.raffle_id
    Number     uint32       `json:"number"`                // tickets.number (unique per raffle)
    Status     TicketStatus `json:"status"`                // tickets.status
    CartID     *uint64      `json:"cart_id,omitempty"`     // tickets.cart_id (nullable)
    CustomerID *uint64      `json:"customer_id,omitempty"` // tickets.customer_id (nullable)
    UpdatedAt  time.Time    `json:"updated_at"`            // tickets.updated_at
}

// Consistent reports whether the cart and customer references agree with
// the ticket status.
func (t Ticket) Consistent() bool {
    switch t.Status {
    case TicketAvailable:
        return t.CartID == nil && t.CustomerID == nil
    case TicketReserved:
        return t.CartID != nil && t.CustomerID == nil
    case TicketSold:
        return t.CartID == nil && t.CustomerID != nil
    }
    return false
}

// TicketIDs returns the identifiers of tickets in order.
func TicketIDs(tickets []Ticket) []uint64 {
    ids := make([]uint64, 0, len(tickets))
    for _, t := range tickets {
        ids = append(ids, t.ID)
    }
    return ids
}
