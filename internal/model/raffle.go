package model

import "time"

// RaffleStatus is the lifecycle state of a raffle.
type RaffleStatus string

const (
    RaffleDraft  RaffleStatus = "DRAFT"
    RaffleActive RaffleStatus = "ACTIVE"
    RaffleClosed RaffleStatus = "CLOSED"
)

// Raffle represents a sellable pool of numbered tickets organised by an
// association.  Tickets can only be reserved while the raffle is ACTIVE
// and the current time falls inside its sales window.
//
// Fields:
//  ID               – primary key identifier.
//  AssociationID    – association that owns the raffle.
//  Name             – display name.
//  TicketPriceCents – price of a single ticket in cents.
//  TotalTickets     – number of tickets generated for the raffle.
//  Status           – DRAFT, ACTIVE or CLOSED.
//  StartsAt         – start of the sales window (inclusive).
//  EndsAt           – end of the sales window (exclusive).
//  CreatedAt        – creation timestamp.
type Raffle struct {
    ID               uint64       `json:"id"`                 // raffles.id
    AssociationID    uint64       `json:"association_id"`     // raffles.association_id
    Name             string       `json:"name"`               // raffles.name
    TicketPriceCents uint32       `json:"ticket_price_cents"` // raffles.ticket_price_cents
    TotalTickets     uint32       `json:"total_tickets"`      // raffles.total_tickets
    Status           RaffleStatus `json:"status"`             // raffles.status
    StartsAt         time.Time    `json:"starts_at"`          // raffles.starts_at
    EndsAt           time.Time    `json:"ends_at"`            // raffles.ends_at
    CreatedAt        time.Time    `json:"created_at"`         // raffles.created_at
}

// IsOpen reports whether tickets of the raffle may be reserved at now.
func (r Raffle) IsOpen(now time.Time) bool {
    if r.Status != RaffleActive {
        return false
    }
    if now.Before(r.StartsAt) {
        return false
    }
    return now.Before(r.EndsAt)
}
