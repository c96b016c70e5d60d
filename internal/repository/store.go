package repository

import (
	"context"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// Store is the storage boundary of the reservation core.  Every state
// change goes through WithTx; the remaining methods are plain reads that
// return a consistent snapshot but take no locks.
type Store interface {
	// WithTx runs fn inside one transaction.  The transaction commits when
	// fn returns nil and rolls back otherwise.  Transient failures are
	// reported wrapped in ErrRetryable.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetRaffle(ctx context.Context, id uint64) (model.Raffle, error)
	GetCart(ctx context.Context, id uint64) (model.Cart, error)
	ActiveCartForUser(ctx context.Context, userID uint64) (model.Cart, error)
	// FindExpiredCarts lists ACTIVE carts whose updated_at is strictly
	// before cutoff, oldest first.
	FindExpiredCarts(ctx context.Context, cutoff time.Time) ([]model.Cart, error)
	// AvailableTickets lists the AVAILABLE tickets of a raffle by number.
	AvailableTickets(ctx context.Context, raffleID uint64) ([]model.Ticket, error)
	SearchTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error)
	SearchCarts(ctx context.Context, f CartFilter) ([]model.Cart, error)
}

// Tx exposes the row-level operations available inside a transaction.
// Status changes are conditional on the current status and report how
// many rows actually moved so callers can detect lost races.
type Tx interface {
	GetRaffle(ctx context.Context, id uint64) (model.Raffle, error)

	// LockTickets locks the given tickets in ascending ID order and returns
	// the ones that exist.  Missing IDs are simply absent from the result.
	LockTickets(ctx context.Context, ids []uint64) ([]model.Ticket, error)
	// ReserveTickets moves AVAILABLE tickets to RESERVED for cartID.
	ReserveTickets(ctx context.Context, cartID uint64, ids []uint64, now time.Time) (int64, error)
	// ReleaseTickets moves RESERVED tickets back to AVAILABLE.  Tickets in
	// any other status are left untouched.
	ReleaseTickets(ctx context.Context, ids []uint64, now time.Time) (int64, error)
	// ReleaseCartTickets releases every ticket still RESERVED for cartID and
	// returns their IDs.
	ReleaseCartTickets(ctx context.Context, cartID uint64, now time.Time) ([]uint64, error)
	// SellTickets moves RESERVED tickets to SOLD for customerID.
	SellTickets(ctx context.Context, ids []uint64, customerID uint64, now time.Time) (int64, error)

	// ActiveCartForUser locks and returns the user's ACTIVE cart, or
	// ErrNotFound.
	ActiveCartForUser(ctx context.Context, userID uint64) (model.Cart, error)
	// LockCart locks and returns a cart in any status, or ErrNotFound.
	LockCart(ctx context.Context, cartID uint64) (model.Cart, error)
	// CreateCart inserts an ACTIVE cart, or fails with ErrActiveCartExists.
	CreateCart(ctx context.Context, userID uint64, now time.Time) (model.Cart, error)
	TouchCart(ctx context.Context, cartID uint64, now time.Time) error
	// UpdateCartStatus moves a cart from one status to another and reports
	// whether the cart was in the expected status.
	UpdateCartStatus(ctx context.Context, cartID uint64, from, to model.CartStatus, now time.Time) (bool, error)
	DeleteCart(ctx context.Context, cartID uint64) error
	// CartTickets returns the tickets RESERVED for cartID in reservation
	// order.
	CartTickets(ctx context.Context, cartID uint64) ([]model.Ticket, error)
}

// RaffleStore creates raffles with their ticket inventory and lists them.
type RaffleStore interface {
	CreateRaffle(ctx context.Context, r model.Raffle) (model.Raffle, error)
	ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error)
}

// TicketFilter narrows a ticket search within one raffle.  Zero values
// mean "no constraint".
type TicketFilter struct {
	RaffleID   uint64
	Status     model.TicketStatus
	NumberFrom uint32
	NumberTo   uint32
	Limit      int
	Offset     int
}

// CartFilter narrows a cart search.  Zero values mean "no constraint".
type CartFilter struct {
	UserID uint64
	Status model.CartStatus
	Limit  int
	Offset int
}

// DefaultPageSize applies when a filter leaves Limit unset.
const DefaultPageSize = 50

// MaxPageSize caps the Limit of a filter.
const MaxPageSize = 500

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
