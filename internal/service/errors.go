// Package service implements the reservation core: the ticket pool, the
// cart manager and the cart expiry sweeper.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.  Typed errors below carry details and match their
// sentinel with errors.Is.
var (
	ErrTicketUnavailable     = errors.New("tickets unavailable")
	ErrRaffleNotOpen         = errors.New("raffle is not open for reservations")
	ErrRaffleNotFound        = errors.New("raffle not found")
	ErrInvalidTicketState    = errors.New("invalid ticket state")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrTicketsNotInCart      = errors.New("tickets are not in the active cart")
	ErrNoTickets             = errors.New("at least one ticket is required")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrCartNotFound          = errors.New("cart not found")
	ErrCartNotActive         = errors.New("cart is not active")
	ErrNotCartOwner          = errors.New("cart belongs to another user")
	ErrInvalidPayment        = errors.New("unknown payment method")
	ErrCustomerRequired      = errors.New("customer is required")
	ErrOrderFinalization     = errors.New("order could not be finalized")
)

// TicketUnavailableError names the requested tickets that were missing,
// belonged to another raffle or were not AVAILABLE.
type TicketUnavailableError struct {
	TicketIDs []uint64
}

func (e *TicketUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTicketUnavailable, joinIDs(e.TicketIDs))
}

func (e *TicketUnavailableError) Is(target error) bool { return target == ErrTicketUnavailable }

// InvalidTicketStateError reports tickets that were not in the status an
// operation requires.  It signals an integrity problem.
type InvalidTicketStateError struct {
	TicketIDs []uint64
}

func (e *InvalidTicketStateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidTicketState, joinIDs(e.TicketIDs))
}

func (e *InvalidTicketStateError) Is(target error) bool { return target == ErrInvalidTicketState }

// InsufficientInventoryError reports a random pick larger than the
// available inventory.
type InsufficientInventoryError struct {
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("%s: requested %d, available %d", ErrInsufficientInventory, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Is(target error) bool { return target == ErrInsufficientInventory }

// TicketsNotInCartError names the tickets a user tried to release that
// are not part of their ACTIVE cart.
type TicketsNotInCartError struct {
	TicketIDs []uint64
}

func (e *TicketsNotInCartError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTicketsNotInCart, joinIDs(e.TicketIDs))
}

func (e *TicketsNotInCartError) Is(target error) bool { return target == ErrTicketsNotInCart }

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
