package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// TicketPool is the authoritative source of ticket status.  Every status
// change is a conditional update executed on rows locked earlier in the
// same transaction, so two transactions can never both capture a ticket.
type TicketPool struct {
	store repository.Store
	log   *logrus.Logger
	now   func() time.Time
	intn  func(n int) int
}

// PoolOption configures a TicketPool.
type PoolOption func(*TicketPool)

// WithPoolClock overrides the time source.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *TicketPool) { p.now = now }
}

// WithRandom overrides the source used by PickRandomAvailable.  intn must
// return a value in [0, n) and be safe for concurrent use.
func WithRandom(intn func(n int) int) PoolOption {
	return func(p *TicketPool) { p.intn = intn }
}

// NewTicketPool returns a TicketPool over store.
func NewTicketPool(store repository.Store, log *logrus.Logger, opts ...PoolOption) *TicketPool {
	p := &TicketPool{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		intn:  rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReserveTx moves every ticket in ids from AVAILABLE to RESERVED and
// attaches it to cartID, or moves none of them.  The raffle must be open
// and every ticket must exist, belong to the raffle and be AVAILABLE;
// otherwise a *TicketUnavailableError names the offending tickets.
func (p *TicketPool) ReserveTx(ctx context.Context, tx repository.Tx, raffleID, cartID uint64, ids []uint64) error {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return ErrNoTickets
	}
	now := p.now()

	raffle, err := tx.GetRaffle(ctx, raffleID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRaffleNotFound
	}
	if err != nil {
		return fmt.Errorf("load raffle: %w", err)
	}
	if !raffle.IsOpen(now) {
		return ErrRaffleNotOpen
	}

	locked, err := tx.LockTickets(ctx, ids)
	if err != nil {
		return fmt.Errorf("lock tickets: %w", err)
	}
	byID := make(map[uint64]model.Ticket, len(locked))
	for _, t := range locked {
		byID[t.ID] = t
	}
	var conflicts []uint64
	for _, id := range ids {
		t, ok := byID[id]
		if !ok || t.RaffleID != raffleID || t.Status != model.TicketAvailable {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		return &TicketUnavailableError{TicketIDs: conflicts}
	}

	n, err := tx.ReserveTickets(ctx, cartID, ids, now)
	if err != nil {
		return fmt.Errorf("reserve tickets: %w", err)
	}
	if n != int64(len(ids)) {
		// Only reachable when the store does not honour row locks.
		p.log.WithContext(ctx).WithFields(logrus.Fields{
			"cart_id":   cartID,
			"raffle_id": raffleID,
			"locked":    len(ids),
			"updated":   n,
		}).Warn("reservation updated fewer tickets than it locked")
		return &TicketUnavailableError{TicketIDs: ids}
	}
	return nil
}

// ReleaseCartTx releases every ticket still RESERVED for cartID and
// returns their IDs.  Tickets the cart no longer holds, such as ones sold
// since the caller last looked, are left alone.
func (p *TicketPool) ReleaseCartTx(ctx context.Context, tx repository.Tx, cartID uint64) ([]uint64, error) {
	ids, err := tx.ReleaseCartTickets(ctx, cartID, p.now())
	if err != nil {
		return nil, fmt.Errorf("release cart tickets: %w", err)
	}
	return ids, nil
}

// ReleaseTx moves the RESERVED tickets among ids back to AVAILABLE.
// Tickets in any other status are skipped, so releasing twice is the same
// as releasing once.  It returns how many tickets moved.
func (p *TicketPool) ReleaseTx(ctx context.Context, tx repository.Tx, ids []uint64) (int64, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := tx.LockTickets(ctx, ids); err != nil {
		return 0, fmt.Errorf("lock tickets: %w", err)
	}
	n, err := tx.ReleaseTickets(ctx, ids, p.now())
	if err != nil {
		return 0, fmt.Errorf("release tickets: %w", err)
	}
	return n, nil
}

// CommitTx moves every ticket in ids from RESERVED to SOLD for customerID.
// Any ticket that is missing or not RESERVED fails the whole call with an
// *InvalidTicketStateError.
func (p *TicketPool) CommitTx(ctx context.Context, tx repository.Tx, ids []uint64, customerID uint64) error {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return ErrNoTickets
	}
	locked, err := tx.LockTickets(ctx, ids)
	if err != nil {
		return fmt.Errorf("lock tickets: %w", err)
	}
	byID := make(map[uint64]model.Ticket, len(locked))
	for _, t := range locked {
		byID[t.ID] = t
	}
	var bad []uint64
	for _, id := range ids {
		if t, ok := byID[id]; !ok || t.Status != model.TicketReserved {
			bad = append(bad, id)
		}
	}
	if len(bad) > 0 {
		return &InvalidTicketStateError{TicketIDs: bad}
	}

	n, err := tx.SellTickets(ctx, ids, customerID, p.now())
	if err != nil {
		return fmt.Errorf("sell tickets: %w", err)
	}
	if n != int64(len(ids)) {
		return &InvalidTicketStateError{TicketIDs: ids}
	}
	return nil
}

// Release runs ReleaseTx in its own transaction.
func (p *TicketPool) Release(ctx context.Context, ids []uint64) (int64, error) {
	var n int64
	err := p.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		n, err = p.ReleaseTx(ctx, tx, ids)
		return err
	})
	return n, err
}

// Commit runs CommitTx in its own transaction.
func (p *TicketPool) Commit(ctx context.Context, ids []uint64, customerID uint64) error {
	return p.store.WithTx(ctx, func(tx repository.Tx) error {
		return p.CommitTx(ctx, tx, ids, customerID)
	})
}

// PickRandomAvailable draws quantity distinct AVAILABLE tickets of a
// raffle uniformly at random.  It reserves nothing; the result is a
// suggestion that a later reservation may still lose.
func (p *TicketPool) PickRandomAvailable(ctx context.Context, raffleID uint64, quantity int) ([]model.Ticket, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if _, err := p.store.GetRaffle(ctx, raffleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRaffleNotFound
		}
		return nil, fmt.Errorf("load raffle: %w", err)
	}
	available, err := p.store.AvailableTickets(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("list available tickets: %w", err)
	}
	if len(available) < quantity {
		return nil, &InsufficientInventoryError{Requested: quantity, Available: len(available)}
	}

	// Partial Fisher-Yates: the first quantity slots end up holding a
	// uniform sample without replacement.
	for i := 0; i < quantity; i++ {
		j := i + p.intn(len(available)-i)
		available[i], available[j] = available[j], available[i]
	}
	picked := available[:quantity]
	sort.Slice(picked, func(i, j int) bool { return picked[i].Number < picked[j].Number })
	return picked, nil
}

// SearchTickets lists tickets of a raffle matching f.
func (p *TicketPool) SearchTickets(ctx context.Context, f repository.TicketFilter) ([]model.Ticket, error) {
	if _, err := p.store.GetRaffle(ctx, f.RaffleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRaffleNotFound
		}
		return nil, fmt.Errorf("load raffle: %w", err)
	}
	return p.store.SearchTickets(ctx, f)
}

// normalizeIDs returns ids sorted ascending without duplicates.
func normalizeIDs(ids []uint64) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
