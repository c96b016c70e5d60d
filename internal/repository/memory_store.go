package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// MemoryStore is an in-process Store.  Transactions are serialized by a
// single mutex and record the prior value of every row they change, so a
// failed transaction restores exactly those rows and callers observe the
// same all-or-nothing behaviour as with MySQL.  Reads share the lock and
// never see a transaction in flight.
type MemoryStore struct {
	mu         sync.RWMutex
	raffles    map[uint64]model.Raffle
	tickets    map[uint64]model.Ticket
	carts      map[uint64]model.Cart
	nextRaffle uint64
	nextTicket uint64
	nextCart   uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raffles: make(map[uint64]model.Raffle),
		tickets: make(map[uint64]model.Ticket),
		carts:   make(map[uint64]model.Cart),
	}
}

// WithTx implements Store.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		tickets:  make(map[uint64]model.Ticket),
		carts:    make(map[uint64]*model.Cart),
		nextCart: s.nextCart,
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// CreateRaffle stores a raffle and generates tickets numbered 1..TotalTickets.
func (s *MemoryStore) CreateRaffle(ctx context.Context, r model.Raffle) (model.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRaffle++
	r.ID = s.nextRaffle
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = model.RaffleDraft
	}
	s.raffles[r.ID] = r
	for n := uint32(1); n <= r.TotalTickets; n++ {
		s.nextTicket++
		s.tickets[s.nextTicket] = model.Ticket{
			ID:        s.nextTicket,
			RaffleID:  r.ID,
			Number:    n,
			Status:    model.TicketAvailable,
			UpdatedAt: r.CreatedAt,
		}
	}
	return r, nil
}

// ListRaffles returns raffles by ID, optionally filtered by status.
func (s *MemoryStore) ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Raffle{}
	for _, r := range s.raffles {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRaffle implements Store.
func (s *MemoryStore) GetRaffle(ctx context.Context, id uint64) (model.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raffle(id)
}

// GetCart implements Store.
func (s *MemoryStore) GetCart(ctx context.Context, id uint64) (model.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[id]
	if !ok {
		return model.Cart{}, ErrNotFound
	}
	c.Tickets = s.cartTickets(id)
	return c, nil
}

// ActiveCartForUser implements Store.
func (s *MemoryStore) ActiveCartForUser(ctx context.Context, userID uint64) (model.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.activeCart(userID)
	if err != nil {
		return model.Cart{}, err
	}
	c.Tickets = s.cartTickets(c.ID)
	return c, nil
}

// FindExpiredCarts implements Store.
func (s *MemoryStore) FindExpiredCarts(ctx context.Context, cutoff time.Time) ([]model.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Cart{}
	for _, c := range s.carts {
		if c.Status == model.CartActive && c.UpdatedAt.Before(cutoff) {
			c.Tickets = s.cartTickets(c.ID)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AvailableTickets implements Store.
func (s *MemoryStore) AvailableTickets(ctx context.Context, raffleID uint64) ([]model.Ticket, error) {
	return s.SearchTickets(ctx, TicketFilter{RaffleID: raffleID, Status: model.TicketAvailable, Limit: -1})
}

// SearchTickets implements Store.  A negative Limit returns every match.
func (s *MemoryStore) SearchTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Ticket{}
	for _, t := range s.tickets {
		if t.RaffleID != f.RaffleID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.NumberFrom > 0 && t.Number < f.NumberFrom {
			continue
		}
		if f.NumberTo > 0 && t.Number > f.NumberTo {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if f.Limit < 0 {
		return out, nil
	}
	limit, offset := pageBounds(f.Limit, f.Offset)
	return page(out, limit, offset), nil
}

// SearchCarts implements Store.
func (s *MemoryStore) SearchCarts(ctx context.Context, f CartFilter) ([]model.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Cart{}
	for _, c := range s.carts {
		if f.UserID > 0 && c.UserID != f.UserID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	limit, offset := pageBounds(f.Limit, f.Offset)
	out = page(out, limit, offset)
	for i := range out {
		out[i].Tickets = s.cartTickets(out[i].ID)
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (s *MemoryStore) raffle(id uint64) (model.Raffle, error) {
	r, ok := s.raffles[id]
	if !ok {
		return model.Raffle{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) activeCart(userID uint64) (model.Cart, error) {
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == model.CartActive {
			return c, nil
		}
	}
	return model.Cart{}, ErrNotFound
}

// cartTickets returns the tickets reserved for cartID ordered by
// reservation time, then ID.
func (s *MemoryStore) cartTickets(cartID uint64) []model.Ticket {
	out := []model.Ticket{}
	for _, t := range s.tickets {
		if t.Status == model.TicketReserved && t.CartID != nil && *t.CartID == cartID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// memTx runs with MemoryStore.mu held for writing.  tickets and carts
// keep the value each touched row had when the transaction began; a nil
// cart means the row did not exist.
type memTx struct {
	s        *MemoryStore
	tickets  map[uint64]model.Ticket
	carts    map[uint64]*model.Cart
	nextCart uint64
}

func (t *memTx) saveTicket(id uint64) {
	if _, ok := t.tickets[id]; !ok {
		t.tickets[id] = t.s.tickets[id]
	}
}

func (t *memTx) saveCart(id uint64) {
	if _, ok := t.carts[id]; ok {
		return
	}
	if c, ok := t.s.carts[id]; ok {
		t.carts[id] = &c
		return
	}
	t.carts[id] = nil
}

func (t *memTx) rollback() {
	for id, tk := range t.tickets {
		t.s.tickets[id] = tk
	}
	for id, c := range t.carts {
		if c == nil {
			delete(t.s.carts, id)
			continue
		}
		t.s.carts[id] = *c
	}
	t.s.nextCart = t.nextCart
}

func (t *memTx) GetRaffle(ctx context.Context, id uint64) (model.Raffle, error) {
	return t.s.raffle(id)
}

func (t *memTx) LockTickets(ctx context.Context, ids []uint64) ([]model.Ticket, error) {
	out := make([]model.Ticket, 0, len(ids))
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if tk, ok := t.s.tickets[id]; ok {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ReserveTickets(ctx context.Context, cartID uint64, ids []uint64, now time.Time) (int64, error) {
	return t.transition(ids, model.TicketAvailable, func(tk *model.Ticket) {
		id := cartID
		tk.Status = model.TicketReserved
		tk.CartID = &id
		tk.UpdatedAt = now
	}), nil
}

func (t *memTx) ReleaseTickets(ctx context.Context, ids []uint64, now time.Time) (int64, error) {
	return t.transition(ids, model.TicketReserved, func(tk *model.Ticket) {
		tk.Status = model.TicketAvailable
		tk.CartID = nil
		tk.UpdatedAt = now
	}), nil
}

func (t *memTx) ReleaseCartTickets(ctx context.Context, cartID uint64, now time.Time) ([]uint64, error) {
	ids := model.TicketIDs(t.s.cartTickets(cartID))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if _, err := t.ReleaseTickets(ctx, ids, now); err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *memTx) SellTickets(ctx context.Context, ids []uint64, customerID uint64, now time.Time) (int64, error) {
	return t.transition(ids, model.TicketReserved, func(tk *model.Ticket) {
		id := customerID
		tk.Status = model.TicketSold
		tk.CartID = nil
		tk.CustomerID = &id
		tk.UpdatedAt = now
	}), nil
}

// transition applies apply to every ticket of ids currently in from and
// returns how many moved.
func (t *memTx) transition(ids []uint64, from model.TicketStatus, apply func(*model.Ticket)) int64 {
	var n int64
	for _, id := range ids {
		tk, ok := t.s.tickets[id]
		if !ok || tk.Status != from {
			continue
		}
		t.saveTicket(id)
		apply(&tk)
		t.s.tickets[id] = tk
		n++
	}
	return n
}

func (t *memTx) ActiveCartForUser(ctx context.Context, userID uint64) (model.Cart, error) {
	return t.s.activeCart(userID)
}

func (t *memTx) LockCart(ctx context.Context, cartID uint64) (model.Cart, error) {
	c, ok := t.s.carts[cartID]
	if !ok {
		return model.Cart{}, ErrNotFound
	}
	return c, nil
}

func (t *memTx) CreateCart(ctx context.Context, userID uint64, now time.Time) (model.Cart, error) {
	if _, err := t.s.activeCart(userID); err == nil {
		return model.Cart{}, ErrActiveCartExists
	}
	t.s.nextCart++
	c := model.Cart{
		ID:        t.s.nextCart,
		UserID:    userID,
		Status:    model.CartActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.saveCart(c.ID)
	t.s.carts[c.ID] = c
	return c, nil
}

func (t *memTx) TouchCart(ctx context.Context, cartID uint64, now time.Time) error {
	c, ok := t.s.carts[cartID]
	if !ok {
		return nil
	}
	t.saveCart(cartID)
	c.UpdatedAt = now
	t.s.carts[cartID] = c
	return nil
}

func (t *memTx) UpdateCartStatus(ctx context.Context, cartID uint64, from, to model.CartStatus, now time.Time) (bool, error) {
	c, ok := t.s.carts[cartID]
	if !ok || c.Status != from {
		return false, nil
	}
	t.saveCart(cartID)
	c.Status = to
	c.UpdatedAt = now
	t.s.carts[cartID] = c
	return true, nil
}

func (t *memTx) DeleteCart(ctx context.Context, cartID uint64) error {
	t.saveCart(cartID)
	delete(t.s.carts, cartID)
	return nil
}

func (t *memTx) CartTickets(ctx context.Context, cartID uint64) ([]model.Ticket, error) {
	return t.s.cartTickets(cartID), nil
}
