package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/queue"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// Finalizer turns a promoted cart into an order and a payment.  Void
// undoes a finalization whose cart transaction failed to commit.
type Finalizer interface {
	Finalize(ctx context.Context, h model.OrderHandoff) (model.OrderReceipt, error)
	Void(ctx context.Context, rc model.OrderReceipt) error
}

// CartCache caches the active cart view of a user.  A miss is reported
// with ok == false and a nil error.
//
// Every user has a generation that Invalidate advances.  Get reports it
// on hits and misses alike, and Set stores a view only while gen is still
// current, so a view loaded before an invalidation is never stored after
// it.
type CartCache interface {
	Get(ctx context.Context, userID uint64) (view CartView, gen uint64, ok bool, err error)
	Set(ctx context.Context, userID, gen uint64, view CartView) (stored bool, err error)
	Invalidate(ctx context.Context, userID uint64) error
}

// EventPublisher delivers domain events.  Delivery is best effort.
type EventPublisher interface {
	PublishOrderCompleted(ctx context.Context, ev queue.OrderCompletedEvent) error
	PublishCartExpired(ctx context.Context, ev queue.CartExpiredEvent) error
}

// CartView is a cart as presented to clients.  ExpiresAt is set for
// ACTIVE carts only.
type CartView struct {
	model.Cart
	TotalAmountCents uint64     `json:"total_amount_cents"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// PromoteRequest asks for a cart to be turned into an order.
type PromoteRequest struct {
	CartID        uint64
	UserID        uint64
	CustomerID    uint64
	PaymentMethod model.PaymentMethod
}

// Promotion is the outcome of a successful PromoteToOrder.
type Promotion struct {
	Handoff model.OrderHandoff `json:"handoff"`
	Receipt model.OrderReceipt `json:"receipt"`
}

// CartManager enforces the one-active-cart-per-user rule and drives carts
// through ACTIVE -> COMPLETED | EXPIRED.  All ticket status changes are
// delegated to the TicketPool inside the cart's transaction.
type CartManager struct {
	store       repository.Store
	pool        *TicketPool
	finalizer   Finalizer
	cache       CartCache
	events      EventPublisher
	log         *logrus.Logger
	cutoff      time.Duration
	maxAttempts int
	now         func() time.Time
	group       singleflight.Group
}

// CartOption configures a CartManager.
type CartOption func(*CartManager)

// WithCartCache enables the active cart view cache.
func WithCartCache(c CartCache) CartOption {
	return func(m *CartManager) { m.cache = c }
}

// WithEvents enables event publication.
func WithEvents(p EventPublisher) CartOption {
	return func(m *CartManager) { m.events = p }
}

// WithCutoff sets how long a cart may stay untouched before it expires.
func WithCutoff(d time.Duration) CartOption {
	return func(m *CartManager) {
		if d > 0 {
			m.cutoff = d
		}
	}
}

// WithMaxAttempts bounds how often a transaction aborted by a lock
// conflict is run again.
func WithMaxAttempts(n int) CartOption {
	return func(m *CartManager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CartOption {
	return func(m *CartManager) { m.now = now }
}

// NewCartManager wires a CartManager.  The cutoff defaults to one hour and
// reservations are attempted at most three times.
func NewCartManager(store repository.Store, pool *TicketPool, finalizer Finalizer, log *logrus.Logger, opts ...CartOption) *CartManager {
	m := &CartManager{
		store:       store,
		pool:        pool,
		finalizer:   finalizer,
		log:         log,
		cutoff:      time.Hour,
		maxAttempts: 3,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cutoff returns the inactivity period after which a cart expires.
func (m *CartManager) Cutoff() time.Duration { return m.cutoff }

// ReserveForUser reserves ids of a raffle into the user's ACTIVE cart,
// creating the cart in the same transaction when the user has none.  It
// is all-or-nothing: on failure no ticket moves and no cart is created.
func (m *CartManager) ReserveForUser(ctx context.Context, userID, raffleID uint64, ids []uint64) (CartView, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return CartView{}, ErrNoTickets
	}

	var cartID uint64
	err := m.retry(ctx, "reserve", func() error {
		return m.store.WithTx(ctx, func(tx repository.Tx) error {
			now := m.now()
			cart, err := tx.ActiveCartForUser(ctx, userID)
			if errors.Is(err, repository.ErrNotFound) {
				cart, err = tx.CreateCart(ctx, userID, now)
			}
			if err != nil {
				return err
			}
			if err := m.pool.ReserveTx(ctx, tx, raffleID, cart.ID, ids); err != nil {
				return err
			}
			if err := tx.TouchCart(ctx, cart.ID, now); err != nil {
				return fmt.Errorf("touch cart: %w", err)
			}
			cartID = cart.ID
			return nil
		})
	})
	if err != nil {
		return CartView{}, err
	}
	m.invalidate(ctx, userID)

	m.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":   userID,
		"cart_id":   cartID,
		"raffle_id": raffleID,
		"tickets":   ids,
	}).Info("tickets reserved")
	return m.GetCart(ctx, cartID)
}

// ReleaseTickets returns ids from the user's ACTIVE cart to the pool.
// Every ticket must be in that cart.  When the cart ends up empty it is
// deleted and a nil view is returned.
func (m *CartManager) ReleaseTickets(ctx context.Context, userID uint64, ids []uint64) (*CartView, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return nil, ErrNoTickets
	}

	var (
		cartID  uint64
		deleted bool
	)
	err := m.retry(ctx, "release", func() error {
		deleted = false
		return m.store.WithTx(ctx, func(tx repository.Tx) error {
			cart, err := tx.ActiveCartForUser(ctx, userID)
			if errors.Is(err, repository.ErrNotFound) {
				return ErrCartNotFound
			}
			if err != nil {
				return err
			}
			held, err := tx.CartTickets(ctx, cart.ID)
			if err != nil {
				return fmt.Errorf("load cart tickets: %w", err)
			}
			inCart := make(map[uint64]bool, len(held))
			for _, t := range held {
				inCart[t.ID] = true
			}
			var missing []uint64
			for _, id := range ids {
				if !inCart[id] {
					missing = append(missing, id)
				}
			}
			if len(missing) > 0 {
				return &TicketsNotInCartError{TicketIDs: missing}
			}

			if _, err := m.pool.ReleaseTx(ctx, tx, ids); err != nil {
				return err
			}
			cartID = cart.ID
			if len(held) == len(ids) {
				deleted = true
				return tx.DeleteCart(ctx, cart.ID)
			}
			return tx.TouchCart(ctx, cart.ID, m.now())
		})
	})
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx, userID)

	m.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":      userID,
		"cart_id":      cartID,
		"tickets":      ids,
		"cart_removed": deleted,
	}).Info("tickets released")
	if deleted {
		return nil, nil
	}
	view, err := m.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ReleaseExpiredCarts expires each cart in its own transaction.  Inside
// that transaction the cart is locked and checked again: carts that are
// gone, no longer ACTIVE, or were touched after the cutoff are skipped.
// Only tickets still RESERVED for the cart are released.  A failure on
// one cart is recorded in the summary and never stops the batch.
func (m *CartManager) ReleaseExpiredCarts(ctx context.Context, carts []model.Cart) SweepSummary {
	sum := SweepSummary{Found: len(carts)}
	cutoff := m.now().Add(-m.cutoff)

	for _, c := range carts {
		if err := ctx.Err(); err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, newCartFailure(c, err))
			continue
		}
		released, expired, err := m.expireCart(ctx, c.ID, cutoff)
		entry := m.log.WithContext(ctx).WithFields(logrus.Fields{"cart_id": c.ID, "user_id": c.UserID})
		switch {
		case err != nil:
			sum.Failed++
			sum.Errors = append(sum.Errors, newCartFailure(c, err))
			entry.WithError(err).Error("cart expiry failed")
		case !expired:
			sum.Skipped++
			entry.Debug("cart no longer eligible for expiry")
		default:
			sum.Expired++
			sum.ReleasedTickets += len(released)
			entry.WithField("released", len(released)).Info("cart expired")
			m.invalidate(ctx, c.UserID)
			m.publishExpired(ctx, c, released)
		}
	}
	return sum
}

func (m *CartManager) expireCart(ctx context.Context, cartID uint64, cutoff time.Time) ([]uint64, bool, error) {
	var (
		released []uint64
		expired  bool
	)
	err := m.retry(ctx, "expire", func() error {
		released, expired = nil, false
		return m.store.WithTx(ctx, func(tx repository.Tx) error {
			cart, err := tx.LockCart(ctx, cartID)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if cart.Status != model.CartActive || !cart.UpdatedAt.Before(cutoff) {
				return nil
			}
			ids, err := m.pool.ReleaseCartTx(ctx, tx, cartID)
			if err != nil {
				return err
			}
			ok, err := tx.UpdateCartStatus(ctx, cartID, model.CartActive, model.CartExpired, m.now())
			if err != nil {
				return fmt.Errorf("expire cart: %w", err)
			}
			if !ok {
				return ErrCartNotActive
			}
			released, expired = ids, true
			return nil
		})
	})
	return released, expired, err
}

// PromoteToOrder sells the cart's tickets to the customer, marks the cart
// COMPLETED and hands it to the order finalizer, all in one transaction.
// If the finalizer fails nothing changes: the cart stays ACTIVE and its
// tickets stay RESERVED.  If the transaction fails to commit after the
// finalizer succeeded, the order is voided.
func (m *CartManager) PromoteToOrder(ctx context.Context, req PromoteRequest) (Promotion, error) {
	if req.CustomerID == 0 {
		return Promotion{}, ErrCustomerRequired
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = model.PaymentCash
	}
	if !req.PaymentMethod.Valid() {
		return Promotion{}, ErrInvalidPayment
	}

	var (
		out       Promotion
		raffleIDs []uint64
		finalized bool
	)
	err := m.store.WithTx(ctx, func(tx repository.Tx) error {
		cart, err := tx.LockCart(ctx, req.CartID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCartNotFound
		}
		if err != nil {
			return err
		}
		if cart.UserID != req.UserID {
			return ErrNotCartOwner
		}
		if cart.Status != model.CartActive {
			return ErrCartNotActive
		}
		tickets, err := tx.CartTickets(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("load cart tickets: %w", err)
		}
		if len(tickets) == 0 {
			return ErrNoTickets
		}
		total, err := totalAmount(ctx, tx.GetRaffle, tickets)
		if err != nil {
			return err
		}
		ids := model.TicketIDs(tickets)
		if err := m.pool.CommitTx(ctx, tx, ids, req.CustomerID); err != nil {
			return err
		}
		ok, err := tx.UpdateCartStatus(ctx, cart.ID, model.CartActive, model.CartCompleted, m.now())
		if err != nil {
			return fmt.Errorf("complete cart: %w", err)
		}
		if !ok {
			return ErrCartNotActive
		}

		out.Handoff = model.OrderHandoff{
			CartID:           cart.ID,
			UserID:           cart.UserID,
			CustomerID:       req.CustomerID,
			TicketIDs:        ids,
			TotalAmountCents: total,
			PaymentMethod:    req.PaymentMethod,
		}
		out.Receipt, err = m.finalizer.Finalize(ctx, out.Handoff)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOrderFinalization, err)
		}
		finalized = true
		raffleIDs = distinctRaffles(tickets)
		return nil
	})

	entry := m.log.WithContext(ctx).WithFields(logrus.Fields{"cart_id": req.CartID, "user_id": req.UserID})
	if err != nil {
		if finalized {
			if verr := m.finalizer.Void(context.WithoutCancel(ctx), out.Receipt); verr != nil {
				entry.WithError(verr).WithField("order_id", out.Receipt.OrderID).Error("could not void order after failed cart commit")
			}
		}
		if errors.Is(err, ErrInvalidTicketState) || errors.Is(err, ErrOrderFinalization) {
			entry.WithError(err).Error("cart promotion failed")
		}
		return Promotion{}, err
	}
	m.invalidate(ctx, req.UserID)
	entry.WithField("order_id", out.Receipt.OrderID).Info("cart promoted to order")

	if m.events != nil {
		_ = m.events.PublishOrderCompleted(ctx, queue.OrderCompletedEvent{
			OrderID:          out.Receipt.OrderID,
			PaymentID:        out.Receipt.PaymentID,
			PaymentReference: out.Receipt.PaymentReference,
			PaymentMethod:    string(out.Handoff.PaymentMethod),
			CartID:           out.Handoff.CartID,
			UserID:           out.Handoff.UserID,
			CustomerID:       out.Handoff.CustomerID,
			RaffleIDs:        raffleIDs,
			TicketIDs:        out.Handoff.TicketIDs,
			TotalAmountCents: out.Handoff.TotalAmountCents,
			CompletedAt:      out.Receipt.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// ActiveCart returns the user's ACTIVE cart view.  Views are served from
// the cache when possible; concurrent misses for the same user and cache
// generation share one store lookup.
func (m *CartManager) ActiveCart(ctx context.Context, userID uint64) (CartView, error) {
	var (
		gen       uint64
		cacheable bool
	)
	if m.cache != nil {
		view, g, ok, err := m.cache.Get(ctx, userID)
		switch {
		case err != nil:
			m.log.WithContext(ctx).WithError(err).WithField("user_id", userID).Warn("cart cache read failed")
		case ok:
			return view, nil
		default:
			gen, cacheable = g, true
		}
	}

	key := strconv.FormatUint(userID, 10) + ":" + strconv.FormatUint(gen, 10)
	if m.cache != nil && !cacheable {
		key += ":uncached"
	}
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		cart, err := m.store.ActiveCartForUser(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return CartView{}, ErrCartNotFound
		}
		if err != nil {
			return CartView{}, err
		}
		view, err := m.view(ctx, cart)
		if err != nil {
			return CartView{}, err
		}
		if cacheable {
			stored, err := m.cache.Set(ctx, userID, gen, view)
			entry := m.log.WithContext(ctx).WithFields(logrus.Fields{"user_id": userID, "generation": gen})
			if err != nil {
				entry.WithError(err).Warn("cart cache write failed")
			} else if !stored {
				entry.Debug("cart changed while loading; view not cached")
			}
		}
		return view, nil
	})
	if err != nil {
		return CartView{}, err
	}
	return v.(CartView), nil
}

// GetCart returns any cart by ID.
func (m *CartManager) GetCart(ctx context.Context, cartID uint64) (CartView, error) {
	cart, err := m.store.GetCart(ctx, cartID)
	if errors.Is(err, repository.ErrNotFound) {
		return CartView{}, ErrCartNotFound
	}
	if err != nil {
		return CartView{}, err
	}
	return m.view(ctx, cart)
}

// SearchCarts lists carts matching f.
func (m *CartManager) SearchCarts(ctx context.Context, f repository.CartFilter) ([]CartView, error) {
	carts, err := m.store.SearchCarts(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]CartView, 0, len(carts))
	for _, c := range carts {
		v, err := m.view(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *CartManager) view(ctx context.Context, cart model.Cart) (CartView, error) {
	total, err := totalAmount(ctx, m.store.GetRaffle, cart.Tickets)
	if err != nil {
		return CartView{}, err
	}
	v := CartView{Cart: cart, TotalAmountCents: total}
	if v.Tickets == nil {
		v.Tickets = []model.Ticket{}
	}
	if cart.Status == model.CartActive {
		exp := cart.UpdatedAt.Add(m.cutoff)
		v.ExpiresAt = &exp
	}
	return v, nil
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// maxAttempts is reached.
func (m *CartManager) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		m.log.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
		}).Debug("transaction conflict; retrying")
		if attempt < m.maxAttempts && !pause(ctx, time.Duration(attempt)*10*time.Millisecond) {
			return ctx.Err()
		}
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, repository.ErrRetryable) || errors.Is(err, repository.ErrActiveCartExists)
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *CartManager) invalidate(ctx context.Context, userID uint64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, userID); err != nil {
		m.log.WithContext(ctx).WithError(err).WithField("user_id", userID).Warn("cart cache invalidation failed")
	}
}

func (m *CartManager) publishExpired(ctx context.Context, c model.Cart, released []uint64) {
	if m.events == nil {
		return
	}
	_ = m.events.PublishCartExpired(ctx, queue.CartExpiredEvent{
		CartID:    c.ID,
		UserID:    c.UserID,
		TicketIDs: released,
		ExpiredAt: m.now().UTC().Format(time.RFC3339),
	})
}

// totalAmount prices tickets using their raffles' ticket price.
func totalAmount(ctx context.Context, getRaffle func(context.Context, uint64) (model.Raffle, error), tickets []model.Ticket) (uint64, error) {
	prices := make(map[uint64]uint64)
	var total uint64
	for _, t := range tickets {
		price, ok := prices[t.RaffleID]
		if !ok {
			r, err := getRaffle(ctx, t.RaffleID)
			if err != nil {
				return 0, fmt.Errorf("load raffle %d: %w", t.RaffleID, err)
			}
			price = uint64(r.TicketPriceCents)
			prices[t.RaffleID] = price
		}
		total += price
	}
	return total, nil
}

func distinctRaffles(tickets []model.Ticket) []uint64 {
	ids := make([]uint64, 0, len(tickets))
	seen := make(map[uint64]bool)
	for _, t := range tickets {
		if !seen[t.RaffleID] {
			seen[t.RaffleID] = true
			ids = append(ids, t.RaffleID)
		}
	}
	return ids
}
