package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// sweepLockKey names the distributed lock held while sweeping.
const sweepLockKey = "sweeper:carts"

// Locker grants a short-lived exclusive lease.  TryLock never blocks: it
// reports acquired == false when another holder owns the lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// SweepSummary aggregates the outcome of one sweep.
type SweepSummary struct {
	Found           int           `json:"found"`
	Expired         int           `json:"expired"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	ReleasedTickets int           `json:"released_tickets"`
	Errors          []CartFailure `json:"errors,omitempty"`
}

// CartFailure records why one cart could not be expired.
type CartFailure struct {
	CartID  uint64 `json:"cart_id"`
	UserID  uint64 `json:"user_id"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func newCartFailure(c model.Cart, err error) CartFailure {
	return CartFailure{CartID: c.ID, UserID: c.UserID, Message: err.Error(), Err: err}
}

// Sweeper expires carts left untouched for longer than the cart manager's
// cutoff.  Run triggers it on a fixed interval; when a Locker is set only
// one process sweeps at a time.
type Sweeper struct {
	store    repository.Store
	carts    *CartManager
	locker   Locker
	log      *logrus.Logger
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithLocker guards each sweep with a distributed lease held for ttl.
func WithLocker(l Locker, ttl time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithInterval sets the period of Run.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweeperClock overrides the time source.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper returns a Sweeper that sweeps every minute by default.
func NewSweeper(store repository.Store, carts *CartManager, log *logrus.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		carts:    carts,
		log:      log,
		interval: time.Minute,
		lockTTL:  30 * time.Second,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindExpiredCarts returns the ACTIVE carts last updated before cutoff.
func (s *Sweeper) FindExpiredCarts(ctx context.Context, cutoff time.Time) ([]model.Cart, error) {
	return s.store.FindExpiredCarts(ctx, cutoff)
}

// Sweep expires every cart past the cutoff.  The listing is only a
// candidate set: each cart is re-checked inside its own transaction.
// The returned error covers the listing only; per-cart failures are
// reported in the summary.
func (s *Sweeper) Sweep(ctx context.Context) (SweepSummary, error) {
	cutoff := s.now().Add(-s.carts.Cutoff())
	carts, err := s.FindExpiredCarts(ctx, cutoff)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("find expired carts: %w", err)
	}
	if len(carts) == 0 {
		return SweepSummary{}, nil
	}
	sum := s.carts.ReleaseExpiredCarts(ctx, carts)
	s.log.WithContext(ctx).WithFields(logrus.Fields{
		"found":    sum.Found,
		"expired":  sum.Expired,
		"skipped":  sum.Skipped,
		"failed":   sum.Failed,
		"released": sum.ReleasedTickets,
	}).Info("cart sweep finished")
	return sum, nil
}

// SweepOnce runs Sweep under the distributed lease.  ran is false when
// another process holds the lease.
func (s *Sweeper) SweepOnce(ctx context.Context) (sum SweepSummary, ran bool, err error) {
	if s.locker == nil {
		sum, err = s.Sweep(ctx)
		return sum, true, err
	}
	unlock, acquired, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		return SweepSummary{}, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		s.log.WithContext(ctx).Debug("sweep lock held elsewhere; skipping")
		return SweepSummary{}, false, nil
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			s.log.WithContext(ctx).WithError(uerr).Warn("could not release sweep lock")
		}
	}()
	sum, err = s.Sweep(ctx)
	return sum, true, err
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.WithField("interval", s.interval.String()).Info("cart sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("cart sweeper stopped")
			return
		case <-ticker.C:
			if _, _, err := s.SweepOnce(ctx); err != nil {
				s.log.WithContext(ctx).WithError(err).Error("cart sweep failed")
			}
		}
	}
}
