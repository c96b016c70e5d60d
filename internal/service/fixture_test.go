package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/queue"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu        sync.Mutex
	completed []queue.OrderCompletedEvent
	expired   []queue.CartExpiredEvent
}

func (p *recordingPublisher) PublishOrderCompleted(_ context.Context, ev queue.OrderCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, ev)
	return nil
}

func (p *recordingPublisher) PublishCartExpired(_ context.Context, ev queue.CartExpiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, ev)
	return nil
}

type failingFinalizer struct{}

func (failingFinalizer) Finalize(context.Context, model.OrderHandoff) (model.OrderReceipt, error) {
	return model.OrderReceipt{}, errors.New("payment gateway down")
}

func (failingFinalizer) Void(context.Context, model.OrderReceipt) error { return nil }

type fixture struct {
	store   *repository.MemoryStore
	orders  *repository.MemoryOrders
	events  *recordingPublisher
	clock   *testClock
	log     *logrus.Logger
	hook    *test.Hook
	pool    *TicketPool
	carts   *CartManager
	sweeper *Sweeper
	raffle  model.Raffle
}

// newFixture builds the reservation core over a memory store holding one
// ACTIVE raffle whose tickets are numbered, and identified, 1..tickets.
func newFixture(t *testing.T, tickets uint32, opts ...CartOption) *fixture {
	t.Helper()
	f := &fixture{
		store:  repository.NewMemoryStore(),
		orders: repository.NewMemoryOrders(),
		events: &recordingPublisher{},
		clock:  newTestClock(),
	}
	f.log, f.hook = test.NewNullLogger()
	f.log.SetLevel(logrus.DebugLevel)
	f.raffle = f.createRaffle(t, tickets, model.RaffleActive, 500)
	f.build(f.store, f.orders, opts...)
	return f
}

// build (re)wires the services over store and finalizer.
func (f *fixture) build(store repository.Store, fin Finalizer, opts ...CartOption) {
	f.pool = NewTicketPool(store, f.log, WithPoolClock(f.clock.Now))
	base := []CartOption{
		WithClock(f.clock.Now),
		WithEvents(f.events),
		WithCutoff(time.Hour),
	}
	f.carts = NewCartManager(store, f.pool, fin, f.log, append(base, opts...)...)
	f.sweeper = NewSweeper(store, f.carts, f.log, WithSweeperClock(f.clock.Now))
}

func (f *fixture) createRaffle(t *testing.T, tickets uint32, status model.RaffleStatus, price uint32) model.Raffle {
	t.Helper()
	now := f.clock.Now()
	r, err := f.store.CreateRaffle(context.Background(), model.Raffle{
		AssociationID:    1,
		Name:             "Spring raffle",
		TicketPriceCents: price,
		TotalTickets:     tickets,
		Status:           status,
		StartsAt:         now.Add(-time.Hour),
		EndsAt:           now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) ticket(t *testing.T, id uint64) model.Ticket {
	t.Helper()
	var out model.Ticket
	err := f.store.WithTx(context.Background(), func(tx repository.Tx) error {
		got, err := tx.LockTickets(context.Background(), []uint64{id})
		if err != nil {
			return err
		}
		require.Len(t, got, 1)
		out = got[0]
		return nil
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) reserve(t *testing.T, userID uint64, ids ...uint64) CartView {
	t.Helper()
	v, err := f.carts.ReserveForUser(context.Background(), userID, f.raffle.ID, ids)
	require.NoError(t, err)
	return v
}

// storeWrapper lets tests intercept transactions of an underlying store.
type storeWrapper struct {
	repository.Store
	wrapTx  func(tx repository.Tx) repository.Tx
	after   func() error
	calls   int
	mu      sync.Mutex
	failN   int
	failErr error
}

func (w *storeWrapper) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	w.mu.Lock()
	w.calls++
	failing := w.calls <= w.failN
	w.mu.Unlock()
	if failing {
		return w.failErr
	}
	return w.Store.WithTx(ctx, func(tx repository.Tx) error {
		if w.wrapTx != nil {
			tx = w.wrapTx(tx)
		}
		if err := fn(tx); err != nil {
			return err
		}
		if w.after != nil {
			return w.after()
		}
		return nil
	})
}
