package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedMemory(t *testing.T, tickets uint32) (*MemoryStore, model.Raffle) {
	t.Helper()
	s := NewMemoryStore()
	r, err := s.CreateRaffle(context.Background(), model.Raffle{
		AssociationID:    1,
		Name:             "Club raffle",
		TicketPriceCents: 100,
		TotalTickets:     tickets,
		Status:           model.RaffleActive,
		StartsAt:         t0.Add(-time.Hour),
		EndsAt:           t0.Add(time.Hour),
	})
	require.NoError(t, err)
	return s, r
}

func TestMemoryCreateRaffleGeneratesInventory(t *testing.T) {
	s, r := seedMemory(t, 4)
	ctx := context.Background()

	available, err := s.AvailableTickets(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, available, 4)
	for i, tk := range available {
		assert.Equal(t, uint32(i+1), tk.Number)
		assert.Equal(t, model.TicketAvailable, tk.Status)
		assert.True(t, tk.Consistent())
	}

	draft, err := s.CreateRaffle(ctx, model.Raffle{Name: "later", TotalTickets: 1})
	require.NoError(t, err)
	assert.Equal(t, model.RaffleDraft, draft.Status)

	active, err := s.ListRaffles(ctx, model.RaffleActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, r.ID, active[0].ID)
	all, err := s.ListRaffles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryWithTxRollsBack(t *testing.T) {
	s, _ := seedMemory(t, 2)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		c, err := tx.CreateCart(ctx, 7, t0)
		require.NoError(t, err)
		n, err := tx.ReserveTickets(ctx, c.ID, []uint64{1, 2}, t0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.ActiveCartForUser(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	available, err := s.AvailableTickets(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, available, 2)

	// IDs handed out inside the aborted transaction are reused
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		c, err := tx.CreateCart(ctx, 7, t0)
		assert.Equal(t, uint64(1), c.ID)
		return err
	}))
}

func TestMemoryWithTxUndoesOnlyTouchedRows(t *testing.T) {
	s, _ := seedMemory(t, 1000)
	ctx := context.Background()
	var cart model.Cart
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		cart, err = tx.CreateCart(ctx, 7, t0)
		if err != nil {
			return err
		}
		_, err = tx.ReserveTickets(ctx, cart.ID, []uint64{1, 2}, t0)
		return err
	}))

	later := t0.Add(time.Minute)
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.SellTickets(ctx, []uint64{1, 2}, 99, later)
		require.NoError(t, err)
		require.NoError(t, tx.TouchCart(ctx, cart.ID, later))
		ok, err := tx.UpdateCartStatus(ctx, cart.ID, model.CartActive, model.CartCompleted, later)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.DeleteCart(ctx, cart.ID))
		_, err = tx.CreateCart(ctx, 8, later)
		require.NoError(t, err)

		mt := tx.(*memTx)
		assert.Len(t, mt.tickets, 2, "only changed tickets are recorded")
		assert.Len(t, mt.carts, 2)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CartActive, got.Status)
	assert.True(t, got.UpdatedAt.Equal(t0))
	assert.Equal(t, []uint64{1, 2}, model.TicketIDs(got.Tickets))
	for _, tk := range got.Tickets {
		assert.Equal(t, model.TicketReserved, tk.Status)
		assert.Nil(t, tk.CustomerID)
	}
	_, err = s.ActiveCartForUser(ctx, 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryWithTxHonoursCancelledContext(t *testing.T) {
	s, _ := seedMemory(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithTx(ctx, func(Tx) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryTicketTransitionsAreConditional(t *testing.T) {
	s, _ := seedMemory(t, 3)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		c, err := tx.CreateCart(ctx, 1, t0)
		require.NoError(t, err)

		n, _ := tx.ReserveTickets(ctx, c.ID, []uint64{1, 2}, t0)
		assert.Equal(t, int64(2), n)
		n, _ = tx.ReserveTickets(ctx, c.ID, []uint64{2, 3}, t0)
		assert.Equal(t, int64(1), n, "only the AVAILABLE ticket moves")

		n, _ = tx.SellTickets(ctx, []uint64{1}, 99, t0)
		assert.Equal(t, int64(1), n)
		n, _ = tx.ReleaseTickets(ctx, []uint64{1}, t0)
		assert.Zero(t, n, "sold tickets are never released")

		released, err := tx.ReleaseCartTickets(ctx, c.ID, t0)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 3}, released)

		locked, err := tx.LockTickets(ctx, []uint64{3, 1, 42, 3})
		require.NoError(t, err)
		require.Len(t, locked, 2)
		assert.Equal(t, uint64(1), locked[0].ID)
		assert.Equal(t, model.TicketSold, locked[0].Status)
		assert.True(t, locked[0].Consistent())
		assert.Equal(t, model.TicketAvailable, locked[1].Status)
		return nil
	}))
}

func TestMemoryOneActiveCartPerUser(t *testing.T) {
	s, _ := seedMemory(t, 1)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		c, err := tx.CreateCart(ctx, 5, t0)
		require.NoError(t, err)
		_, err = tx.CreateCart(ctx, 5, t0)
		assert.ErrorIs(t, err, ErrActiveCartExists)

		ok, err := tx.UpdateCartStatus(ctx, c.ID, model.CartActive, model.CartExpired, t0)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.UpdateCartStatus(ctx, c.ID, model.CartActive, model.CartCompleted, t0)
		require.NoError(t, err)
		assert.False(t, ok, "terminal carts do not move")

		_, err = tx.CreateCart(ctx, 5, t0)
		assert.NoError(t, err, "a new cart is allowed once the old one is terminal")
		return nil
	}))
}

func TestMemoryFindExpiredCarts(t *testing.T) {
	s, _ := seedMemory(t, 3)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		old, _ := tx.CreateCart(ctx, 1, t0.Add(-2*time.Hour))
		if _, err := tx.ReserveTickets(ctx, old.ID, []uint64{1}, t0.Add(-2*time.Hour)); err != nil {
			return err
		}
		older, _ := tx.CreateCart(ctx, 2, t0.Add(-3*time.Hour))
		done, _ := tx.CreateCart(ctx, 3, t0.Add(-3*time.Hour))
		if _, err := tx.UpdateCartStatus(ctx, done.ID, model.CartActive, model.CartCompleted, t0.Add(-3*time.Hour)); err != nil {
			return err
		}
		_, err := tx.CreateCart(ctx, 4, t0)
		assert.NotZero(t, older.ID)
		return err
	}))

	carts, err := s.FindExpiredCarts(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, carts, 2)
	assert.Equal(t, uint64(2), carts[0].UserID, "oldest first")
	assert.Equal(t, uint64(1), carts[1].UserID)
	assert.Equal(t, []uint64{1}, model.TicketIDs(carts[1].Tickets))
}

func TestMemorySearchPagination(t *testing.T) {
	s, r := seedMemory(t, 10)
	ctx := context.Background()

	got, err := s.SearchTickets(ctx, TicketFilter{RaffleID: r.ID, NumberFrom: 3, NumberTo: 8, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(5), got[0].Number)
	assert.Equal(t, uint32(6), got[1].Number)

	got, err = s.SearchTickets(ctx, TicketFilter{RaffleID: r.ID, Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, got)

	for u := uint64(1); u <= 3; u++ {
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.CreateCart(ctx, u, t0)
			return err
		}))
	}
	carts, err := s.SearchCarts(ctx, CartFilter{Status: model.CartActive, Limit: 2})
	require.NoError(t, err)
	require.Len(t, carts, 2)
	assert.Equal(t, uint64(3), carts[0].ID, "newest first")
}

func TestPageBounds(t *testing.T) {
	l, o := pageBounds(0, -3)
	assert.Equal(t, DefaultPageSize, l)
	assert.Zero(t, o)
	l, _ = pageBounds(MaxPageSize+1, 0)
	assert.Equal(t, MaxPageSize, l)
}

func TestMemoryOrders(t *testing.T) {
	m := NewMemoryOrders()
	ctx := context.Background()

	rc, err := m.Finalize(ctx, model.OrderHandoff{
		CartID: 3, UserID: 4, CustomerID: 5, TicketIDs: []uint64{1, 2},
		TotalAmountCents: 200, PaymentMethod: model.PaymentCard,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rc.PaymentReference)
	assert.Equal(t, uint64(200), rc.TotalAmountCents)

	o, err := m.GetOrder(ctx, rc.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, o.Status)

	require.NoError(t, m.Void(ctx, rc))
	o, err = m.GetOrder(ctx, rc.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderVoided, o.Status)

	_, err = m.GetOrder(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Void(ctx, model.OrderReceipt{OrderID: 99}), ErrNotFound)
}
