package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

func reserveInNewCart(f *fixture, userID, raffleID uint64, ids ...uint64) error {
	ctx := context.Background()
	return f.store.WithTx(ctx, func(tx repository.Tx) error {
		cart, err := tx.CreateCart(ctx, userID, f.clock.Now())
		if err != nil {
			return err
		}
		return f.pool.ReserveTx(ctx, tx, raffleID, cart.ID, ids)
	})
}

func TestReserveTxIsAllOrNothing(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, reserveInNewCart(f, 1, f.raffle.ID, 1, 2))

	err := reserveInNewCart(f, 2, f.raffle.ID, 2, 3)

	var unavailable *TicketUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []uint64{2}, unavailable.TicketIDs)
	assert.ErrorIs(t, err, ErrTicketUnavailable)
	assert.Equal(t, model.TicketAvailable, f.ticket(t, 3).Status)
	assert.Nil(t, f.ticket(t, 3).CartID)

	// the failed attempt must not leave its cart behind
	_, err = f.store.ActiveCartForUser(context.Background(), 2)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReserveTxRejectsUnknownAndForeignTickets(t *testing.T) {
	f := newFixture(t, 3)
	other := f.createRaffle(t, 2, model.RaffleActive, 100) // tickets 4 and 5

	err := reserveInNewCart(f, 1, f.raffle.ID, 1, 4, 99)

	var unavailable *TicketUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []uint64{4, 99}, unavailable.TicketIDs)
	assert.Equal(t, model.TicketAvailable, f.ticket(t, 1).Status)
	assert.NotEqual(t, other.ID, f.raffle.ID)
}

func TestReserveTxRequiresOpenRaffle(t *testing.T) {
	f := newFixture(t, 1)
	draft := f.createRaffle(t, 1, model.RaffleDraft, 100)
	closed := f.createRaffle(t, 1, model.RaffleClosed, 100)

	assert.ErrorIs(t, reserveInNewCart(f, 1, draft.ID, 2), ErrRaffleNotOpen)
	assert.ErrorIs(t, reserveInNewCart(f, 1, closed.ID, 3), ErrRaffleNotOpen)
	assert.ErrorIs(t, reserveInNewCart(f, 1, 42, 1), ErrRaffleNotFound)

	f.clock.Advance(60 * 24 * time.Hour) // past the sales window
	assert.ErrorIs(t, reserveInNewCart(f, 1, f.raffle.ID, 1), ErrRaffleNotOpen)
}

func TestReserveTxRequiresTickets(t *testing.T) {
	f := newFixture(t, 1)
	assert.ErrorIs(t, reserveInNewCart(f, 1, f.raffle.ID), ErrNoTickets)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	require.NoError(t, reserveInNewCart(f, 1, f.raffle.ID, 1))
	ctx := context.Background()

	n, err := f.pool.Release(ctx, []uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	first := f.ticket(t, 1)

	n, err = f.pool.Release(ctx, []uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, first, f.ticket(t, 1))
	assert.Equal(t, model.TicketAvailable, first.Status)
	assert.True(t, first.Consistent())
}

func TestCommitRequiresReservedTickets(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, reserveInNewCart(f, 1, f.raffle.ID, 1, 2))
	ctx := context.Background()

	err := f.pool.Commit(ctx, []uint64{1, 3}, 77)
	var invalid *InvalidTicketStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []uint64{3}, invalid.TicketIDs)
	assert.Equal(t, model.TicketReserved, f.ticket(t, 1).Status)

	require.NoError(t, f.pool.Commit(ctx, []uint64{1, 2}, 77))
	sold := f.ticket(t, 1)
	assert.Equal(t, model.TicketSold, sold.Status)
	assert.Nil(t, sold.CartID)
	require.NotNil(t, sold.CustomerID)
	assert.Equal(t, uint64(77), *sold.CustomerID)
	assert.True(t, sold.Consistent())

	// sold tickets cannot be released or sold again
	n, err := f.pool.Release(ctx, []uint64{1})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, f.pool.Commit(ctx, []uint64{1}, 78), ErrInvalidTicketState)
}

func TestPickRandomAvailable(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, reserveInNewCart(f, 1, f.raffle.ID, 1, 2, 3))
	ctx := context.Background()

	picked, err := f.pool.PickRandomAvailable(ctx, f.raffle.ID, 4)
	require.NoError(t, err)
	require.Len(t, picked, 4)
	seen := map[uint64]bool{}
	for _, tk := range picked {
		assert.Equal(t, model.TicketAvailable, tk.Status)
		assert.False(t, seen[tk.ID], "duplicate ticket %d", tk.ID)
		seen[tk.ID] = true
	}

	// picking reserves nothing
	available, err := f.store.AvailableTickets(ctx, f.raffle.ID)
	require.NoError(t, err)
	assert.Len(t, available, 7)

	all, err := f.pool.PickRandomAvailable(ctx, f.raffle.ID, 7)
	require.NoError(t, err)
	assert.Len(t, all, 7)
}

func TestPickRandomAvailableInsufficientInventory(t *testing.T) {
	f := newFixture(t, 5)
	require.NoError(t, reserveInNewCart(f, 1, f.raffle.ID, 1, 2))

	_, err := f.pool.PickRandomAvailable(context.Background(), f.raffle.ID, 5)

	var insufficient *InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Requested)
	assert.Equal(t, 3, insufficient.Available)
	assert.ErrorIs(t, err, ErrInsufficientInventory)
}

func TestPickRandomAvailableValidatesInput(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.pool.PickRandomAvailable(ctx, f.raffle.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.pool.PickRandomAvailable(ctx, 999, 1)
	assert.ErrorIs(t, err, ErrRaffleNotFound)
}

func TestPickRandomAvailableUsesInjectedSource(t *testing.T) {
	f := newFixture(t, 5)
	// always swap with the last remaining slot: [1 2 3 4 5] -> [5 1 3 4 2]
	pool := NewTicketPool(f.store, f.log, WithRandom(func(n int) int { return n - 1 }))

	picked, err := pool.PickRandomAvailable(context.Background(), f.raffle.ID, 2)

	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 5}, []uint32{picked[0].Number, picked[1].Number})
}

func TestPickRandomAvailableIsRoughlyUniform(t *testing.T) {
	f := newFixture(t, 4)
	counts := map[uint32]int{}
	const draws = 4000
	for i := 0; i < draws; i++ {
		picked, err := f.pool.PickRandomAvailable(context.Background(), f.raffle.ID, 1)
		require.NoError(t, err)
		counts[picked[0].Number]++
	}
	for n := uint32(1); n <= 4; n++ {
		assert.InDelta(t, draws/4, counts[n], 250, "ticket %d drawn %d times", n, counts[n])
	}
}

func TestNormalizeIDs(t *testing.T) {
	assert.Nil(t, normalizeIDs(nil))
	assert.Equal(t, []uint64{1, 2, 5}, normalizeIDs([]uint64{5, 1, 2, 5, 1}))
}
