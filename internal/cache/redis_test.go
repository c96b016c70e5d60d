package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

func setupTestRedis(t *testing.T) (*RedisCartCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCartCache(client, "", time.Minute), mr
}

func sampleView() service.CartView {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cartID := uint64(7)
	expires := now.Add(time.Hour)
	return service.CartView{
		Cart: model.Cart{
			ID:     cartID,
			UserID: 42,
			Status: model.CartActive,
			Tickets: []model.Ticket{
				{ID: 3, RaffleID: 1, Number: 3, Status: model.TicketReserved, CartID: &cartID, UpdatedAt: now},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		TotalAmountCents: 500,
		ExpiresAt:        &expires,
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := setupTestRedis(t)
	_, gen, ok, err := c.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, gen)
}

func TestSetThenGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()
	view := sampleView()

	stored, err := c.Set(ctx, 42, 0, view)
	require.NoError(t, err)
	require.True(t, stored)

	got, gen, ok, err := c.Get(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, gen)
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, view.TotalAmountCents, got.TotalAmountCents)
	assert.Equal(t, model.TicketIDs(view.Tickets), model.TicketIDs(got.Tickets))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, view.ExpiresAt.Equal(*got.ExpiresAt))

	ttl := mr.TTL("cart:42")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+15*time.Second)
}

func TestEntriesExpire(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()
	_, err := c.Set(ctx, 42, 0, sampleView())
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, _, ok, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateAdvancesGeneration(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()
	_, err := c.Set(ctx, 42, 0, sampleView())
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, 42))
	assert.False(t, mr.Exists("cart:42"))
	_, gen, ok, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), gen)
	assert.Greater(t, mr.TTL("cart:42:gen"), time.Hour)

	// invalidating a missing view is not an error
	require.NoError(t, c.Invalidate(ctx, 42))
	_, gen, _, err = c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
}

func TestSetRefusesViewsFromAnOlderGeneration(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	// a reader misses at generation 0, then the cart changes
	_, gen, _, err := c.Get(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 42))

	stored, err := c.Set(ctx, 42, gen, sampleView())
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("cart:42"))

	_, gen, _, err = c.Get(ctx, 42)
	require.NoError(t, err)
	stored, err = c.Set(ctx, 42, gen, sampleView())
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestGetCorruptEntry(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("cart:42", "{not json"))

	_, _, ok, err := c.Get(context.Background(), 42)
	assert.Error(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("cart:42:gen", "x"))
	_, _, _, err = c.Get(context.Background(), 42)
	assert.Error(t, err)
}

func TestRedisErrorsAreReported(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()
	ctx := context.Background()

	_, _, _, err := c.Get(ctx, 42)
	assert.Error(t, err)
	_, err = c.Set(ctx, 42, 0, sampleView())
	assert.Error(t, err)
	assert.Error(t, c.Invalidate(ctx, 42))
}

var _ service.CartCache = (*RedisCartCache)(nil)
