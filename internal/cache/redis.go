// Package cache keeps per-user cart views in Redis so that frequent cart
// status polls do not hit the database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/raffle-reservation/internal/service"
)

// setIfCurrent stores the view only while the user's generation still
// equals the one the view was loaded at.  A missing generation is 0.
var setIfCurrent = redis.NewScript(`
	local cur = redis.call('GET', KEYS[2]) or '0'
	if cur ~= ARGV[1] then
		return 0
	end
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
`)

// bumpGeneration drops the view and advances the generation.
var bumpGeneration = redis.NewScript(`
	redis.call('DEL', KEYS[1])
	local gen = redis.call('INCR', KEYS[2])
	redis.call('PEXPIRE', KEYS[2], ARGV[1])
	return gen
`)

// RedisCartCache implements service.CartCache.  A user's view lives at
// prefix:id and its generation counter at prefix:id:gen.
type RedisCartCache struct {
	client  *redis.Client
	prefix  string
	baseTTL time.Duration
	jitter  time.Duration
	genTTL  time.Duration
}

// NewRedisCartCache stores views for baseTTL plus up to a quarter of it as
// random jitter so entries written together do not expire together.
func NewRedisCartCache(client *redis.Client, prefix string, baseTTL time.Duration) *RedisCartCache {
	if prefix == "" {
		prefix = "cart"
	}
	if baseTTL <= 0 {
		baseTTL = 30 * time.Second
	}
	return &RedisCartCache{
		client:  client,
		prefix:  prefix,
		baseTTL: baseTTL,
		jitter:  baseTTL / 4,
		genTTL:  max(24*time.Hour, 10*baseTTL),
	}
}

func (r *RedisCartCache) Get(ctx context.Context, userID uint64) (service.CartView, uint64, bool, error) {
	vals, err := r.client.MGet(ctx, r.key(userID), r.genKey(userID)).Result()
	if err != nil {
		return service.CartView{}, 0, false, fmt.Errorf("redis get failed: %w", err)
	}
	var gen uint64
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseUint(s, 10, 64); err != nil {
			return service.CartView{}, 0, false, fmt.Errorf("parse cart generation failed: %w", err)
		}
	}
	data, ok := vals[0].(string)
	if !ok {
		return service.CartView{}, gen, false, nil
	}
	var view service.CartView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return service.CartView{}, 0, false, fmt.Errorf("unmarshal cart view failed: %w", err)
	}
	return view, gen, true, nil
}

func (r *RedisCartCache) Set(ctx context.Context, userID, gen uint64, view service.CartView) (bool, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return false, fmt.Errorf("marshal cart view failed: %w", err)
	}
	n, err := setIfCurrent.Run(ctx, r.client, []string{r.key(userID), r.genKey(userID)},
		strconv.FormatUint(gen, 10), data, r.ttl().Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set failed: %w", err)
	}
	return n == 1, nil
}

func (r *RedisCartCache) Invalidate(ctx context.Context, userID uint64) error {
	err := bumpGeneration.Run(ctx, r.client, []string{r.key(userID), r.genKey(userID)}, r.genTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

func (r *RedisCartCache) ttl() time.Duration {
	if r.jitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + rand.N(r.jitter)
}

func (r *RedisCartCache) key(userID uint64) string {
	return r.prefix + ":" + strconv.FormatUint(userID, 10)
}

func (r *RedisCartCache) genKey(userID uint64) string {
	return r.key(userID) + ":gen"
}
