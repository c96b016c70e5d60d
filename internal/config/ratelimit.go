package config

import "time"

// Bucket is one token bucket: Capacity requests in a burst, topped up by
// RefillTokens every RefillInterval.  Name scopes the bucket's Redis keys.
type Bucket struct {
    Name           string
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
}

// RateLimitConfig holds the limiter settings shared by every bucket plus
// one bucket per limited cart operation.  Reserve and release draw from
// Cart; checkout has its own tighter Checkout bucket.
type RateLimitConfig struct {
    Enabled     bool
    TTL         time.Duration // idle lifetime of bucket state in Redis
    KeyStrategy string        // see middleware.buildRateKey
    Prefix      string
    Debug       bool // expose the bucket key in X-RateLimit-Key
    Cart        Bucket
    Checkout    Bucket
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  Per bucket settings
// are RATE_LIMIT_CART_* and RATE_LIMIT_CHECKOUT_* with the suffixes
// CAPACITY, REFILL_TOKENS and REFILL_INTERVAL.
func LoadRateLimitConfig() RateLimitConfig {
    cfg := RateLimitConfig{
        Enabled:     envBool("RATE_LIMIT_ENABLED", true),
        TTL:         envDur("RATE_LIMIT_TTL", 10*time.Minute),
        KeyStrategy: envStr("RATE_LIMIT_KEY_STRATEGY", "user"),
        Prefix:      envStr("RATE_LIMIT_PREFIX", "rl"),
        Debug:       envBool("RATE_LIMIT_DEBUG", false),
        Cart:        loadBucket("cart", "RATE_LIMIT_CART", 30, time.Second),
        Checkout:    loadBucket("checkout", "RATE_LIMIT_CHECKOUT", 5, 10*time.Second),
    }
    // state must survive several refills of the slowest bucket
    minTTL := 5 * max(cfg.Cart.RefillInterval, cfg.Checkout.RefillInterval)
    if cfg.TTL < minTTL {
        cfg.TTL = minTTL
    }
    return cfg
}

func loadBucket(name, env string, capacity int, every time.Duration) Bucket {
    b := Bucket{
        Name:           name,
        Capacity:       envInt(env+"_CAPACITY", capacity),
        RefillTokens:   envInt(env+"_REFILL_TOKENS", 1),
        RefillInterval: envDur(env+"_REFILL_INTERVAL", every),
    }
    if b.Capacity < 1 {
        b.Capacity = 1
    }
    if b.RefillTokens < 1 {
        b.RefillTokens = 1
    }
    if b.RefillInterval <= 0 {
        b.RefillInterval = every
    }
    return b
}
