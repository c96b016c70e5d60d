package config

import "time"

// CacheConfig covers the two Redis caches: the HTTP response cache on
// public raffle reads and the per-user cart view cache.
type CacheConfig struct {
    Enabled      bool            // response cache on/off
    Methods      map[string]bool // cached HTTP methods
    TTL          time.Duration   // response lifetime
    KeyStrategy  string          // see middleware.NewRedisCache
    Prefix       string
    MaxBodyBytes int           // larger responses are served but not stored
    CartTTL      time.Duration // base lifetime of a cached cart view
}

// LoadCacheConfig reads CACHE_* and CART_CACHE_TTL.  Raffle listings change
// rarely so responses live longer than cart views, which are invalidated on
// every cart mutation anyway.
func LoadCacheConfig() CacheConfig {
    cfg := CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        Methods:      envSet("CACHE_METHODS", "GET"),
        TTL:          envDur("CACHE_TTL", time.Minute),
        KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "route_query"),
        Prefix:       envStr("CACHE_PREFIX", "cache"),
        MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
        CartTTL:      envDur("CART_CACHE_TTL", 30*time.Second),
    }
    if cfg.TTL <= 0 {
        cfg.Enabled = false
    }
    if cfg.CartTTL <= 0 {
        cfg.CartTTL = 30 * time.Second
    }
    if cfg.MaxBodyBytes < 0 {
        cfg.MaxBodyBytes = 0
    }
    return cfg
}
