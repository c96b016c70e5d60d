package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "time"
)

// Store drivers accepted in STORE_DRIVER.
const (
    StoreMySQL  = "mysql"
    StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database settings are only required when the
// MySQL store is selected.
type Config struct {
    Env            string        // application environment (e.g. "dev", "prod")
    Port           string        // HTTP port to listen on
    StoreDriver    string        // "mysql" or "memory"
    MigrateOnStart bool          // apply embedded migrations at startup
    DBUser         string        // database username
    DBPass         string        // database password (optional)
    DBHost         string        // database host address
    DBPort         string        // database port number
    DBName         string        // database name
    JWTSecret      string        // secret used to verify JWTs
    LogLevel       string        // logrus level name
    AMQPURL        string        // RabbitMQ URL; empty disables events
    CartCutoff     time.Duration // inactivity after which an ACTIVE cart expires
    SweepInterval  time.Duration // period of the expiry sweeper
    SweepLockTTL   time.Duration // lease held by the sweeping instance
    ReserveRetries int           // attempts for a reservation hitting a retryable error
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    cfg := Config{
        Env:            envStr("APP_ENV", "dev"),
        Port:           must("APP_PORT"),
        StoreDriver:    envStr("STORE_DRIVER", StoreMySQL),
        MigrateOnStart: envBool("MIGRATE_ON_START", true),
        JWTSecret:      must("JWT_SECRET"),
        LogLevel:       envStr("LOG_LEVEL", "info"),
        AMQPURL:        envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
        CartCutoff:     envDur("CART_CUTOFF", time.Hour),
        SweepInterval:  envDur("SWEEP_INTERVAL", time.Minute),
        SweepLockTTL:   envDur("SWEEP_LOCK_TTL", 30*time.Second),
        ReserveRetries: envInt("RESERVE_MAX_ATTEMPTS", 3),
    }
    switch cfg.StoreDriver {
    case StoreMySQL:
        cfg.DBUser = must("DB_USER")
        cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
        cfg.DBHost = must("DB_HOST")
        cfg.DBPort = must("DB_PORT")
        cfg.DBName = must("DB_NAME")
    case StoreMemory:
    default:
        log.Fatalf("invalid STORE_DRIVER: %q", cfg.StoreDriver)
    }
    if cfg.ReserveRetries < 1 {
        cfg.ReserveRetries = 1
    }
    return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}
