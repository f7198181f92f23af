package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/openhours/libs/config"
	"github.com/md-rashed-zaman/openhours/libs/httpx"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/events"
)

type Config struct {
	ServiceName string
	Port        string
	GRPCPort    string

	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CacheCapacity   int
	CacheDefaultTTL time.Duration

	KafkaBrokers string
	KafkaGroupID string
	KafkaTopic   string
	// Invalidate consumes change events to drop cached results written by
	// other replicas.
	Invalidate bool

	// Zero disables rate limiting.
	RateLimit       int
	RateLimitWindow time.Duration
}

func LoadConfig() (Config, error) {
	var (
		cfg  Config
		err  error
		errs []error
	)
	cfg.ServiceName = config.String("SERVICE_NAME", "availability-service")
	if cfg.Port, err = config.Port("PORT", "8090"); err != nil {
		errs = append(errs, err)
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9095"); err != nil {
		errs = append(errs, err)
	}

	cfg.DatabaseURL = config.String("DATABASE_URL", "")
	cfg.SQLitePath = config.String("SQLITE_PATH", "")
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		cfg.SQLitePath = "availability.db"
	}

	cfg.RedisAddr = config.String("REDIS_ADDR", "")
	cfg.RedisPassword = config.String("REDIS_PASSWORD", "")
	if cfg.RedisDB, err = config.Int("REDIS_DB", 0); err != nil {
		errs = append(errs, err)
	}

	if cfg.CacheCapacity, err = config.Int("CACHE_CAPACITY", cache.DefaultCapacity); err != nil {
		errs = append(errs, err)
	} else if cfg.CacheCapacity <= 0 {
		errs = append(errs, errors.New("CACHE_CAPACITY must be positive"))
	}
	if cfg.CacheDefaultTTL, err = config.Duration("CACHE_DEFAULT_TTL_SECONDS", cache.DefaultTTL); err != nil {
		errs = append(errs, err)
	} else if cfg.CacheDefaultTTL <= 0 {
		errs = append(errs, errors.New("CACHE_DEFAULT_TTL_SECONDS must be positive"))
	}

	cfg.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	cfg.KafkaTopic = config.String("KAFKA_TOPIC", events.TopicWindowsChanged)
	cfg.KafkaGroupID = config.String("KAFKA_GROUP_ID", "")
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = defaultGroupID(cfg.ServiceName)
	}
	if cfg.Invalidate, err = config.Bool("CACHE_INVALIDATION_ENABLED", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimit, cfg.RateLimitWindow, err = httpx.ParseRateLimit(config.String("RATE_LIMIT", "")); err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// defaultGroupID is unique per process: every replica has to see every
// invalidation.
func defaultGroupID(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return service + "-cache-" + host + "-" + uuid.NewString()[:8]
}
