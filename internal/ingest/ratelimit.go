package ingest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"epireport/internal/config"
	"epireport/internal/metrics"
)

// RateLimit builds a per-client-IP limiter for the webhook. It returns nil
// when rate limiting is disabled.
func RateLimit(cfg config.RateLimitConfig, metricsStore *metrics.Store) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", cfg.Rate, err)
	}
	store, err := newLimiterStore(cfg)
	if err != nil {
		return nil, err
	}
	mw := stdlib.NewMiddleware(limiter.New(store, rate),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			metricsStore.IngestRequest(http.StatusTooManyRequests)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}),
	)
	return mw.Handler, nil
}

func newLimiterStore(cfg config.RateLimitConfig) (limiter.Store, error) {
	switch strings.ToLower(cfg.Store) {
	case "", "memory":
		return memory.NewStore(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("rate limit redis store requires redis_addr")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "epireport:ingest"})
		if err != nil {
			return nil, fmt.Errorf("rate limit redis store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.Store)
	}
}
