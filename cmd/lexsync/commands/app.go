package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lexsync/lexsync/internal/alerts"
	"github.com/lexsync/lexsync/internal/api"
	"github.com/lexsync/lexsync/internal/cache"
	"github.com/lexsync/lexsync/internal/config"
	"github.com/lexsync/lexsync/internal/database"
	"github.com/lexsync/lexsync/internal/legislation"
	"github.com/lexsync/lexsync/internal/logging"
	"github.com/lexsync/lexsync/internal/metrics"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/lexsync/lexsync/internal/ratelimit"
	"github.com/lexsync/lexsync/internal/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg         *config.Config
	registry    *prometheus.Registry
	store       *database.SQLiteStore
	redis       *redis.Client
	caches      map[string]cache.Inspector
	legislation *legislation.Service
	alerts      *alerts.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logging.Setup(cfg.Logging)

	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		caches:   make(map[string]cache.Inspector),
	}
	m := metrics.New(a.registry)

	if cfg.Cache.Backend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.Redis.Addr, err)
		}
	}

	limiters := ratelimit.NewGroup(map[string]time.Duration{
		search.SourceBOE:    cfg.Sources.BOE.MinInterval,
		search.SourceCENDOJ: cfg.Sources.CENDOJ.MinInterval,
	}, time.Second)

	gazette := search.NewGazetteClient(search.GazetteOptions{
		BaseURL:      cfg.Sources.BOE.BaseURL,
		UserAgent:    cfg.Sources.BOE.UserAgent,
		Timeout:      cfg.Sources.BOE.Timeout,
		Limiter:      limiters.For(search.SourceBOE),
		Cache:        a.responseCache(search.SourceBOE, cfg.Sources.BOE.CacheTTL),
		Metrics:      m,
		MaxRangeDays: cfg.Sync.MaxRangeDays,
	})
	caseLaw := search.NewCaseLawClient(search.CaseLawOptions{
		BaseURL:   cfg.Sources.CENDOJ.BaseURL,
		UserAgent: cfg.Sources.CENDOJ.UserAgent,
		Timeout:   cfg.Sources.CENDOJ.Timeout,
		Limiter:   limiters.For(search.SourceCENDOJ),
		Cache:     a.responseCache(search.SourceCENDOJ, cfg.Sources.CENDOJ.CacheTTL),
		Metrics:   m,
	})

	store, err := database.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	a.legislation = legislation.NewService(gazette, caseLaw, store, legislation.Options{
		MaxRangeDays: cfg.Sync.MaxRangeDays,
		SyncTimeout:  cfg.Sync.Timeout,
		Metrics:      m,
	})
	a.alerts = alerts.NewService(store, a.legislation, cfg.Alerts.MatchLimit, m)

	log.Info().
		Str("database", cfg.Database.Path).
		Str("cache_backend", cfg.Cache.Backend).
		Int("max_range_days", cfg.Sync.MaxRangeDays).
		Msg("LexSync initialized")
	return a, nil
}

// responseCache builds the per-source cache, or nil when ttl disables it.
func (a *app) responseCache(source string, ttl time.Duration) cache.Cache[models.ResultSet] {
	if ttl <= 0 {
		return nil
	}
	opts := cache.Options{TTL: ttl, MaxEntries: a.cfg.Cache.MaxEntries}

	var c cache.Cache[models.ResultSet]
	if a.redis != nil {
		c = cache.NewRedis[models.ResultSet](a.redis, a.cfg.Cache.Redis.Prefix+source+":", opts)
	} else {
		c = cache.NewMemory[models.ResultSet](opts)
	}
	a.caches[source] = c
	return c
}

func (a *app) router() http.Handler {
	handler := api.NewHandler(a.legislation, a.alerts, a.store, a.caches)
	return api.NewRouter(a.cfg, handler, a.registry)
}

// Close releases the store and the redis client.
func (a *app) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
