package main

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-gate/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
	"github.com/keithlinneman/linnemanlabs-gate/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-gate/internal/policy"
	"github.com/keithlinneman/linnemanlabs-gate/internal/ratelimit"
)

// loadPolicy merges the rate limit flags with the optional policy document.
func loadPolicy(ctx context.Context, L log.Logger, conf cfg.App) (policy.Policy, error) {
	base := policy.Default()
	base.MaxRequests = conf.RateLimitMaxRequests
	base.Window = conf.RateLimitWindow
	base.SweepProbability = conf.RateLimitSweepProbability
	base.SweepInterval = conf.RateLimitSweepInterval

	if conf.PolicySource == "" {
		return base, base.Validate()
	}

	loader, err := policy.NewLoader(ctx, policy.LoaderOptions{
		Logger:        L,
		Source:        conf.PolicySource,
		SigningKeyARN: conf.PolicySigningKeyARN,
	})
	if err != nil {
		return policy.Policy{}, err
	}
	return loader.Load(ctx, base)
}

// newStore returns the configured counter store and a close func that is
// safe to call more than once. Memory mode returns a nil store, the limiter
// then counts in its own local store.
func newStore(ctx context.Context, L log.Logger, conf cfg.App) (ratelimit.Store, func(), error) {
	if conf.RateLimitStore != cfg.StoreRedis {
		return nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         conf.RedisAddr,
		Password:     conf.RedisPassword,
		DB:           conf.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
	})
	store := ratelimit.NewRedisStore(client, conf.RedisPrefix)

	// unreachable redis is not fatal, the limiter counts locally until it recovers
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		L.Warn(ctx, "redis unreachable at startup, counting locally until it recovers",
			"redis_addr", conf.RedisAddr,
			"error", err,
		)
	}

	var once sync.Once
	return store, func() {
		once.Do(func() { _ = client.Close() })
	}, nil
}

// newLimiter builds the limiter from the merged policy and wires its hooks
// into metrics and throttled logging.
func newLimiter(ctx context.Context, L log.Logger, conf cfg.App, pol policy.Policy, store ratelimit.Store, m *metrics.ServerMetrics) *ratelimit.Limiter {
	denied := ratelimit.DenialLogger(ctx, L, 5, 20)
	storeErrLog := rate.Sometimes{First: 1, Interval: 30 * time.Second}

	opts := pol.LimiterOptions(pol.BypassFunc(conf.Environment, conf.RateLimitBypass))
	opts = append(opts,
		ratelimit.WithStore(store),
		ratelimit.WithOnDecision(func(d ratelimit.Decision) {
			m.ObserveDecision(d.Allowed, d.Bypassed)
		}),
		ratelimit.WithOnFirstDenied(func(key string) {
			m.OnFirstDenied(key)
			denied(key)
		}),
		ratelimit.WithOnSweep(m.OnSweep),
		ratelimit.WithOnStoreError(func(err error) {
			m.OnStoreError(err)
			storeErrLog.Do(func() {
				L.Warn(ctx, "rate limit store failed, using local counters", "error", err)
			})
		}),
	)

	l := ratelimit.New(ctx, opts...)
	L.Info(ctx, "rate limiter configured",
		"max_requests", l.Limit(),
		"window", l.Window(),
		"sweep_probability", pol.SweepProbability,
		"sweep_interval", pol.SweepInterval,
		"bypass_environments", pol.Bypass.Environments,
	)
	return l
}
