// Package ratelimit implements fixed-window request/token counters backed by
// a shared key-value store, failing open when that store is unreachable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const window = 60 * time.Second

// Scope names the identifier namespace a check is performed under.
type Scope string

const (
	ScopeIP  Scope = "ip"
	ScopeKey Scope = "key"
)

// RedisClient is the subset of *redis.Client this package depends on, kept
// narrow so tests can supply an in-memory fake instead of a live server.
type RedisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Limiter enforces per-identifier request and token counters within a
// fixed 60-second bucket.
type Limiter struct {
	redis  RedisClient
	logger *slog.Logger
}

// New builds a Limiter over the given Redis client.
func New(rdb RedisClient, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{redis: rdb, logger: logger}
}

// Result carries the outcome of a Check call.
type Result struct {
	Allowed           bool
	RemainingRequests int64
	RemainingTokens   int64
	CurrentRequests   int64
	CurrentTokens     int64
	LimitRequests     int64
	LimitTokens       int64
	ResetInSeconds    int64
	Err               string // set when the check fail-opened due to store unavailability
}

// Check atomically increments the request counter (and, when estTokens > 0,
// the token counter) for identifier within scope, and reports whether both
// stay within limitRPM/limitTPM. If the store is unreachable, Check fails
// open: it logs a warning and returns Allowed=true with Err populated.
func (l *Limiter) Check(ctx context.Context, scope Scope, identifier string, limitRPM, limitTPM, estTokens int64) Result {
	rpmKey := fmt.Sprintf("rate_limit:%s:%s:rpm", scope, identifier)
	tpmKey := fmt.Sprintf("rate_limit:%s:%s:tpm", scope, identifier)

	rpmPost, err := l.incrWithTTL(ctx, rpmKey, 1)
	if err != nil {
		return l.failOpen(err)
	}

	var tpmPost int64
	if estTokens > 0 {
		tpmPost, err = l.incrWithTTL(ctx, tpmKey, estTokens)
		if err != nil {
			return l.failOpen(err)
		}
	} else {
		tpmPost, err = l.redis.Get(ctx, tpmKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return l.failOpen(err)
		}
	}

	ttl, err := l.redis.TTL(ctx, rpmKey).Result()
	if err != nil {
		return l.failOpen(err)
	}
	resetIn := int64(ttl / time.Second)
	if resetIn < 0 {
		resetIn = int64(window / time.Second)
	}

	res := Result{
		Allowed:           rpmPost <= limitRPM && tpmPost <= limitTPM,
		CurrentRequests:   rpmPost,
		CurrentTokens:     tpmPost,
		LimitRequests:     limitRPM,
		LimitTokens:       limitTPM,
		ResetInSeconds:    resetIn,
		RemainingRequests: max0(limitRPM - rpmPost),
		RemainingTokens:   max0(limitTPM - tpmPost),
	}
	return res
}

func (l *Limiter) incrWithTTL(ctx context.Context, key string, by int64) (int64, error) {
	post, err := l.redis.IncrBy(ctx, key, by).Result()
	if err != nil {
		return 0, err
	}
	if post == by {
		// First increment in this window: arm the TTL. INCRBY is atomic,
		// so only the call that created the key sees post==by.
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return post, nil
}

func (l *Limiter) failOpen(err error) Result {
	l.logger.Warn("rate limiter store unreachable, failing open", "error", err)
	return Result{Allowed: true, Err: err.Error()}
}

func max0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
