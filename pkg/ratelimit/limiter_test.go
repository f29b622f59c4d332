package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is a minimal in-memory stand-in for RedisClient, sufficient to
// exercise the limiter's INCR+EXPIRE logic without a live Redis server.
type fakeRedis struct {
	mu       sync.Mutex
	values   map[string]int64
	expireAt map[string]time.Time
	broken   bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]int64{}, expireAt: map[string]time.Time{}}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	return f.IncrBy(ctx, key, 1)
}

func (f *fakeRedis) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.broken {
		cmd.SetErr(fmt.Errorf("connection refused"))
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] += value
	cmd.SetVal(f.values[key])
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if f.broken {
		cmd.SetErr(fmt.Errorf("connection refused"))
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireAt[key] = time.Now().Add(expiration)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.broken {
		cmd.SetErr(fmt.Errorf("connection refused"))
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(fmt.Sprintf("%d", v))
	return cmd
}

func (f *fakeRedis) TTL(ctx context.Context, key string) *redis.DurationCmd {
	cmd := redis.NewDurationCmd(ctx, time.Second)
	if f.broken {
		cmd.SetErr(fmt.Errorf("connection refused"))
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.expireAt[key]
	if !ok {
		cmd.SetVal(-2 * time.Second)
		return cmd
	}
	cmd.SetVal(time.Until(exp))
	return cmd
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	l := New(newFakeRedis(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.Check(ctx, ScopeKey, "sk-proxy-abc", 60, 100000, 10)
		if !res.Allowed {
			t.Fatalf("iteration %d: expected allowed", i)
		}
	}
}

func TestCheckDeniesOverRPM(t *testing.T) {
	l := New(newFakeRedis(), nil)
	ctx := context.Background()

	var last Result
	for i := 0; i < 3; i++ {
		last = l.Check(ctx, ScopeKey, "sk-proxy-override", 2, 1<<30, 0)
	}

	if last.Allowed {
		t.Fatal("expected third request to be denied")
	}
	if last.RemainingRequests != 0 {
		t.Errorf("expected RemainingRequests=0, got %d", last.RemainingRequests)
	}
}

func TestCheckDeniesOverTPM(t *testing.T) {
	l := New(newFakeRedis(), nil)
	ctx := context.Background()

	res := l.Check(ctx, ScopeKey, "sk-proxy-tokens", 1000, 50, 60)
	if res.Allowed {
		t.Fatal("expected request exceeding token budget to be denied")
	}
}

func TestCheckFailsOpenOnStoreError(t *testing.T) {
	fr := newFakeRedis()
	fr.broken = true
	l := New(fr, nil)

	res := l.Check(context.Background(), ScopeIP, "1.2.3.4", 1, 1, 1000)
	if !res.Allowed {
		t.Fatal("expected fail-open to allow the request")
	}
	if res.Err == "" {
		t.Error("expected Err to be populated on fail-open")
	}
}

func TestSteadyOneRPSNeverDenies(t *testing.T) {
	l := New(newFakeRedis(), nil)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		res := l.Check(ctx, ScopeKey, "steady", 60, 1<<30, 0)
		if !res.Allowed {
			t.Fatalf("request %d unexpectedly denied under steady 1rps vs limit 60rpm", i)
		}
	}
}

func TestSteady120RPMDeniesAtLeastHalf(t *testing.T) {
	l := New(newFakeRedis(), nil)
	ctx := context.Background()

	denied := 0
	for i := 0; i < 120; i++ {
		res := l.Check(ctx, ScopeKey, "burst", 60, 1<<30, 0)
		if !res.Allowed {
			denied++
		}
	}

	if denied < 60 {
		t.Errorf("expected at least 60 denials out of 120 requests against a 60rpm limit, got %d", denied)
	}
}
