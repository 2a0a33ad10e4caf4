package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestIncrWithTTLSetsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i := 1; i <= 3; i++ {
		count, err := client.IncrWithTTL(ctx, "livs:rate_limit:contact", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != int64(i) {
			t.Fatalf("expected counter %d got %d", i, count)
		}
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected a single expire, got %d", len(mock.expireCalls))
	}
}

func TestTaggedCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	productKey := client.CacheKey("product", "42")
	listKey := client.CacheKey("products", "page-1")
	if err := client.SetTagged(ctx, productKey, "p42", time.Minute, "products", "product:42"); err != nil {
		t.Fatalf("set tagged: %v", err)
	}
	if err := client.SetTagged(ctx, listKey, "list", time.Minute, "products"); err != nil {
		t.Fatalf("set tagged: %v", err)
	}

	dropped, err := client.InvalidateTags(ctx, "product:42")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("expected 1 dropped key, got %d", dropped)
	}
	if _, err := client.Get(ctx, productKey); err != redis.Nil {
		t.Fatalf("expected product entry gone, got %v", err)
	}
	if v, err := client.Get(ctx, listKey); err != nil || v != "list" {
		t.Fatalf("list entry should survive, got %q %v", v, err)
	}

	dropped, err = client.InvalidateTags(ctx, "products")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("expected both members dropped, got %d", dropped)
	}
	if _, err := client.Get(ctx, listKey); err != redis.Nil {
		t.Fatalf("expected list entry gone, got %v", err)
	}
}

func TestInvalidateUnknownTag(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	dropped, err := client.InvalidateTags(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("expected nothing dropped, got %d", dropped)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "livs:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "livs:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CartKey("sess"); got != "livs:cart:sess" {
		t.Fatalf("unexpected cart key %s", got)
	}
	if got := client.TagKey("products"); got != "livs:tag:products" {
		t.Fatalf("unexpected tag key %s", got)
	}
	if got := client.CacheKey("product", "", "7"); got != "livs:cache:product:7" {
		t.Fatalf("cache key should skip empty parts, got %s", got)
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	sets        map[string]map[string]struct{}
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
		sets: make(map[string]map[string]struct{}),
	}
}

func (m *mockCmdable) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if len(keys) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected keys"))
	}
	cur, ok := m.data[keys[0]]
	switch {
	case script == delIfValueScript && len(args) == 1:
		if ok && cur == fmt.Sprint(args[0]) {
			delete(m.data, keys[0])
			return redis.NewCmdResult(int64(1), nil)
		}
	case script == setIfUnchangedScript && len(args) == 3:
		old := fmt.Sprint(args[0])
		if (!ok && old == "") || (ok && cur == old) {
			m.data[keys[0]] = fmt.Sprint(args[1])
			return redis.NewCmdResult(int64(1), nil)
		}
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.sets, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	var added int64
	for _, member := range members {
		s := fmt.Sprint(member)
		if _, exists := set[s]; !exists {
			set[s] = struct{}{}
			added++
		}
	}
	return redis.NewIntResult(added, nil)
}

func (m *mockCmdable) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	var out []string
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return redis.NewStringSliceResult(out, nil)
}

func TestDelIfValueOnlyDeletesOwnValue(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cron", "production")
	if key != "livs:lock:cron:production" {
		t.Fatalf("unexpected lock key %s", key)
	}
	mock.data[key] = "owner-a"

	deleted, err := client.DelIfValue(ctx, key, "owner-b")
	if err != nil || deleted {
		t.Fatalf("expected no delete for foreign owner, got %v %v", deleted, err)
	}
	deleted, err = client.DelIfValue(ctx, key, "owner-a")
	if err != nil || !deleted {
		t.Fatalf("expected delete for owner, got %v %v", deleted, err)
	}
	if _, ok := mock.data[key]; ok {
		t.Fatalf("lock key still present")
	}
}

func TestSetIfUnchangedRejectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.CartKey("sess")

	wrote, err := client.SetIfUnchanged(ctx, key, "", "v1", time.Hour)
	if err != nil || !wrote {
		t.Fatalf("expected first write, got %v %v", wrote, err)
	}
	wrote, err = client.SetIfUnchanged(ctx, key, "", "v1-other", time.Hour)
	if err != nil || wrote {
		t.Fatalf("expected create to lose against existing key, got %v %v", wrote, err)
	}
	wrote, err = client.SetIfUnchanged(ctx, key, "v1", "v2", time.Hour)
	if err != nil || !wrote {
		t.Fatalf("expected update from v1, got %v %v", wrote, err)
	}
	wrote, err = client.SetIfUnchanged(ctx, key, "v1", "v3", time.Hour)
	if err != nil || wrote {
		t.Fatalf("expected stale update to be refused, got %v %v", wrote, err)
	}
	if mock.data[key] != "v2" {
		t.Fatalf("unexpected value %q", mock.data[key])
	}
}
