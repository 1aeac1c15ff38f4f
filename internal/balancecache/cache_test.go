package balancecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
)

func newValkeyCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	return connectValkeyCache(t, mini), mini
}

func connectValkeyCache(t *testing.T, mini *miniredis.Miniredis) *Cache {
	t.Helper()
	c, err := New(config.BalanceCacheConfig{
		URL:          "redis://" + mini.Addr(),
		Enabled:      true,
		DisableCache: true,
		TTLSeconds:   300,
		KeyPrefix:    "user_credits",
	}, metrics.NewMetrics(), nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestValkeyCacheSetGetInvalidate(t *testing.T) {
	c, mini := newValkeyCache(t)
	ctx := context.Background()

	if c.Backend() != BackendValkey {
		t.Fatalf("expected valkey backend, got %s", c.Backend())
	}
	if _, ok := c.Get(ctx, "acc-1"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	updated := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.Set(ctx, "acc-1", 1_400_000, updated)

	balance, ok := c.Get(ctx, "acc-1")
	if !ok || balance != 1_400_000 {
		t.Fatalf("expected cached balance, got %d ok=%v", balance, ok)
	}

	raw, err := mini.Get("user_credits:acc-1")
	if err != nil {
		t.Fatalf("raw key missing: %v", err)
	}
	var stored Entry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored entry is not json: %v", err)
	}
	if stored.ActiveBalance != 1_400_000 || !stored.LastUpdated.Equal(updated) {
		t.Fatalf("unexpected stored entry: %+v", stored)
	}
	if ttl := mini.TTL("user_credits:acc-1"); ttl != 300*time.Second {
		t.Fatalf("expected 300s ttl, got %v", ttl)
	}

	c.Invalidate(ctx, "acc-1")
	if _, ok := c.Get(ctx, "acc-1"); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestValkeyCacheExpires(t *testing.T) {
	c, mini := newValkeyCache(t)
	ctx := context.Background()

	c.Set(ctx, "acc-1", 10, time.Now())
	mini.FastForward(301 * time.Second)

	if _, ok := c.Get(ctx, "acc-1"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestValkeyCacheCorruptEntryIsMiss(t *testing.T) {
	c, mini := newValkeyCache(t)
	if err := mini.Set("user_credits:acc-1", "{not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := c.Get(context.Background(), "acc-1"); ok {
		t.Fatalf("corrupt entry must be treated as a miss")
	}
}

func TestValkeyCacheFailsOpenWhenServerGone(t *testing.T) {
	c, mini := newValkeyCache(t)
	mini.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.Set(ctx, "acc-1", 10, time.Now())
	if _, ok := c.Get(ctx, "acc-1"); ok {
		t.Fatalf("expected miss when backend unavailable")
	}
	c.Invalidate(ctx, "acc-1")
	if err := c.Ping(ctx); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestMemoryFallbackWhenDisabled(t *testing.T) {
	c, err := New(config.BalanceCacheConfig{Enabled: false, TTLSeconds: 60, MemorySize: 8}, nil, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	if c.Backend() != BackendMemory {
		t.Fatalf("expected memory backend, got %s", c.Backend())
	}

	c.Set(ctx, "acc-1", 42, time.Now())
	if balance, ok := c.Get(ctx, "acc-1"); !ok || balance != 42 {
		t.Fatalf("expected memory hit, got %d ok=%v", balance, ok)
	}
	c.Invalidate(ctx, "acc-1")
	if _, ok := c.Get(ctx, "acc-1"); ok {
		t.Fatalf("expected miss after invalidate")
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("memory ping: %v", err)
	}
}

func TestValkeyFillRejectedAfterInvalidateFromOtherInstance(t *testing.T) {
	mini := miniredis.RunT(t)
	replicaA := connectValkeyCache(t, mini)
	replicaB := connectValkeyCache(t, mini)
	ctx := context.Background()

	gen, ok := replicaA.Generation(ctx, "acc-1")
	if !ok || gen != 0 {
		t.Fatalf("expected initial generation 0, got %d ok=%v", gen, ok)
	}

	replicaB.Invalidate(ctx, "acc-1")
	if written := replicaA.SetIfGeneration(ctx, "acc-1", gen, 1000, time.Now()); written {
		t.Fatalf("fill from before the invalidation must be rejected")
	}
	if _, ok := replicaB.Get(ctx, "acc-1"); ok {
		t.Fatalf("expected miss after rejected fill")
	}
	if !mini.Exists("user_credits_gen:acc-1") || mini.TTL("user_credits_gen:acc-1") <= 0 {
		t.Fatalf("generation key must exist with a ttl")
	}

	gen, ok = replicaA.Generation(ctx, "acc-1")
	if !ok || gen != 1 {
		t.Fatalf("expected generation 1, got %d ok=%v", gen, ok)
	}
	if written := replicaA.SetIfGeneration(ctx, "acc-1", gen, 600, time.Now()); !written {
		t.Fatalf("fill with current generation must be written")
	}
	if balance, ok := replicaB.Get(ctx, "acc-1"); !ok || balance != 600 {
		t.Fatalf("expected shared balance 600, got %d ok=%v", balance, ok)
	}
	if ttl := mini.TTL("user_credits:acc-1"); ttl != 300*time.Second {
		t.Fatalf("expected 300s ttl on conditional fill, got %v", ttl)
	}
}

func TestMemoryFillRejectedAfterInvalidate(t *testing.T) {
	c, err := New(config.BalanceCacheConfig{Enabled: false, TTLSeconds: 60, MemorySize: 8}, nil, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()

	gen, _ := c.Generation(ctx, "acc-1")
	c.Invalidate(ctx, "acc-1")
	if c.SetIfGeneration(ctx, "acc-1", gen, 1000, time.Now()) {
		t.Fatalf("stale fill must be rejected")
	}
	if _, ok := c.Get(ctx, "acc-1"); ok {
		t.Fatalf("expected miss after rejected fill")
	}

	gen, _ = c.Generation(ctx, "acc-1")
	if !c.SetIfGeneration(ctx, "acc-1", gen, 600, time.Now()) {
		t.Fatalf("current fill must be written")
	}
	if balance, ok := c.Get(ctx, "acc-1"); !ok || balance != 600 {
		t.Fatalf("expected 600, got %d ok=%v", balance, ok)
	}
}

func TestGenerationUnavailableWhenServerGone(t *testing.T) {
	c, mini := newValkeyCache(t)
	mini.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, ok := c.Generation(ctx, "acc-1"); ok {
		t.Fatalf("generation lookup must report failure")
	}
	if c.SetIfGeneration(ctx, "acc-1", 0, 10, time.Now()) {
		t.Fatalf("fill must not report success without a backend")
	}
}

func TestRequiredButDisabled(t *testing.T) {
	if _, err := New(config.BalanceCacheConfig{Enabled: false, Required: true}, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw     string
		addr    string
		db      int
		tls     bool
		wantErr bool
	}{
		{raw: "redis://localhost:6379", addr: "localhost:6379"},
		{raw: "rediss://user:pw@cache.internal/2", addr: "cache.internal:6379", db: 2, tls: true},
		{raw: "valkey-host:6380", addr: "valkey-host:6380"},
		{raw: "valkey-host", addr: "valkey-host:6379"},
		{raw: "http://localhost", wantErr: true},
		{raw: "redis://localhost/x", wantErr: true},
		{raw: "  ", wantErr: true},
	}
	for _, tt := range tests {
		info, err := parseURL(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.raw, err)
		}
		if info.addr != tt.addr || info.selectDB != tt.db || info.useTLS != tt.tls {
			t.Fatalf("%q: unexpected %+v", tt.raw, info)
		}
	}
}
