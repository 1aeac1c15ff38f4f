// Package balancecache 는 계정 잔액의 짧은 수명 캐시를 제공한다.
// 캐시는 정답의 원천이 아니며, 모든 실패는 미스 또는 no-op 으로 취급한다.
package balancecache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/cache"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
)

// Backend 이름
const (
	BackendMemory = "memory"
	BackendValkey = "valkey"
)

// Entry 는 캐시에 저장되는 잔액 스냅샷이다.
type Entry struct {
	ActiveBalance int64     `json:"active_balance"`
	LastUpdated   time.Time `json:"last_updated"`
	CachedAt      time.Time `json:"cached_at"`
}

// minGenerationTTL 은 무효화 세대 키의 최소 수명이다. 진행 중인 채우기보다 길어야 한다.
const minGenerationTTL = time.Hour

// invalidateScript 는 엔트리 삭제와 세대 증가를 한 번에 수행한다.
var invalidateScript = valkey.NewLuaScript(`
redis.call('DEL', KEYS[1])
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[1])
return 1
`)

// fillScript 는 세대가 읽은 시점과 같을 때만 엔트리를 기록한다.
var fillScript = valkey.NewLuaScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
return 1
`)

// Cache 는 Valkey 또는 프로세스 메모리 기반 잔액 캐시다.
// 계정마다 무효화 세대를 두어, 무효화 이전에 읽은 값으로 채우는 것을 거부한다.
type Cache struct {
	client  valkey.Client
	memory  *cache.TTLCache[string, Entry]
	gens    *cache.TTLCache[string, uint64]
	memMu   sync.Mutex
	backend string
	ttl     time.Duration
	genTTL  time.Duration
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New 는 설정에 맞는 잔액 캐시를 생성한다.
// Valkey 연결 실패 시 Required 가 아니면 메모리 백엔드로 대체한다.
func New(cfg config.BalanceCacheConfig, m *metrics.Metrics, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL()
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "user_credits"
	}

	genTTL := 12 * ttl
	if genTTL < minGenerationTTL {
		genTTL = minGenerationTTL
	}

	c := &Cache{
		ttl:     ttl,
		genTTL:  genTTL,
		prefix:  prefix,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}

	if !cfg.Enabled {
		if cfg.Required {
			return nil, errors.New("balance cache required but disabled")
		}
		c.useMemory(cfg.MemorySize)
		return c, nil
	}

	client, err := newValkeyClient(cfg)
	if err != nil {
		if cfg.Required {
			return nil, err
		}
		logger.Warn("balance_cache_fallback_memory", "err", err)
		c.useMemory(cfg.MemorySize)
		return c, nil
	}

	c.client = client
	c.backend = BackendValkey
	return c, nil
}

// ProvideCache 는 DI 용 생성자다.
func ProvideCache(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Cache, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	return New(cfg.BalanceCache, m, logger)
}

func newValkeyClient(cfg config.BalanceCacheConfig) (valkey.Client, error) {
	conn, err := parseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse balance cache url: %w", err)
	}

	var tlsConfig *tls.Config
	if conn.useTLS {
		host, _, splitErr := net.SplitHostPort(conn.addr)
		if splitErr != nil {
			return nil, fmt.Errorf("parse balance cache addr: %w", splitErr)
		}
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		TLSConfig:    tlsConfig,
		Username:     conn.username,
		Password:     conn.password,
		InitAddress:  []string{conn.addr},
		SelectDB:     conn.selectDB,
		DisableCache: cfg.DisableCache,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	return client, nil
}

func (c *Cache) useMemory(size int) {
	if size <= 0 {
		size = 10000
	}
	c.memory = cache.NewTTLCache[string, Entry](size, c.ttl)
	c.gens = cache.NewTTLCache[string, uint64](size, c.genTTL)
	c.backend = BackendMemory
}

// Backend 는 사용 중인 백엔드 이름을 반환한다.
func (c *Cache) Backend() string {
	return c.backend
}

func (c *Cache) key(accountID string) string {
	return c.prefix + ":" + accountID
}

func (c *Cache) genKey(accountID string) string {
	return c.prefix + "_gen:" + accountID
}

// Get 은 캐시된 잔액을 반환한다. 오류와 손상된 엔트리는 미스로 처리한다.
func (c *Cache) Get(ctx context.Context, accountID string) (int64, bool) {
	entry, ok := c.GetEntry(ctx, accountID)
	if !ok {
		return 0, false
	}
	return entry.ActiveBalance, true
}

// GetEntry 는 캐시 엔트리 전체를 반환한다.
func (c *Cache) GetEntry(ctx context.Context, accountID string) (Entry, bool) {
	if c == nil || accountID == "" {
		return Entry{}, false
	}

	if c.backend == BackendMemory {
		entry, ok := c.memory.Get(c.key(accountID))
		c.record("get", ok)
		return entry, ok
	}

	raw, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(accountID)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			c.record("get", false)
			return Entry{}, false
		}
		c.fail("get", accountID, err)
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.fail("decode", accountID, err)
		return Entry{}, false
	}
	c.record("get", true)
	return entry, true
}

// Set 은 잔액을 TTL 과 함께 무조건 저장한다.
func (c *Cache) Set(ctx context.Context, accountID string, balance int64, lastUpdated time.Time) {
	if c == nil || accountID == "" {
		return
	}
	entry := Entry{ActiveBalance: balance, LastUpdated: lastUpdated, CachedAt: c.now()}

	if c.backend == BackendMemory {
		c.memory.Set(c.key(accountID), entry)
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.fail("encode", accountID, err)
		return
	}
	cmd := c.client.B().Set().Key(c.key(accountID)).Value(string(data)).Ex(c.ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.fail("set", accountID, err)
	}
}

// Generation 은 계정의 현재 무효화 세대를 반환한다.
// 저장소를 읽기 전에 호출해 SetIfGeneration 에 넘긴다. 조회 실패 시 false 를 반환하며 채우기를 생략해야 한다.
func (c *Cache) Generation(ctx context.Context, accountID string) (uint64, bool) {
	if c == nil || accountID == "" {
		return 0, false
	}
	if c.backend == BackendMemory {
		gen, _ := c.gens.Get(c.genKey(accountID))
		return gen, true
	}

	raw, err := c.client.Do(ctx, c.client.B().Get().Key(c.genKey(accountID)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, true
		}
		c.fail("generation", accountID, err)
		return 0, false
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.fail("generation", accountID, err)
		return 0, false
	}
	return gen, true
}

// SetIfGeneration 은 세대가 gen 그대로일 때만 잔액을 저장한다.
// 그 사이 Invalidate 가 있었다면 저장하지 않고 false 를 반환한다. 다른 인스턴스의 무효화도 포함된다.
func (c *Cache) SetIfGeneration(ctx context.Context, accountID string, gen uint64, balance int64, lastUpdated time.Time) bool {
	if c == nil || accountID == "" {
		return false
	}
	entry := Entry{ActiveBalance: balance, LastUpdated: lastUpdated, CachedAt: c.now()}

	if c.backend == BackendMemory {
		c.memMu.Lock()
		defer c.memMu.Unlock()
		if current, _ := c.gens.Get(c.genKey(accountID)); current != gen {
			c.metrics.CacheResult("set", "stale")
			return false
		}
		c.memory.Set(c.key(accountID), entry)
		return true
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.fail("encode", accountID, err)
		return false
	}
	written, err := fillScript.Exec(ctx, c.client,
		[]string{c.key(accountID), c.genKey(accountID)},
		[]string{strconv.FormatUint(gen, 10), string(data), strconv.FormatInt(int64(c.ttl/time.Second), 10)},
	).AsInt64()
	if err != nil {
		c.fail("set", accountID, err)
		return false
	}
	if written == 0 {
		c.metrics.CacheResult("set", "stale")
		return false
	}
	return true
}

// Invalidate 는 계정의 캐시 엔트리를 제거하고 무효화 세대를 올린다.
func (c *Cache) Invalidate(ctx context.Context, accountID string) {
	if c == nil || accountID == "" {
		return
	}
	if c.backend == BackendMemory {
		c.memMu.Lock()
		defer c.memMu.Unlock()
		c.gens.Modify(c.genKey(accountID), func(current uint64, _ bool) uint64 {
			return current + 1
		})
		c.memory.Delete(c.key(accountID))
		return
	}
	err := invalidateScript.Exec(ctx, c.client,
		[]string{c.key(accountID), c.genKey(accountID)},
		[]string{strconv.FormatInt(int64(c.genTTL/time.Second), 10)},
	).Error()
	if err != nil {
		c.fail("invalidate", accountID, err)
	}
}

// Ping 은 백엔드 연결 상태를 확인한다.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.backend == BackendMemory {
		return nil
	}
	if err := c.client.Do(ctx, c.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping balance cache: %w", err)
	}
	return nil
}

// Close 는 Valkey 연결을 종료한다.
func (c *Cache) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}

func (c *Cache) record(op string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.metrics.CacheResult(op, result)
}

func (c *Cache) fail(op string, accountID string, err error) {
	c.metrics.CacheResult(op, "error")
	c.logger.Warn("balance_cache_"+op+"_failed", "account_id", accountID, "err", err)
}
