package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/balancecache"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/database"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/usage"
)

type recordingSink struct {
	mu      sync.Mutex
	records []usage.Record
}

func (r *recordingSink) Record(_ context.Context, rec usage.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingSink) all() []usage.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.Record(nil), r.records...)
}

// conflictStore 는 지정 횟수만큼 저장을 버전 충돌로 거부한다.
type conflictStore struct {
	account.Store
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (c *conflictStore) Save(ctx context.Context, acc *ledger.Account) error {
	c.mu.Lock()
	c.saves++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return account.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.Store.Save(ctx, acc)
}

type fixture struct {
	service *Service
	repo    *account.Repository
	cache   *balancecache.Cache
	sink    *recordingSink
	metrics *metrics.Metrics
	now     time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := database.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)

	repo := account.NewRepository(db, nil)
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	balanceCache, err := balancecache.New(config.BalanceCacheConfig{TTLSeconds: 300, MemorySize: 64}, nil, nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	if opts.FreeTier.Tokens == 0 {
		opts.FreeTier = FreeTierPolicy{Tokens: 700_000, ExpiryDays: 30}
	}
	if opts.WriteMaxAttempts == 0 {
		opts.WriteMaxAttempts = 5
	}
	if opts.WriteRetryBase == 0 {
		opts.WriteRetryBase = time.Millisecond
	}

	f := &fixture{
		repo:    repo,
		cache:   balanceCache,
		sink:    &recordingSink{},
		metrics: metrics.NewMetrics(),
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.service = NewService(repo, balanceCache, f.sink, opts, f.metrics, nil)
	f.service.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) createAccount(t *testing.T, id string) {
	t.Helper()
	if _, err := f.service.CreateAccount(context.Background(), id); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func (f *fixture) grant(t *testing.T, id string, tokens int64, days int) ledger.CreditBatch {
	t.Helper()
	res, err := f.service.Grant(context.Background(), id, ledger.BatchSpec{
		Type:      ledger.BatchTypeAdminGrant,
		Tokens:    tokens,
		ExpiresIn: ledger.Days(days),
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	return *res.Batch
}

func TestDeductConsumesSoonestExpiringFirst(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "acc-1")
	later := f.grant(t, "acc-1", 300, 30)
	sooner := f.grant(t, "acc-1", 500, 10)

	res, err := f.service.Deduct(ctx, "acc-1", 600, UsageContext{Endpoint: "/api/v1/ai/query"})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if res.Deducted != 600 || res.Shortfall != 0 || res.Balance != 200 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Allocations) != 2 || res.Allocations[0].BatchID != sooner.ID || res.Allocations[0].Tokens != 500 {
		t.Fatalf("unexpected allocations: %+v", res.Allocations)
	}

	acc, err := f.repo.Load(ctx, "acc-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, batch := range acc.Batches {
		switch batch.ID {
		case sooner.ID:
			if batch.RemainingTokens != 0 {
				t.Fatalf("sooner batch should be exhausted, got %d", batch.RemainingTokens)
			}
		case later.ID:
			if batch.RemainingTokens != 200 {
				t.Fatalf("later batch should have 200 left, got %d", batch.RemainingTokens)
			}
		}
	}
	if acc.ActiveBalance != 200 {
		t.Fatalf("persisted balance mismatch: %d", acc.ActiveBalance)
	}
}

func TestDeductClampsAndRecordsTrueUsage(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "fresh")

	res, err := f.service.Deduct(ctx, "fresh", 100, UsageContext{Endpoint: "/api/v1/ai/ask", Model: "gemini", InputTokens: 70, OutputTokens: 30})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if res.Balance != 0 || res.Deducted != 0 || res.Shortfall != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}

	records := f.sink.all()
	if len(records) != 1 || records[0].TotalTokens != 100 || records[0].AccountID != "fresh" {
		t.Fatalf("expected usage record with total 100, got %+v", records)
	}
	if got := testutil.ToFloat64(f.metrics.ShortfallTokens); got != 100 {
		t.Fatalf("expected shortfall metric 100, got %v", got)
	}
}

func TestDeductNonPositiveIsNoop(t *testing.T) {
	f := newFixture(t, Options{})
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 100, 10)

	for _, amount := range []int64{0, -5} {
		res, err := f.service.Deduct(context.Background(), "acc-1", amount, UsageContext{})
		if err != nil {
			t.Fatalf("deduct %d: %v", amount, err)
		}
		if res.Deducted != 0 {
			t.Fatalf("expected no-op, got %+v", res)
		}
	}
	acc, _ := f.repo.Load(context.Background(), "acc-1")
	if acc.ActiveBalance != 100 || len(f.sink.all()) != 0 {
		t.Fatalf("no-op deduction changed state: balance=%d records=%d", acc.ActiveBalance, len(f.sink.all()))
	}
}

func TestDeductMissingAccount(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.service.Deduct(context.Background(), "ghost", 10, UsageContext{})
	if !errors.Is(err, account.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if len(f.sink.all()) != 0 {
		t.Fatalf("missing account must not record usage")
	}
	if _, err := f.service.Balance(context.Background(), "ghost"); !errors.Is(err, account.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound from balance, got %v", err)
	}
}

func TestOversizedDeductionPassesThrough(t *testing.T) {
	f := newFixture(t, Options{DeductAlertThreshold: 1000})
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 5000, 10)

	res, err := f.service.Deduct(context.Background(), "acc-1", 4000, UsageContext{})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if res.Deducted != 4000 || res.Balance != 1000 {
		t.Fatalf("oversized deduction must not be capped: %+v", res)
	}
	if got := testutil.ToFloat64(f.metrics.OversizedDeductions); got != 1 {
		t.Fatalf("expected oversized metric, got %v", got)
	}
}

func TestGrantFreeTierIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "acc-1")

	first, err := f.service.GrantFreeTier(ctx, "acc-1")
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if !first.Granted || first.Balance != 700_000 {
		t.Fatalf("unexpected first grant: %+v", first)
	}
	if !first.Batch.ExpiresAt.Equal(f.now.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected free tier expiry: %v", first.Batch.ExpiresAt)
	}

	f.advance(time.Hour)
	second, err := f.service.GrantFreeTier(ctx, "acc-1")
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if second.Granted || second.Balance != 700_000 {
		t.Fatalf("second grant should be a no-op: %+v", second)
	}

	acc, _ := f.repo.Load(ctx, "acc-1")
	if len(acc.Batches) != 1 {
		t.Fatalf("expected exactly one free tier batch, got %d", len(acc.Batches))
	}
	if acc.Version != 1 {
		t.Fatalf("no-op grant must not write, version=%d", acc.Version)
	}
}

func TestGrantRejectsInvalidSpec(t *testing.T) {
	f := newFixture(t, Options{})
	f.createAccount(t, "acc-1")
	_, err := f.service.Grant(context.Background(), "acc-1", ledger.BatchSpec{Type: ledger.BatchTypeAdminGrant, Tokens: 0, ExpiresIn: time.Hour})
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.service.Grant(context.Background(), "ghost", ledger.BatchSpec{Type: ledger.BatchTypeAdminGrant, Tokens: 1, ExpiresIn: time.Hour}); !errors.Is(err, account.ErrAccountNotFound) {
		t.Fatalf("grant must not fabricate accounts, got %v", err)
	}
}

func TestApplyPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "acc-1")
	spec := ledger.BatchSpec{Type: ledger.BatchTypePaidBasic, Tokens: 10_000_000, ExpiresIn: ledger.Days(30)}

	first, err := f.service.ApplyPayment(ctx, "acc-1", "abc", spec)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if first.AlreadyProcessed || first.AddedTokens != 10_000_000 || first.Balance != 10_000_000 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := f.service.ApplyPayment(ctx, "acc-1", "abc", spec)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if !second.AlreadyProcessed || second.AddedTokens != 0 || second.Balance != 10_000_000 {
		t.Fatalf("unexpected replay result: %+v", second)
	}

	acc, _ := f.repo.Load(ctx, "acc-1")
	if len(acc.Batches) != 1 || acc.Batches[0].SourceReference != "abc" || !acc.HasProcessedEvent("abc") {
		t.Fatalf("unexpected account after payment: %+v", acc)
	}
}

func TestCacheInvalidatedAfterDeduct(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 1000, 10)

	balance, err := f.service.Balance(ctx, "acc-1")
	if err != nil || balance != 1000 {
		t.Fatalf("prime balance: %d %v", balance, err)
	}
	if cached, ok := f.cache.Get(ctx, "acc-1"); !ok || cached != 1000 {
		t.Fatalf("expected cache populated, got %d %v", cached, ok)
	}

	if _, err := f.service.Deduct(ctx, "acc-1", 400, UsageContext{}); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if cached, ok := f.cache.Get(ctx, "acc-1"); ok {
		t.Fatalf("stale balance %d visible after deduction", cached)
	}

	balance, err = f.service.Balance(ctx, "acc-1")
	if err != nil || balance != 600 {
		t.Fatalf("expected fresh balance 600, got %d %v", balance, err)
	}
}

// interleavingCache 는 채우기 기록 직전에 한 번 beforeFill 을 실행한다.
type interleavingCache struct {
	*balancecache.Cache
	once       sync.Once
	beforeFill func()
}

func (c *interleavingCache) SetIfGeneration(ctx context.Context, accountID string, gen uint64, balance int64, lastUpdated time.Time) bool {
	c.once.Do(c.beforeFill)
	return c.Cache.SetIfGeneration(ctx, accountID, gen, balance, lastUpdated)
}

func TestFillRacingDeductionDoesNotCacheStaleBalance(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 1000, 10)

	racing := &interleavingCache{Cache: f.cache}
	racing.beforeFill = func() {
		if _, err := f.service.Deduct(ctx, "acc-1", 400, UsageContext{}); err != nil {
			t.Errorf("deduct during fill: %v", err)
		}
	}
	f.service.cache = racing

	// 채우기는 차감 전에 읽었으므로 1000 을 돌려줄 수 있지만 캐시에 남겨서는 안 된다.
	if _, err := f.service.Balance(ctx, "acc-1"); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if cached, ok := f.cache.Get(ctx, "acc-1"); ok {
		t.Fatalf("stale fill cached %d after invalidation", cached)
	}
	balance, err := f.service.Balance(ctx, "acc-1")
	if err != nil || balance != 600 {
		t.Fatalf("expected 600 after racing deduction, got %d %v", balance, err)
	}
}

// blockingStore 는 release 가 닫힐 때까지 Load 를 지연한다.
type blockingStore struct {
	account.Store
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) Load(ctx context.Context, accountID string) (*ledger.Account, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Store.Load(ctx, accountID)
}

func TestSharedFillSurvivesFirstCallerCancel(t *testing.T) {
	f := newFixture(t, Options{})
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 1000, 10)

	store := &blockingStore{Store: f.repo, started: make(chan struct{}), release: make(chan struct{})}
	f.service.store = store

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.service.Balance(firstCtx, "acc-1")
		firstErr <- err
	}()
	<-store.started

	second := make(chan int64, 1)
	go func() {
		balance, err := f.service.Balance(context.Background(), "acc-1")
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- balance
	}()

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller canceled, got %v", err)
	}
	close(store.release)

	select {
	case balance := <-second:
		if balance != 1000 {
			t.Fatalf("expected 1000 for waiting caller, got %d", balance)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("waiting caller did not receive the shared fill")
	}
}

func TestBalanceAppliesLazyExpiry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 500, 1)
	f.grant(t, "acc-1", 300, 30)

	f.advance(48 * time.Hour)
	f.cache.Invalidate(ctx, "acc-1")

	ok, err := f.service.HasSufficientBalance(ctx, "acc-1", 400)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("expired batch must not count toward balance")
	}
	ok, _ = f.service.HasSufficientBalance(ctx, "acc-1", 300)
	if !ok {
		t.Fatalf("expected 300 to be affordable")
	}
}

func TestRecalculateAndPersistHealsBalance(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 500, 1)

	acc, _ := f.repo.Load(ctx, "acc-1")
	acc.ActiveBalance = 999_999
	if err := f.repo.Save(ctx, acc); err != nil {
		t.Fatalf("corrupt save: %v", err)
	}

	f.advance(2 * 24 * time.Hour)
	healed, err := f.service.RecalculateAndPersist(ctx, "acc-1")
	if err != nil {
		t.Fatalf("recalc: %v", err)
	}
	if healed.ActiveBalance != 0 || healed.Batches[0].RemainingTokens != 0 {
		t.Fatalf("expected expired balance 0, got %+v", healed)
	}
	stored, _ := f.repo.Load(ctx, "acc-1")
	if stored.ActiveBalance != 0 || stored.Batches[0].AmountTokens != 500 {
		t.Fatalf("unexpected stored account: %+v", stored)
	}
}

func TestMutateRetriesVersionConflicts(t *testing.T) {
	f := newFixture(t, Options{WriteMaxAttempts: 3})
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 1000, 10)

	store := &conflictStore{Store: f.repo, conflicts: 2}
	f.service.store = store

	res, err := f.service.Deduct(context.Background(), "acc-1", 100, UsageContext{})
	if err != nil {
		t.Fatalf("deduct after conflicts: %v", err)
	}
	if res.Balance != 900 || store.saves != 3 {
		t.Fatalf("unexpected result after retries: %+v saves=%d", res, store.saves)
	}
	if got := testutil.ToFloat64(f.metrics.WriteConflicts); got != 2 {
		t.Fatalf("expected 2 conflicts recorded, got %v", got)
	}
}

func TestMutateGivesUpAfterRetryBudget(t *testing.T) {
	f := newFixture(t, Options{WriteMaxAttempts: 2})
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 1000, 10)

	store := &conflictStore{Store: f.repo, conflicts: 10}
	f.service.store = store

	_, err := f.service.Deduct(context.Background(), "acc-1", 100, UsageContext{})
	if !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict, got %v", err)
	}
	if store.saves != 2 {
		t.Fatalf("expected 2 attempts, got %d", store.saves)
	}
	if len(f.sink.all()) != 0 {
		t.Fatalf("failed deduction must not record usage")
	}
}

func TestConcurrentDeductionsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, Options{WriteMaxAttempts: 20})
	f.createAccount(t, "acc-1")
	f.grant(t, "acc-1", 1000, 10)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Deduct(context.Background(), "acc-1", 10, UsageContext{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent deduct: %v", err)
	}

	acc, _ := f.repo.Load(context.Background(), "acc-1")
	if acc.ActiveBalance != 900 {
		t.Fatalf("expected 900 after 10 deductions, got %d", acc.ActiveBalance)
	}
}

func TestDisplayCredits(t *testing.T) {
	f := newFixture(t, Options{TokensPerCredit: 70000})
	tests := map[int64]float64{
		700_000:    10,
		10_000_000: 142.86,
		35_000:     0.5,
		0:          0,
	}
	for tokens, want := range tests {
		if got := f.service.DisplayCredits(tokens); got != want {
			t.Fatalf("DisplayCredits(%d) = %v, want %v", tokens, got, want)
		}
	}
}
