// Package billing 은 계정 원장에 대한 잔액 조회, 차감, 지급을 조정한다.
// 모든 변경은 버전 조건부 저장으로 반영되며 저장 직후 잔액 캐시를 무효화한다.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/balancecache"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/usage"
)

// ErrWriteConflict 는 버전 충돌 재시도 한도를 넘었을 때의 일시적 오류다.
var ErrWriteConflict = errors.New("account write conflict: retry budget exhausted")

// BalanceCache: 잔액 캐시 인터페이스입니다. 구현은 모든 실패를 삼켜야 합니다.
// SetIfGeneration 은 Generation 으로 읽은 세대 이후 Invalidate 가 있었다면 기록하지 않아야 합니다.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (int64, bool)
	Generation(ctx context.Context, accountID string) (uint64, bool)
	SetIfGeneration(ctx context.Context, accountID string, gen uint64, balance int64, lastUpdated time.Time) bool
	Invalidate(ctx context.Context, accountID string)
}

// UsageSink: 소비 기록 인터페이스입니다. 기록 실패는 호출자에게 전파되지 않습니다.
type UsageSink interface {
	Record(ctx context.Context, rec usage.Record)
}

// FreeTierPolicy 는 무료 티어 지급 정책이다.
type FreeTierPolicy struct {
	Tokens     int64
	ExpiryDays int
}

// BatchSpec 은 정책에 따른 무료 배치 생성 요청을 반환한다.
func (p FreeTierPolicy) BatchSpec() ledger.BatchSpec {
	return ledger.BatchSpec{
		Type:      ledger.BatchTypeMonthlyFree,
		Tokens:    p.Tokens,
		ExpiresIn: ledger.Days(p.ExpiryDays),
	}
}

// Options 는 Service 동작 파라미터다.
type Options struct {
	FreeTier             FreeTierPolicy
	TokensPerCredit      int64
	WriteMaxAttempts     int
	WriteRetryBase       time.Duration
	DeductAlertThreshold int64
	FillTimeout          time.Duration
}

// OptionsFromConfig 는 설정에서 Options 를 만든다.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FreeTier: FreeTierPolicy{
			Tokens:     cfg.Billing.FreeTierTokens,
			ExpiryDays: cfg.Billing.FreeTierExpiryDays,
		},
		TokensPerCredit:      cfg.Billing.TokensPerCredit,
		WriteMaxAttempts:     cfg.Billing.WriteMaxAttempts,
		WriteRetryBase:       cfg.Billing.WriteRetryBase(),
		DeductAlertThreshold: cfg.Billing.DeductAlertThreshold,
	}
}

// UsageContext 는 차감과 함께 남길 소비 기록 정보다.
type UsageContext struct {
	Endpoint     string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// DeductResult 는 차감 결과다.
type DeductResult struct {
	Requested   int64               `json:"requested"`
	Deducted    int64               `json:"deducted"`
	Shortfall   int64               `json:"shortfall"`
	Balance     int64               `json:"balance"`
	Allocations []ledger.Allocation `json:"allocations,omitempty"`
}

// GrantResult 는 지급 결과다. Granted 가 false 면 기존 상태가 유지되었다.
type GrantResult struct {
	Granted bool               `json:"granted"`
	Batch   *ledger.CreditBatch `json:"batch,omitempty"`
	Balance int64              `json:"balance"`
}

// PaymentResult 는 결제 반영 결과다.
type PaymentResult struct {
	AlreadyProcessed bool
	AddedTokens      int64
	Balance          int64
}

// Service 는 원장 변경과 잔액 조회를 담당한다.
type Service struct {
	store   account.Store
	cache   BalanceCache
	usage   UsageSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
	newID   func() string
	fills   singleflight.Group
}

// NewService 는 Service 를 생성한다.
func NewService(
	store account.Store,
	balanceCache BalanceCache,
	usageSink UsageSink,
	opts Options,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteMaxAttempts <= 0 {
		opts.WriteMaxAttempts = 1
	}
	if opts.WriteRetryBase <= 0 {
		opts.WriteRetryBase = 20 * time.Millisecond
	}
	if opts.TokensPerCredit <= 0 {
		opts.TokensPerCredit = 70000
	}
	if opts.FillTimeout <= 0 {
		opts.FillTimeout = 5 * time.Second
	}
	return &Service{
		store:   store,
		cache:   balanceCache,
		usage:   usageSink,
		metrics: m,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// ProvideService 는 DI 용 생성자다.
func ProvideService(
	cfg *config.Config,
	store *account.Repository,
	balanceCache *balancecache.Cache,
	recorder *usage.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return NewService(store, balanceCache, recorder, OptionsFromConfig(cfg), m, logger)
}

// Store 는 계정 저장소를 반환한다.
func (s *Service) Store() account.Store {
	return s.store
}

// DisplayCredits 는 토큰을 화면 표시용 크레딧(소수 둘째 자리 반올림)으로 바꾼다.
func (s *Service) DisplayCredits(tokens int64) float64 {
	credits := float64(tokens) / float64(s.opts.TokensPerCredit)
	return math.Round(credits*100) / 100
}

// Balance 는 계정의 활성 잔액을 반환한다. 캐시 미스 시 저장소에서 계산해 캐시를 채운다.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	if balance, ok := s.cache.Get(ctx, accountID); ok {
		return balance, nil
	}

	// 채우기는 대기 중인 모든 호출자가 공유하므로 첫 호출자의 취소와 분리한다.
	fillCtx := context.WithoutCancel(ctx)
	ch := s.fills.DoChan(accountID, func() (any, error) {
		ctx, cancel := context.WithTimeout(fillCtx, s.opts.FillTimeout)
		defer cancel()

		gen, cacheable := s.cache.Generation(ctx, accountID)
		acc, err := s.store.Load(ctx, accountID)
		if err != nil {
			return int64(0), err
		}
		now := s.now()
		ledger.ExpireInPlace(acc.Batches, now)
		balance := ledger.ActiveBalance(acc.Batches, now)
		if cacheable {
			s.cache.SetIfGeneration(ctx, accountID, gen, balance, acc.UpdatedAt)
		}
		return balance, nil
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// HasSufficientBalance 는 활성 잔액이 estimatedCost 이상인지 확인한다.
func (s *Service) HasSufficientBalance(ctx context.Context, accountID string, estimatedCost int64) (bool, error) {
	balance, err := s.Balance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance >= estimatedCost, nil
}

// Deduct 는 만료가 가까운 배치부터 amount 를 차감한다.
// 잔액이 부족해도 실패하지 않으며 가능한 만큼만 차감하고, 소비 기록은 요청량 그대로 남긴다.
func (s *Service) Deduct(ctx context.Context, accountID string, amount int64, usageCtx UsageContext) (DeductResult, error) {
	if amount <= 0 {
		return DeductResult{}, nil
	}
	if s.opts.DeductAlertThreshold > 0 && amount > s.opts.DeductAlertThreshold {
		s.metrics.Oversized()
		s.logger.Warn(
			"billing_deduct_oversized",
			"account_id", accountID,
			"amount", amount,
			"threshold", s.opts.DeductAlertThreshold,
			"endpoint", usageCtx.Endpoint,
		)
	}

	var deduction ledger.Deduction
	acc, err := s.mutate(ctx, accountID, func(acc *ledger.Account, now time.Time) error {
		deduction = acc.Deduct(amount, now)
		return nil
	})
	if err != nil {
		return DeductResult{}, err
	}

	s.metrics.Deduction(deduction.Deducted, deduction.Shortfall())
	s.usage.Record(ctx, usage.Record{
		AccountID:    accountID,
		Endpoint:     usageCtx.Endpoint,
		Model:        usageCtx.Model,
		InputTokens:  usageCtx.InputTokens,
		OutputTokens: usageCtx.OutputTokens,
		TotalTokens:  amount,
	})

	result := DeductResult{
		Requested:   deduction.Requested,
		Deducted:    deduction.Deducted,
		Shortfall:   deduction.Shortfall(),
		Balance:     acc.ActiveBalance,
		Allocations: deduction.Allocations,
	}
	if result.Shortfall > 0 {
		s.logger.Info(
			"billing_deduct_clamped",
			"account_id", accountID,
			"requested", result.Requested,
			"deducted", result.Deducted,
			"shortfall", result.Shortfall,
		)
	} else {
		s.logger.Debug("billing_deduct_applied", "account_id", accountID, "deducted", result.Deducted, "balance", result.Balance)
	}
	return result, nil
}

// Grant 는 spec 으로 배치를 만들어 계정에 추가한다. 중복 제거는 하지 않는다.
func (s *Service) Grant(ctx context.Context, accountID string, spec ledger.BatchSpec) (GrantResult, error) {
	var batch ledger.CreditBatch
	acc, err := s.mutate(ctx, accountID, func(acc *ledger.Account, now time.Time) error {
		created, err := ledger.NewBatch(s.newID(), spec, now)
		if err != nil {
			return err
		}
		batch = created
		acc.AddBatch(created, now)
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}

	s.metrics.Grant(string(batch.Type))
	s.logger.Info(
		"billing_grant_applied",
		"account_id", accountID,
		"batch_id", batch.ID,
		"batch_type", batch.Type,
		"tokens", batch.AmountTokens,
		"expires_at", batch.ExpiresAt,
	)
	return GrantResult{Granted: true, Batch: &batch, Balance: acc.ActiveBalance}, nil
}

// GrantFreeTier 는 무료 배치를 계정당 한 번만 지급한다.
func (s *Service) GrantFreeTier(ctx context.Context, accountID string) (GrantResult, error) {
	var batch ledger.CreditBatch
	acc, err := s.mutate(ctx, accountID, func(acc *ledger.Account, now time.Time) error {
		if acc.HasBatchOfType(ledger.BatchTypeMonthlyFree) {
			return errNoChange
		}
		created, err := ledger.NewBatch(s.newID(), s.opts.FreeTier.BatchSpec(), now)
		if err != nil {
			return err
		}
		batch = created
		acc.AddBatch(created, now)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return GrantResult{Granted: false, Balance: ledger.ActiveBalance(acc.Batches, s.now())}, nil
	}
	if err != nil {
		return GrantResult{}, err
	}

	s.metrics.Grant(string(batch.Type))
	s.logger.Info("billing_free_tier_granted", "account_id", accountID, "batch_id", batch.ID, "tokens", batch.AmountTokens)
	return GrantResult{Granted: true, Batch: &batch, Balance: acc.ActiveBalance}, nil
}

// ApplyPayment 는 결제 세션을 배치로 반영한다.
// 배치 추가와 처리 완료 표시는 한 번의 저장으로 함께 반영된다.
func (s *Service) ApplyPayment(ctx context.Context, accountID string, sessionID string, spec ledger.BatchSpec) (PaymentResult, error) {
	if sessionID == "" {
		return PaymentResult{}, errors.New("payment session id is empty")
	}
	spec.SourceReference = sessionID

	var batch ledger.CreditBatch
	acc, err := s.mutate(ctx, accountID, func(acc *ledger.Account, now time.Time) error {
		if acc.HasProcessedEvent(sessionID) {
			return errNoChange
		}
		created, err := ledger.NewBatch(s.newID(), spec, now)
		if err != nil {
			return err
		}
		batch = created
		acc.MarkEventProcessed(sessionID)
		acc.AddBatch(created, now)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return PaymentResult{AlreadyProcessed: true, Balance: ledger.ActiveBalance(acc.Batches, s.now())}, nil
	}
	if err != nil {
		return PaymentResult{}, err
	}

	s.metrics.Grant(string(batch.Type))
	s.logger.Info(
		"billing_payment_applied",
		"account_id", accountID,
		"session_id", sessionID,
		"batch_id", batch.ID,
		"tokens", batch.AmountTokens,
	)
	return PaymentResult{AddedTokens: batch.AmountTokens, Balance: acc.ActiveBalance}, nil
}

// RecalculateAndPersist 는 배치 집합에서 잔액을 다시 계산해 저장한다.
func (s *Service) RecalculateAndPersist(ctx context.Context, accountID string) (*ledger.Account, error) {
	acc, err := s.mutate(ctx, accountID, func(*ledger.Account, time.Time) error {
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// RefreshIfStale 는 만료 처리나 잔액 보정이 필요한 경우에만 저장한다.
func (s *Service) RefreshIfStale(ctx context.Context, accountID string) (bool, error) {
	_, err := s.mutate(ctx, accountID, func(acc *ledger.Account, now time.Time) error {
		expired := ledger.ExpireInPlace(acc.Batches, now)
		if expired == 0 && acc.ActiveBalance == ledger.ActiveBalance(acc.Batches, now) {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Account 는 저장된 계정 문서를 읽는다. 변경하지 않는다.
func (s *Service) Account(ctx context.Context, accountID string) (*ledger.Account, error) {
	acc, err := s.store.Load(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

// CreateAccount 는 배치 없는 계정을 만든다.
func (s *Service) CreateAccount(ctx context.Context, accountID string) (*ledger.Account, error) {
	acc, err := s.store.Create(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acc, nil
}

func (s *Service) invalidate(ctx context.Context, accountID string) {
	// 요청이 취소되어도 무효화는 수행한다.
	s.cache.Invalidate(context.WithoutCancel(ctx), accountID)
}
