package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/billing"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/plan"
)

// Ledger: 결제 반영에 필요한 과금 서비스 기능입니다.
type Ledger interface {
	Account(ctx context.Context, accountID string) (*ledger.Account, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	ApplyPayment(ctx context.Context, accountID string, sessionID string, spec ledger.BatchSpec) (billing.PaymentResult, error)
}

// ConfirmResult 는 결제 확인 응답이다.
type ConfirmResult struct {
	Success          bool   `json:"success"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	AddedTokens      int64  `json:"added_tokens,omitempty"`
	NewBalance       int64  `json:"new_balance"`
	Message          string `json:"message,omitempty"`
}

// CheckoutResult 는 체크아웃 생성 응답이다.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Reconciler 는 결제 제공자 세션을 계정 배치로 반영한다.
type Reconciler struct {
	provider    Provider
	ledger      Ledger
	catalog     *plan.Catalog
	metrics     *metrics.Metrics
	logger      *slog.Logger
	frontendURL string
	currency    string
	now         func() time.Time
	flights     singleflight.Group
}

// NewReconciler 는 Reconciler 를 생성한다.
func NewReconciler(
	provider Provider,
	ledgerSvc Ledger,
	catalog *plan.Catalog,
	cfg config.PaymentConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Reconciler {
	if provider == nil {
		provider = disabledProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Reconciler{
		provider:    provider,
		ledger:      ledgerSvc,
		catalog:     catalog,
		metrics:     m,
		logger:      logger,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		currency:    currency,
		now:         time.Now,
	}
}

// ProvideReconciler 는 DI 용 생성자다. 비밀 키가 없으면 결제 기능이 비활성화된다.
func ProvideReconciler(
	cfg *config.Config,
	service *billing.Service,
	catalog *plan.Catalog,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Reconciler {
	var provider Provider
	if strings.TrimSpace(cfg.Payment.StripeSecretKey) != "" {
		provider = NewStripeProvider(cfg.Payment.StripeSecretKey)
	} else if logger != nil {
		logger.Warn("payment_provider_disabled", "reason", "STRIPE_SECRET_KEY not set")
	}
	return NewReconciler(provider, service, catalog, cfg.Payment, m, logger)
}

// Confirm 은 결제 세션을 확인하고 한 번만 반영한다.
// 같은 호출자와 세션에 대한 동시 요청은 하나로 합쳐진다.
func (r *Reconciler) Confirm(ctx context.Context, callerID string, sessionID string) (ConfirmResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ConfirmResult{}, fmt.Errorf("%w: session id is empty", ErrSessionNotFound)
	}

	value, err, _ := r.flights.Do(callerID+":"+sessionID, func() (any, error) {
		return r.confirm(ctx, callerID, sessionID)
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return value.(ConfirmResult), nil
}

func (r *Reconciler) confirm(ctx context.Context, callerID string, sessionID string) (ConfirmResult, error) {
	session, err := r.provider.GetSession(ctx, sessionID)
	if err != nil {
		r.metrics.Payment("provider_error")
		return ConfirmResult{}, err
	}
	if !session.Paid() {
		r.metrics.Payment("not_paid")
		r.logger.Info("payment_not_completed", "account_id", callerID, "session_id", sessionID, "status", session.PaymentStatus)
		balance, balanceErr := r.ledger.Balance(ctx, callerID)
		if balanceErr != nil {
			return ConfirmResult{}, balanceErr
		}
		return ConfirmResult{Success: false, NewBalance: balance, Message: "payment not completed"}, nil
	}

	acc, err := r.ledger.Account(ctx, callerID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if acc.HasProcessedEvent(sessionID) {
		r.metrics.Payment("already_processed")
		return ConfirmResult{
			Success:          true,
			AlreadyProcessed: true,
			NewBalance:       ledger.ActiveBalance(acc.Batches, r.now()),
		}, nil
	}

	meta, err := decodeMetadata(session.Metadata)
	if err != nil {
		r.metrics.Payment("invalid_metadata")
		return ConfirmResult{}, err
	}
	if meta.AccountID != callerID {
		r.metrics.Payment("account_mismatch")
		r.logger.Warn("payment_account_mismatch", "caller_id", callerID, "session_account_id", meta.AccountID, "session_id", sessionID)
		return ConfirmResult{}, ErrAccountMismatch
	}

	p, err := r.catalog.Lookup(meta.PlanID)
	if err != nil {
		r.metrics.Payment("unknown_plan")
		return ConfirmResult{}, err
	}
	if meta.TokenAmount != 0 && meta.TokenAmount != p.TokenAmount {
		// 카탈로그가 기준이다. 가격 변경 전에 생성된 세션일 수 있다.
		r.logger.Warn(
			"payment_token_amount_differs",
			"session_id", sessionID,
			"plan_id", p.ID,
			"session_tokens", meta.TokenAmount,
			"plan_tokens", p.TokenAmount,
		)
	}

	applied, err := r.ledger.ApplyPayment(ctx, callerID, sessionID, p.BatchSpec(sessionID))
	if err != nil {
		return ConfirmResult{}, err
	}
	if applied.AlreadyProcessed {
		r.metrics.Payment("already_processed")
		return ConfirmResult{Success: true, AlreadyProcessed: true, NewBalance: applied.Balance}, nil
	}

	r.metrics.Payment("credited")
	r.logger.Info(
		"payment_confirmed",
		"account_id", callerID,
		"session_id", sessionID,
		"plan_id", p.ID,
		"added_tokens", applied.AddedTokens,
		"new_balance", applied.Balance,
	)
	return ConfirmResult{Success: true, AddedTokens: applied.AddedTokens, NewBalance: applied.Balance}, nil
}

// CreateCheckout 은 요금제 결제를 위한 체크아웃 세션을 만든다.
func (r *Reconciler) CreateCheckout(ctx context.Context, callerID string, planID string) (CheckoutResult, error) {
	p, err := r.catalog.Lookup(planID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if _, err := r.ledger.Account(ctx, callerID); err != nil {
		return CheckoutResult{}, err
	}

	session, err := r.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		AccountID:   callerID,
		PlanID:      p.ID,
		DisplayName: p.DisplayName,
		PriceCents:  p.PriceCents,
		TokenAmount: p.TokenAmount,
		Currency:    r.currency,
		SuccessURL:  r.frontendURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   r.frontendURL + "/pricing",
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	r.logger.Info("payment_checkout_created", "account_id", callerID, "plan_id", p.ID, "session_id", session.ID)
	return CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// Plans 는 구매 가능한 요금제 목록을 반환한다.
func (r *Reconciler) Plans() []plan.Plan {
	return r.catalog.All()
}

// IsProviderError 는 결제 제공자 측 오류인지 확인한다.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrProviderDisabled)
}
