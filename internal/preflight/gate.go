package preflight

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/middleware"
)

// BalanceChecker: 잔액 충분 여부를 확인하는 인터페이스입니다.
type BalanceChecker interface {
	HasSufficientBalance(ctx context.Context, accountID string, estimatedCost int64) (bool, error)
}

// 판정 결과 라벨
const (
	DecisionAllowed   = "allowed"
	DecisionDenied    = "denied"
	DecisionFailOpen  = "fail_open"
	DecisionAnonymous = "anonymous"
	DecisionUnmetered = "unmetered"
)

// Gate 는 과금 대상 요청의 사전 잔액 검사기다.
type Gate struct {
	checker BalanceChecker
	costs   CostTable
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGate 는 Gate 를 생성한다.
func NewGate(checker BalanceChecker, costs CostTable, m *metrics.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{checker: checker, costs: costs, metrics: m, logger: logger}
}

// ProvideGate 는 DI 용 생성자다.
func ProvideGate(cfg *config.Config, checker BalanceChecker, m *metrics.Metrics, logger *slog.Logger) (*Gate, error) {
	costs, err := ParseCosts(cfg.Metering.CostOverrides)
	if err != nil {
		return nil, err
	}
	return NewGate(checker, costs, m, logger), nil
}

// Costs 는 비용 표를 반환한다.
func (g *Gate) Costs() CostTable {
	return g.costs
}

// Decide 는 요청을 통과시킬지 판정한다. 거절이면 예상 비용을 함께 반환한다.
func (g *Gate) Decide(ctx context.Context, accountID string, path string) (string, int64) {
	cost, metered := g.costs.Cost(path)
	if !metered {
		return DecisionUnmetered, 0
	}
	// 익명 요청은 인증 계층이 다룬다.
	if accountID == "" {
		return DecisionAnonymous, cost
	}

	ok, err := g.checker.HasSufficientBalance(ctx, accountID, cost)
	// 원장에 없는 계정은 잔액 0 으로 본다. 장애가 아니므로 통과시키지 않는다.
	if errors.Is(err, account.ErrAccountNotFound) {
		return DecisionDenied, cost
	}
	if err != nil {
		g.logger.Warn(
			"preflight_check_failed",
			"account_id", accountID,
			"path", path,
			"estimated_cost", cost,
			"err", err,
		)
		return DecisionFailOpen, cost
	}
	if !ok {
		return DecisionDenied, cost
	}
	return DecisionAllowed, cost
}

// Middleware 는 잔액이 부족한 요청을 402 로 거절하는 gin 미들웨어다.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := middleware.GetAccountID(c)
		decision, cost := g.Decide(c.Request.Context(), accountID, c.Request.URL.Path)
		if decision != DecisionUnmetered {
			g.metrics.Preflight(decision)
		}

		if decision == DecisionDenied {
			g.logger.Info("preflight_denied", "account_id", accountID, "path", c.Request.URL.Path, "estimated_cost", cost)
			status, payload := httperror.Response(httperror.NewInsufficientCredits(cost), middleware.GetRequestID(c))
			c.AbortWithStatusJSON(status, payload)
			return
		}

		c.Next()
	}
}
