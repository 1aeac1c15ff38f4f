// Package health 는 프로세스와 외부 의존성(DB, 잔액 캐시, 결제 제공자)의 상태를 수집한다.
package health

import (
	"context"
	"time"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/balancecache"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/database"
)

// 상태 값
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

const checkTimeout = 2 * time.Second

// Pinger: 연결 확인 인터페이스입니다.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheProbe: 캐시 연결 확인 인터페이스입니다.
type CacheProbe interface {
	Pinger
	Backend() string
}

// Component 는 상태 구성 요소다.
type Component struct {
	Status string         `json:"status"`
	Detail map[string]any `json:"detail"`
}

// Response 는 상태 응답 본문이다.
type Response struct {
	Status     string               `json:"status"`
	Components map[string]Component `json:"components"`
}

// Checker 는 헬스 상태를 수집한다.
type Checker struct {
	db             Pinger
	cache          CacheProbe
	paymentEnabled bool
	startedAt      time.Time
}

// NewChecker 는 Checker 를 생성한다.
func NewChecker(db Pinger, cache CacheProbe, paymentEnabled bool) *Checker {
	return &Checker{db: db, cache: cache, paymentEnabled: paymentEnabled, startedAt: time.Now()}
}

// ProvideChecker 는 DI 용 생성자다.
func ProvideChecker(cfg *config.Config, db *database.DB, cache *balancecache.Cache) *Checker {
	return NewChecker(db, cache, cfg.Payment.StripeSecretKey != "")
}

// Collect 는 헬스 상태를 수집한다. deepChecks 가 false 면 외부 의존성에 접속하지 않는다.
// DB 실패는 down, 캐시 실패는 fail-open 이므로 degraded 로 본다.
func (h *Checker) Collect(ctx context.Context, deepChecks bool) Response {
	if ctx == nil {
		ctx = context.Background()
	}
	components := map[string]Component{
		"app": {
			Status: StatusOK,
			Detail: map[string]any{"uptime_seconds": int(time.Since(h.startedAt).Seconds())},
		},
	}

	if deepChecks {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkTimeout)
		defer cancel()

		components["database"] = h.databaseStatus(checkCtx)
		components["balance_cache"] = h.cacheStatus(checkCtx)
	}

	paymentStatus := StatusOK
	if !h.paymentEnabled {
		paymentStatus = StatusDisabled
	}
	components["payment_provider"] = Component{
		Status: paymentStatus,
		Detail: map[string]any{"enabled": h.paymentEnabled},
	}

	return Response{Status: overallStatus(components), Components: components}
}

func (h *Checker) databaseStatus(ctx context.Context) Component {
	if h.db == nil {
		return Component{Status: StatusDown, Detail: map[string]any{"error": "not configured"}}
	}
	if err := h.db.Ping(ctx); err != nil {
		return Component{Status: StatusDown, Detail: map[string]any{"error": err.Error()}}
	}
	return Component{Status: StatusOK, Detail: map[string]any{"connected": true}}
}

func (h *Checker) cacheStatus(ctx context.Context) Component {
	if h.cache == nil {
		return Component{Status: StatusDegraded, Detail: map[string]any{"error": "not configured"}}
	}
	detail := map[string]any{"backend": h.cache.Backend()}
	if err := h.cache.Ping(ctx); err != nil {
		detail["error"] = err.Error()
		return Component{Status: StatusDegraded, Detail: detail}
	}
	return Component{Status: StatusOK, Detail: detail}
}

func overallStatus(components map[string]Component) string {
	overall := StatusOK
	for _, component := range components {
		switch component.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}
