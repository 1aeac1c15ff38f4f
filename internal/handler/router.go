package handler

import (
	"log/slog"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/health"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/middleware"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/telemetry"
)

// NewRouter 는 HTTP 라우터를 구성한다.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
	checker *health.Checker,
	creditsHandler *CreditsHandler,
	paymentHandler *PaymentHandler,
	usageHandler *UsageHandler,
	internalHandler *InternalHandler,
	meteredProxy *MeteredProxy,
) *gin.Engine {
	setGinMode(cfg.Logging.Level)

	router := gin.New()

	// 추적 미들웨어는 가장 앞에 둔다.
	if cfg.Telemetry.Enabled {
		serviceName := cfg.Telemetry.ServiceName
		if serviceName == "" {
			serviceName = telemetry.DefaultServiceName
		}
		router.Use(otelgin.Middleware(serviceName))
	}

	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		gin.Recovery(),
		middleware.APIKeyAuth(cfg),
		middleware.AccountIdentity(cfg),
		middleware.RateLimit(cfg),
	)
	if cfg.HTTP.GzipEnabled {
		router.Use(newGzipMiddleware())
	}

	RegisterHealthRoutes(router, checker, m)
	creditsHandler.RegisterRoutes(router)
	paymentHandler.RegisterRoutes(router)
	usageHandler.RegisterRoutes(router)
	internalHandler.RegisterRoutes(router)
	meteredProxy.RegisterRoutes(router)

	return router
}

// newGzipMiddleware 는 프록시 응답과 메트릭을 제외하고 압축한다.
// 프록시 응답은 업스트림이 이미 인코딩했을 수 있고 스트리밍을 지연시킨다.
func newGzipMiddleware() gin.HandlerFunc {
	return gzip.Gzip(gzip.DefaultCompression, gzip.WithCustomShouldCompressFn(func(c *gin.Context) bool {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/v1/") || path == "/metrics" {
			return false
		}
		return true
	}))
}

func setGinMode(level string) {
	if strings.EqualFold(strings.TrimSpace(level), "debug") {
		gin.SetMode(gin.DebugMode)
		return
	}
	gin.SetMode(gin.ReleaseMode)
}
