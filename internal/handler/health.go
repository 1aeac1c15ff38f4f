package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/health"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
)

// RegisterHealthRoutes: 상태 확인 및 메트릭 라우트를 등록합니다.
func RegisterHealthRoutes(router *gin.Engine, checker *health.Checker, m *metrics.Metrics) {
	router.GET("/health", func(c *gin.Context) {
		// Liveness: 외부 의존성 상태로 다운 판정되지 않도록 shallow 로 유지합니다.
		c.JSON(http.StatusOK, checker.Collect(c.Request.Context(), false))
	})

	router.GET("/health/ready", func(c *gin.Context) {
		payload := checker.Collect(c.Request.Context(), true)
		status := http.StatusOK
		if payload.Status == health.StatusDown {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, payload)
	})

	router.GET("/metrics", gin.WrapH(m.Handler()))
}
