package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/handler/shared"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/middleware"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/usage"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
	defaultTotalDays   = 30
	maxTotalDays       = 366
)

// UsageListResponse: 최근 사용 기록 응답입니다.
type UsageListResponse struct {
	AccountID string              `json:"account_id"`
	Records   []usage.UsageRecord `json:"records"`
}

// UsageHandler: 사용량 API 핸들러입니다.
type UsageHandler struct {
	recorder *usage.Recorder
	logger   *slog.Logger
}

// NewUsageHandler: 사용량 핸들러를 생성합니다.
func NewUsageHandler(recorder *usage.Recorder, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{recorder: recorder, logger: logger}
}

// RegisterRoutes: 사용량 라우트를 등록합니다. 요청자 본인의 기록만 조회합니다.
func (h *UsageHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/usage", middleware.RequireAccount())
	group.GET("/recent", h.handleRecent)
	group.GET("/total", h.handleTotal)
}

func (h *UsageHandler) handleRecent(c *gin.Context) {
	limit, err := shared.QueryInt(c, "limit", defaultRecentLimit, maxRecentLimit)
	if err != nil {
		writeError(c, httperror.NewInvalidInput(err.Error()))
		return
	}

	accountID := middleware.GetAccountID(c)
	records, err := h.recorder.Recent(c.Request.Context(), accountID, limit)
	if err != nil {
		shared.LogError(h.logger, "usage", err)
		writeError(c, err)
		return
	}
	if records == nil {
		records = []usage.UsageRecord{}
	}

	c.JSON(http.StatusOK, UsageListResponse{AccountID: accountID, Records: records})
}

func (h *UsageHandler) handleTotal(c *gin.Context) {
	days, err := shared.QueryInt(c, "days", defaultTotalDays, maxTotalDays)
	if err != nil {
		writeError(c, httperror.NewInvalidInput(err.Error()))
		return
	}

	summary, err := h.recorder.Total(c.Request.Context(), middleware.GetAccountID(c), days)
	if err != nil {
		shared.LogError(h.logger, "usage", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
