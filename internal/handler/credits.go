package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/billing"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/handler/shared"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/middleware"
)

// BatchView: 응답용 배치 정보입니다.
type BatchView struct {
	ledger.CreditBatch
	State ledger.BatchState `json:"state"`
}

// CreditsResponse: 잔액 조회 응답입니다.
type CreditsResponse struct {
	AccountID      string      `json:"account_id"`
	ActiveTokens   int64       `json:"active_tokens"`
	DisplayCredits float64     `json:"display_credits"`
	Batches        []BatchView `json:"batches"`
}

// GrantFreeTierResponse: 무료 티어 지급 응답입니다.
type GrantFreeTierResponse struct {
	Message        string  `json:"message"`
	Granted        bool    `json:"granted"`
	ActiveTokens   int64   `json:"active_tokens"`
	DisplayCredits float64 `json:"display_credits"`
}

// CreditsHandler: 크레딧 조회/무료 지급 API 핸들러입니다.
type CreditsHandler struct {
	service *billing.Service
	logger  *slog.Logger
}

// NewCreditsHandler: 크레딧 핸들러를 생성합니다.
func NewCreditsHandler(service *billing.Service, logger *slog.Logger) *CreditsHandler {
	return &CreditsHandler{service: service, logger: logger}
}

// RegisterRoutes: 크레딧 라우트를 등록합니다.
func (h *CreditsHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/credits", middleware.RequireAccount())
	group.GET("", h.handleGet)
	group.POST("/grant-free-tier", h.handleGrantFreeTier)
}

func (h *CreditsHandler) handleGet(c *gin.Context) {
	accountID := middleware.GetAccountID(c)

	// 캐시나 저장된 잔액이 어긋났을 수 있으므로 항상 다시 계산한다.
	acc, err := h.service.RecalculateAndPersist(c.Request.Context(), accountID)
	if err != nil {
		shared.LogError(h.logger, "credits", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CreditsResponse{
		AccountID:      accountID,
		ActiveTokens:   acc.ActiveBalance,
		DisplayCredits: h.service.DisplayCredits(acc.ActiveBalance),
		Batches:        batchViews(acc.Batches, time.Now()),
	})
}

func (h *CreditsHandler) handleGrantFreeTier(c *gin.Context) {
	result, err := h.service.GrantFreeTier(c.Request.Context(), middleware.GetAccountID(c))
	if err != nil {
		shared.LogError(h.logger, "credits", err)
		writeError(c, err)
		return
	}

	message := "Free tier granted"
	if !result.Granted {
		message = "Free tier already granted"
	}
	c.JSON(http.StatusOK, GrantFreeTierResponse{
		Message:        message,
		Granted:        result.Granted,
		ActiveTokens:   result.Balance,
		DisplayCredits: h.service.DisplayCredits(result.Balance),
	})
}

func batchViews(batches []ledger.CreditBatch, now time.Time) []BatchView {
	views := make([]BatchView, 0, len(batches))
	for _, batch := range batches {
		views = append(views, BatchView{CreditBatch: batch, State: batch.State(now)})
	}
	return views
}
