package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/billing"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/handler/shared"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
)

// MeteringRequest: 소비량 보고 요청입니다. TotalTokens 가 0 이면 입력+출력 합을 사용합니다.
type MeteringRequest struct {
	AccountID    string `json:"account_id" binding:"required,max=128"`
	Endpoint     string `json:"endpoint" binding:"max=255"`
	Model        string `json:"model" binding:"max=128"`
	InputTokens  int64  `json:"input_tokens" binding:"gte=0"`
	OutputTokens int64  `json:"output_tokens" binding:"gte=0"`
	TotalTokens  int64  `json:"total_tokens" binding:"gte=0"`
}

// CreateAccountRequest: 계정 생성 요청입니다.
type CreateAccountRequest struct {
	AccountID     string `json:"account_id" binding:"required,max=128"`
	GrantFreeTier bool   `json:"grant_free_tier"`
}

// GrantRequest: 관리자 지급 요청입니다.
type GrantRequest struct {
	BatchType       ledger.BatchType `json:"batch_type" binding:"required,oneof=monthly_free paid_basic paid_premium admin_grant"`
	Tokens          int64            `json:"tokens" binding:"required,gt=0"`
	ExpiryDays      int              `json:"expiry_days" binding:"required,gt=0,lte=3650"`
	SourceReference string           `json:"source_reference" binding:"max=255"`
}

// AccountResponse: 계정 요약 응답입니다.
type AccountResponse struct {
	AccountID       string      `json:"account_id"`
	ActiveTokens    int64       `json:"active_tokens"`
	DisplayCredits  float64     `json:"display_credits"`
	Version         int64       `json:"version"`
	ProcessedEvents int         `json:"processed_events"`
	Batches         []BatchView `json:"batches"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// InternalHandler: 서비스 간 호출용 API 핸들러입니다. APIKeyAuth 로 보호됩니다.
type InternalHandler struct {
	service *billing.Service
	logger  *slog.Logger
}

// NewInternalHandler: 내부 API 핸들러를 생성합니다.
func NewInternalHandler(service *billing.Service, logger *slog.Logger) *InternalHandler {
	return &InternalHandler{service: service, logger: logger}
}

// RegisterRoutes: 내부 라우트를 등록합니다.
func (h *InternalHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/internal")
	group.POST("/metering/usage", h.handleMetering)
	group.POST("/accounts", h.handleCreateAccount)
	group.GET("/accounts/:id", h.handleGetAccount)
	group.POST("/accounts/:id/grants", h.handleGrant)
	group.POST("/accounts/:id/grant-free-tier", h.handleGrantFreeTier)
	group.POST("/accounts/:id/recalculate", h.handleRecalculate)
}

func (h *InternalHandler) handleMetering(c *gin.Context) {
	var req MeteringRequest
	if !bindJSON(c, &req) {
		return
	}

	amount := req.TotalTokens
	if amount == 0 {
		amount = req.InputTokens + req.OutputTokens
	}

	result, err := h.service.Deduct(c.Request.Context(), strings.TrimSpace(req.AccountID), amount, billing.UsageContext{
		Endpoint:     req.Endpoint,
		Model:        req.Model,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
	})
	if err != nil {
		shared.LogError(h.logger, "metering", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *InternalHandler) handleCreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		writeError(c, httperror.NewMissingField("account_id"))
		return
	}

	acc, err := h.service.CreateAccount(c.Request.Context(), accountID)
	if err != nil {
		shared.LogError(h.logger, "account_create", err)
		writeError(c, err)
		return
	}
	if req.GrantFreeTier {
		if _, err := h.service.GrantFreeTier(c.Request.Context(), accountID); err != nil {
			shared.LogError(h.logger, "account_create", err)
			writeError(c, err)
			return
		}
		if acc, err = h.service.Account(c.Request.Context(), accountID); err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, h.accountResponse(acc))
}

func (h *InternalHandler) handleGetAccount(c *gin.Context) {
	acc, err := h.service.Account(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.accountResponse(acc))
}

func (h *InternalHandler) handleGrant(c *gin.Context) {
	var req GrantRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.service.Grant(c.Request.Context(), c.Param("id"), ledger.BatchSpec{
		Type:            req.BatchType,
		Tokens:          req.Tokens,
		ExpiresIn:       ledger.Days(req.ExpiryDays),
		SourceReference: req.SourceReference,
	})
	if err != nil {
		shared.LogError(h.logger, "grant", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *InternalHandler) handleGrantFreeTier(c *gin.Context) {
	result, err := h.service.GrantFreeTier(c.Request.Context(), c.Param("id"))
	if err != nil {
		shared.LogError(h.logger, "grant", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *InternalHandler) handleRecalculate(c *gin.Context) {
	acc, err := h.service.RecalculateAndPersist(c.Request.Context(), c.Param("id"))
	if err != nil {
		shared.LogError(h.logger, "recalculate", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.accountResponse(acc))
}

func (h *InternalHandler) accountResponse(acc *ledger.Account) AccountResponse {
	return AccountResponse{
		AccountID:       acc.ID,
		ActiveTokens:    acc.ActiveBalance,
		DisplayCredits:  h.service.DisplayCredits(acc.ActiveBalance),
		Version:         acc.Version,
		ProcessedEvents: len(acc.ProcessedEvents),
		Batches:         batchViews(acc.Batches, time.Now()),
		UpdatedAt:       acc.UpdatedAt,
	}
}
