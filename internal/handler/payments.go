package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/handler/shared"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/middleware"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/payment"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/plan"
)

// CheckoutRequest: 체크아웃 생성 요청입니다.
type CheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// PlansResponse: 요금제 목록 응답입니다.
type PlansResponse struct {
	Plans []plan.Plan `json:"plans"`
}

// PaymentHandler: 결제 API 핸들러입니다.
type PaymentHandler struct {
	reconciler *payment.Reconciler
	logger     *slog.Logger
}

// NewPaymentHandler: 결제 핸들러를 생성합니다.
func NewPaymentHandler(reconciler *payment.Reconciler, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, logger: logger}
}

// RegisterRoutes: 결제 라우트를 등록합니다. 요금제 목록은 인증 없이 조회할 수 있습니다.
func (h *PaymentHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/payments")
	group.GET("/plans", h.handlePlans)
	group.POST("/checkout", middleware.RequireAccount(), h.handleCheckout)
	group.GET("/confirm", middleware.RequireAccount(), h.handleConfirm)
}

func (h *PaymentHandler) handlePlans(c *gin.Context) {
	c.JSON(http.StatusOK, PlansResponse{Plans: h.reconciler.Plans()})
}

func (h *PaymentHandler) handleCheckout(c *gin.Context) {
	var req CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.reconciler.CreateCheckout(c.Request.Context(), middleware.GetAccountID(c), req.PlanID)
	if err != nil {
		shared.LogError(h.logger, "payment_checkout", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) handleConfirm(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		writeError(c, httperror.NewMissingField("session_id"))
		return
	}

	result, err := h.reconciler.Confirm(c.Request.Context(), middleware.GetAccountID(c), sessionID)
	if err != nil {
		shared.LogError(h.logger, "payment_confirm", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
