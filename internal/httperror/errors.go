package httperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/billing"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/payment"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/plan"
)

// ErrorCode 는 API 오류 코드다.
type ErrorCode string

const (
	// ErrorCodeInternal 는 내부 오류 코드다.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeValidation 는 검증 오류 코드다.
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrorCodeUnauthorized 는 인증 오류 코드다.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeHTTPRateLimit 는 요청 제한 오류 코드다.
	ErrorCodeHTTPRateLimit ErrorCode = "HTTP_RATE_LIMIT"
	// ErrorCodeInvalidInput 는 입력 오류 코드다.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorCodeMissingField 는 필드 누락 코드다.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeTimeout 는 처리 시간 초과 코드다.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeAccountNotFound 는 계정 미존재 코드다.
	ErrorCodeAccountNotFound ErrorCode = "ACCOUNT_NOT_FOUND"
	// ErrorCodeAccountExists 는 계정 중복 생성 코드다.
	ErrorCodeAccountExists ErrorCode = "ACCOUNT_EXISTS"
	// ErrorCodeAccountMismatch 는 결제 계정 불일치 코드다.
	ErrorCodeAccountMismatch ErrorCode = "ACCOUNT_MISMATCH"
	// ErrorCodeInsufficientCredits 는 잔액 부족 코드다.
	ErrorCodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	// ErrorCodeWriteConflict 는 동시 변경 재시도 소진 코드다.
	ErrorCodeWriteConflict ErrorCode = "WRITE_CONFLICT"
	// ErrorCodeUnknownPlan 는 알 수 없는 요금제 코드다.
	ErrorCodeUnknownPlan ErrorCode = "UNKNOWN_PLAN"
	// ErrorCodePaymentSessionNotFound 는 결제 세션 미존재 코드다.
	ErrorCodePaymentSessionNotFound ErrorCode = "PAYMENT_SESSION_NOT_FOUND"
	// ErrorCodePaymentProvider 는 결제 제공자 오류 코드다.
	ErrorCodePaymentProvider ErrorCode = "PAYMENT_PROVIDER_ERROR"
)

// ErrorResponse 는 API 오류 응답 본문이다.
type ErrorResponse struct {
	ErrorCode string         `json:"error_code"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	RequestID *string        `json:"request_id"`
	Details   map[string]any `json:"details"`
}

// Error 는 내부 표준 오류 타입이다.
type Error struct {
	Code    ErrorCode
	Status  int
	Type    string
	Message string
	Details map[string]any
}

// Error 는 오류 메시지를 반환한다.
func (e *Error) Error() string {
	return e.Message
}

// Response 는 오류를 HTTP 응답으로 변환한다.
func Response(err error, requestID string) (int, ErrorResponse) {
	apiErr := FromError(err)
	if apiErr == nil {
		apiErr = NewInternalError("unknown error")
	}

	var requestIDPtr *string
	if requestID != "" {
		requestIDPtr = &requestID
	}

	return apiErr.Status, ErrorResponse{
		ErrorCode: string(apiErr.Code),
		ErrorType: apiErr.Type,
		Message:   apiErr.Message,
		RequestID: requestIDPtr,
		Details:   apiErr.Details,
	}
}

// FromError 는 도메인 오류를 내부 오류 타입으로 변환한다.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		return newError(ErrorCodeAccountNotFound, http.StatusNotFound, "AccountNotFoundError", "Account not found")
	case errors.Is(err, account.ErrAccountExists):
		return newError(ErrorCodeAccountExists, http.StatusConflict, "AccountExistsError", "Account already exists")
	case errors.Is(err, payment.ErrAccountMismatch):
		return newError(ErrorCodeAccountMismatch, http.StatusForbidden, "AccountMismatchError", "Payment session belongs to another account")
	case errors.Is(err, billing.ErrWriteConflict):
		return newError(ErrorCodeWriteConflict, http.StatusServiceUnavailable, "WriteConflictError", "Account is busy, retry the request")
	case errors.Is(err, plan.ErrUnknownPlan):
		return newError(ErrorCodeUnknownPlan, http.StatusBadRequest, "UnknownPlanError", err.Error())
	case errors.Is(err, payment.ErrSessionNotFound):
		return newError(ErrorCodePaymentSessionNotFound, http.StatusNotFound, "PaymentSessionNotFoundError", "Payment session not found")
	case errors.Is(err, payment.ErrInvalidMetadata):
		return newError(ErrorCodeInvalidInput, http.StatusUnprocessableEntity, "InvalidInputError", err.Error())
	case errors.Is(err, payment.ErrProviderDisabled):
		return newError(ErrorCodePaymentProvider, http.StatusServiceUnavailable, "PaymentProviderError", "Payment provider not configured")
	case errors.Is(err, payment.ErrProvider):
		return newError(ErrorCodePaymentProvider, http.StatusBadGateway, "PaymentProviderError", "Payment provider request failed")
	case errors.Is(err, ledger.ErrInvalidAmount):
		return NewInvalidInput(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorCodeTimeout, http.StatusGatewayTimeout, "TimeoutError", "Request timed out")
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return NewValidationError(err)
	}

	return NewInternalError(err.Error())
}

func newError(code ErrorCode, status int, errType string, message string) *Error {
	return &Error{Code: code, Status: status, Type: errType, Message: message}
}

// NewInternalError 는 내부 오류를 생성한다.
func NewInternalError(message string) *Error {
	return newError(ErrorCodeInternal, http.StatusInternalServerError, "InternalError", message)
}

// NewValidationError 는 검증 오류를 생성한다.
func NewValidationError(err error) *Error {
	return &Error{
		Code:    ErrorCodeValidation,
		Status:  http.StatusUnprocessableEntity,
		Type:    "ValidationError",
		Message: "Input validation failed",
		Details: validationDetails(err),
	}
}

// NewMissingField 는 누락 필드 오류를 생성한다.
func NewMissingField(field string) *Error {
	return &Error{
		Code:    ErrorCodeMissingField,
		Status:  http.StatusBadRequest,
		Type:    "MissingFieldError",
		Message: fmt.Sprintf("Field '%s' required", field),
		Details: map[string]any{"field": field},
	}
}

// NewInvalidInput 는 입력 오류를 생성한다.
func NewInvalidInput(message string) *Error {
	return newError(ErrorCodeInvalidInput, http.StatusBadRequest, "InvalidInputError", message)
}

// NewUnauthorized 는 인증 오류를 생성한다.
func NewUnauthorized(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrorCodeUnauthorized,
		Status:  http.StatusUnauthorized,
		Type:    "UnauthorizedError",
		Message: message,
		Details: details,
	}
}

// NewRateLimitExceeded 는 요청 제한 오류를 생성한다.
func NewRateLimitExceeded(details map[string]any) *Error {
	return &Error{
		Code:    ErrorCodeHTTPRateLimit,
		Status:  http.StatusTooManyRequests,
		Type:    "HTTPRateLimitExceededError",
		Message: "Rate limit exceeded",
		Details: details,
	}
}

// NewInsufficientCredits 는 사전 잔액 검사 거절 오류를 생성한다.
func NewInsufficientCredits(estimatedCost int64) *Error {
	return &Error{
		Code:    ErrorCodeInsufficientCredits,
		Status:  http.StatusPaymentRequired,
		Type:    "InsufficientCreditsError",
		Message: "Insufficient credits for this operation",
		Details: map[string]any{"estimated_cost": estimatedCost},
	}
}

// FieldError 는 필드 오류 상세 정보다.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

func validationDetails(err error) map[string]any {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]FieldError, 0, len(validationErrors))
		for _, validationErr := range validationErrors {
			fields = append(fields, FieldError{
				Field:   validationErr.Field(),
				Message: validationErr.Error(),
				Value:   validationErr.Value(),
			})
		}
		return map[string]any{"errors": fields}
	}

	return map[string]any{
		"errors": []FieldError{
			{
				Field:   "body",
				Message: err.Error(),
				Value:   nil,
			},
		},
	}
}
