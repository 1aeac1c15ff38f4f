package payment

import (
	"context"
	"errors"
)

var (
	// ErrAccountMismatch 는 결제 세션의 계정과 호출자 계정이 다를 때의 인가 오류다.
	ErrAccountMismatch = errors.New("payment session belongs to another account")
	// ErrSessionNotFound 는 결제 제공자에 세션이 없을 때의 오류다.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrProvider 는 결제 제공자 호출 실패 오류다.
	ErrProvider = errors.New("payment provider error")
	// ErrInvalidMetadata 는 세션 메타데이터를 해석할 수 없을 때의 오류다.
	ErrInvalidMetadata = errors.New("invalid payment session metadata")
	// ErrProviderDisabled 는 결제 제공자 키가 설정되지 않았을 때의 오류다.
	ErrProviderDisabled = errors.New("payment provider not configured")
)

// PaymentStatusPaid 는 결제 완료 상태 값이다.
const PaymentStatusPaid = "paid"

// Session 은 결제 제공자 측 체크아웃 세션 요약이다.
type Session struct {
	ID            string
	PaymentStatus string
	URL           string
	AmountTotal   int64
	Currency      string
	Metadata      map[string]string
}

// Paid 는 결제 완료 여부를 반환한다.
func (s Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// CheckoutRequest 는 체크아웃 세션 생성 요청이다.
type CheckoutRequest struct {
	AccountID   string
	PlanID      string
	DisplayName string
	PriceCents  int64
	TokenAmount int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// Provider: 결제 제공자 인터페이스입니다.
type Provider interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error)
}
