package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidAmount 는 토큰 수량이 0 이하일 때의 오류다.
var ErrInvalidAmount = errors.New("token amount must be positive")

// BatchType 은 크레딧 배치의 발급 출처 태그다.
type BatchType string

const (
	// BatchTypeMonthlyFree 는 무료 티어 월간 지급 배치다.
	BatchTypeMonthlyFree BatchType = "monthly_free"
	// BatchTypePaidBasic 은 basic 요금제 결제 배치다.
	BatchTypePaidBasic BatchType = "paid_basic"
	// BatchTypePaidPremium 은 premium 요금제 결제 배치다.
	BatchTypePaidPremium BatchType = "paid_premium"
	// BatchTypeAdminGrant 는 관리자 수동 지급 배치다.
	BatchTypeAdminGrant BatchType = "admin_grant"
)

// Valid 는 알려진 배치 타입인지 확인한다.
func (t BatchType) Valid() bool {
	switch t {
	case BatchTypeMonthlyFree, BatchTypePaidBasic, BatchTypePaidPremium, BatchTypeAdminGrant:
		return true
	default:
		return false
	}
}

// Purchasable 은 결제로만 생성되는 타입인지 확인한다.
func (t BatchType) Purchasable() bool {
	return t == BatchTypePaidBasic || t == BatchTypePaidPremium
}

// BatchState 는 배치 수명 주기 상태다.
type BatchState string

// 배치 상태 값
const (
	BatchStateActive            BatchState = "active"
	BatchStatePartiallyConsumed BatchState = "partially_consumed"
	BatchStateExhausted         BatchState = "exhausted"
	BatchStateExpired           BatchState = "expired"
)

// CreditBatch 는 만료 시점을 가진 토큰 할당분이다.
// AmountTokens 와 ExpiresAt 은 생성 후 변하지 않고 RemainingTokens 만 감소한다.
type CreditBatch struct {
	ID              string    `json:"id"`
	Type            BatchType `json:"type"`
	AmountTokens    int64     `json:"amount_tokens"`
	RemainingTokens int64     `json:"remaining_tokens"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	SourceReference string    `json:"source_reference,omitempty"`
}

// IsActive 는 now 시점에 잔액에 기여하는지 확인한다.
func (b CreditBatch) IsActive(now time.Time) bool {
	return b.RemainingTokens > 0 && b.ExpiresAt.After(now)
}

// State 는 now 시점의 배치 상태를 계산한다.
func (b CreditBatch) State(now time.Time) BatchState {
	if !b.ExpiresAt.After(now) {
		return BatchStateExpired
	}
	if b.RemainingTokens <= 0 {
		return BatchStateExhausted
	}
	if b.RemainingTokens < b.AmountTokens {
		return BatchStatePartiallyConsumed
	}
	return BatchStateActive
}

// BatchSpec 은 새 배치 생성 요청이다.
type BatchSpec struct {
	Type            BatchType
	Tokens          int64
	ExpiresIn       time.Duration
	SourceReference string
}

// Days 는 일 단위 만료 기간을 Duration 으로 바꾼다.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// NewBatch 는 spec 으로부터 배치를 생성한다.
func NewBatch(id string, spec BatchSpec, now time.Time) (CreditBatch, error) {
	if spec.Tokens <= 0 {
		return CreditBatch{}, ErrInvalidAmount
	}
	if !spec.Type.Valid() {
		return CreditBatch{}, fmt.Errorf("unknown batch type: %q", spec.Type)
	}
	if spec.ExpiresIn <= 0 {
		return CreditBatch{}, fmt.Errorf("batch expiry must be in the future: %s", spec.ExpiresIn)
	}
	return CreditBatch{
		ID:              id,
		Type:            spec.Type,
		AmountTokens:    spec.Tokens,
		RemainingTokens: spec.Tokens,
		ExpiresAt:       now.Add(spec.ExpiresIn),
		CreatedAt:       now,
		SourceReference: spec.SourceReference,
	}, nil
}
