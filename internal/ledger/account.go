package ledger

import (
	"slices"
	"time"
)

// Account 는 계정 단위로 저장되는 원장 문서다.
// ActiveBalance 는 비정규화 필드이며 저장 직전에 항상 Recalculate 로 다시 계산된다.
type Account struct {
	ID              string
	Batches         []CreditBatch
	ProcessedEvents []string
	ActiveBalance   int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recalculate 는 만료 처리 후 ActiveBalance 를 다시 계산한다.
func (a *Account) Recalculate(now time.Time) int64 {
	ExpireInPlace(a.Batches, now)
	a.ActiveBalance = ActiveBalance(a.Batches, now)
	return a.ActiveBalance
}

// Deduct 는 만료가 가까운 배치부터 amount 를 차감한다.
func (a *Account) Deduct(amount int64, now time.Time) Deduction {
	ExpireInPlace(a.Batches, now)
	result := ApplyDeduction(SelectForDeduction(a.Batches, now), amount)
	a.ActiveBalance = ActiveBalance(a.Batches, now)
	return result
}

// AddBatch 는 배치를 추가하고 잔액을 갱신한다.
func (a *Account) AddBatch(batch CreditBatch, now time.Time) {
	a.Batches = append(a.Batches, batch)
	a.Recalculate(now)
}

// HasBatchOfType 은 해당 타입 배치가 하나라도 있는지 확인한다. 만료/소진 여부는 보지 않는다.
func (a *Account) HasBatchOfType(batchType BatchType) bool {
	return slices.ContainsFunc(a.Batches, func(b CreditBatch) bool {
		return b.Type == batchType
	})
}

// HasProcessedEvent 는 외부 이벤트 ID 가 이미 반영되었는지 확인한다.
func (a *Account) HasProcessedEvent(eventID string) bool {
	return slices.Contains(a.ProcessedEvents, eventID)
}

// MarkEventProcessed 는 외부 이벤트 ID 를 처리 완료 집합에 추가한다.
func (a *Account) MarkEventProcessed(eventID string) {
	if eventID == "" || a.HasProcessedEvent(eventID) {
		return
	}
	a.ProcessedEvents = append(a.ProcessedEvents, eventID)
}

// Clone 은 배치 슬라이스까지 복사한 사본을 반환한다.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Batches = slices.Clone(a.Batches)
	clone.ProcessedEvents = slices.Clone(a.ProcessedEvents)
	return &clone
}
