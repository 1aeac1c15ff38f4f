// Package ledger 는 계정의 크레딧 배치 집합과 잔액 계산 규칙을 담는다.
// 이 패키지의 함수는 모두 부수 효과 없이 now 를 인자로 받는다.
package ledger

import (
	"slices"
	"time"
)

// ActiveBalance 는 now 시점에 활성인 배치들의 잔여 토큰 합계다.
func ActiveBalance(batches []CreditBatch, now time.Time) int64 {
	var total int64
	for _, batch := range batches {
		if batch.IsActive(now) {
			total += batch.RemainingTokens
		}
	}
	return total
}

// SelectForDeduction 은 활성 배치를 만료가 가까운 순으로 정렬해 반환한다.
// 반환된 포인터는 batches 원소를 가리키므로 ApplyDeduction 결과가 원본에 반영된다.
func SelectForDeduction(batches []CreditBatch, now time.Time) []*CreditBatch {
	selected := make([]*CreditBatch, 0, len(batches))
	for i := range batches {
		if batches[i].IsActive(now) {
			selected = append(selected, &batches[i])
		}
	}
	slices.SortStableFunc(selected, func(a, b *CreditBatch) int {
		return a.ExpiresAt.Compare(b.ExpiresAt)
	})
	return selected
}

// Allocation 은 차감이 특정 배치에서 가져간 양이다.
type Allocation struct {
	BatchID string `json:"batch_id"`
	Tokens  int64  `json:"tokens"`
}

// Deduction 은 ApplyDeduction 결과다.
type Deduction struct {
	Requested   int64
	Deducted    int64
	Allocations []Allocation
}

// Shortfall 은 배치로 충당되지 못한 양이다.
func (d Deduction) Shortfall() int64 {
	return d.Requested - d.Deducted
}

// ApplyDeduction 은 정렬된 배치 목록을 앞에서부터 소진하며 amount 를 차감한다.
// 잔여량이 부족해도 오류 없이 가능한 만큼만 차감한다.
func ApplyDeduction(ordered []*CreditBatch, amount int64) Deduction {
	result := Deduction{Requested: max(0, amount)}
	remaining := result.Requested
	for _, batch := range ordered {
		if remaining <= 0 {
			break
		}
		if batch == nil || batch.RemainingTokens <= 0 {
			continue
		}
		take := min(batch.RemainingTokens, remaining)
		batch.RemainingTokens -= take
		remaining -= take
		result.Deducted += take
		result.Allocations = append(result.Allocations, Allocation{BatchID: batch.ID, Tokens: take})
	}
	return result
}

// ExpireInPlace 는 만료된 배치의 잔여량을 0 으로 만든다. 0 으로 바뀐 배치 수를 반환한다.
func ExpireInPlace(batches []CreditBatch, now time.Time) int {
	expired := 0
	for i := range batches {
		if !batches[i].ExpiresAt.After(now) && batches[i].RemainingTokens > 0 {
			batches[i].RemainingTokens = 0
			expired++
		}
	}
	return expired
}
