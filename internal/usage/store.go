package usage

import (
	"context"
	"time"
)

// Store: 사용량 저장소 인터페이스입니다.
// 테스트에서 mock 구현을 주입할 수 있도록 합니다.
type Store interface {
	// Insert 기록 묶음을 한 번에 추가
	Insert(ctx context.Context, rows []UsageRecord) error

	// Recent 계정의 최근 기록 조회 (최신순)
	Recent(ctx context.Context, accountID string, limit int) ([]UsageRecord, error)

	// Total since 이후 계정 사용량 합계
	Total(ctx context.Context, accountID string, since time.Time) (Summary, error)
}

// Repository가 Store 인터페이스를 구현하는지 컴파일 타임 확인
var _ Store = (*Repository)(nil)
