package account

import (
	"context"
	"errors"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
)

var (
	// ErrAccountNotFound 는 계정 미존재 오류다.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists 는 이미 존재하는 계정 생성 시도 오류다.
	ErrAccountExists = errors.New("account already exists")
	// ErrVersionConflict 는 조건부 저장이 다른 writer 와 충돌했을 때의 오류다.
	ErrVersionConflict = errors.New("account version conflict")
)

// Store: 계정 원장 문서 저장소 인터페이스입니다.
type Store interface {
	// Load 는 계정 문서 전체를 읽는다. 없으면 ErrAccountNotFound.
	Load(ctx context.Context, id string) (*ledger.Account, error)

	// Save 는 acc.Version 이 저장된 버전과 같을 때만 문서 전체를 덮어쓴다.
	// 성공 시 acc.Version 이 1 증가하고, 불일치 시 ErrVersionConflict.
	Save(ctx context.Context, acc *ledger.Account) error

	// Create 는 배치가 없는 새 계정을 만든다.
	Create(ctx context.Context, id string) (*ledger.Account, error)

	// ListIDs 는 afterID 이후의 계정 ID 를 오름차순으로 limit 개 반환한다.
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// Repository가 Store 인터페이스를 구현하는지 컴파일 타임 확인
var _ Store = (*Repository)(nil)
