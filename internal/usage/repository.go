package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/database"
)

const insertBatchSize = 200

// Repository 는 usage_records 테이블 접근을 담당한다.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRepository 는 usage 저장소를 생성한다.
func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db.Gorm, logger: logger}
}

// ProvideRepository 는 스키마를 준비한 뒤 저장소를 반환한다.
func ProvideRepository(db *database.DB, logger *slog.Logger) (*Repository, error) {
	repo := NewRepository(db, logger)
	if err := repo.AutoMigrate(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

// AutoMigrate 는 usage_records 테이블을 준비한다.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&UsageRecord{}); err != nil {
		return fmt.Errorf("migrate usage_records: %w", err)
	}
	return nil
}

// Insert 는 기록을 추가한다. 기존 행은 건드리지 않는다.
func (r *Repository) Insert(ctx context.Context, rows []UsageRecord) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert usage records: %w", err)
	}
	return nil
}

// Recent 는 계정의 최근 기록을 최신순으로 조회한다.
func (r *Repository) Recent(ctx context.Context, accountID string, limit int) ([]UsageRecord, error) {
	if accountID == "" {
		return nil, errors.New("account id is empty")
	}
	if limit <= 0 {
		limit = 20
	}

	var rows []UsageRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	return rows, nil
}

// Total 은 since 이후 계정 사용량 합계를 조회한다.
func (r *Repository) Total(ctx context.Context, accountID string, since time.Time) (Summary, error) {
	if accountID == "" {
		return Summary{}, errors.New("account id is empty")
	}

	var aggregate struct {
		InputTokens  int64
		OutputTokens int64
		TotalTokens  int64
		RequestCount int64
	}
	err := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select(
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, "+
				"COALESCE(SUM(output_tokens), 0) AS output_tokens, "+
				"COALESCE(SUM(total_tokens), 0) AS total_tokens, "+
				"COUNT(*) AS request_count",
		).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Scan(&aggregate).Error
	if err != nil {
		return Summary{}, fmt.Errorf("query usage total: %w", err)
	}

	return Summary{
		AccountID:    accountID,
		Since:        since,
		InputTokens:  aggregate.InputTokens,
		OutputTokens: aggregate.OutputTokens,
		TotalTokens:  aggregate.TotalTokens,
		RequestCount: aggregate.RequestCount,
	}, nil
}
