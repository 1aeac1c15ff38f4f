package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/database"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
)

// accountRow 는 계정 문서 한 건을 저장하는 DB 모델이다.
type accountRow struct {
	ID              string                                 `gorm:"column:id;primaryKey;size:128"`
	ActiveBalance   int64                                  `gorm:"column:active_balance;not null;default:0"`
	Batches         datatypes.JSONSlice[ledger.CreditBatch] `gorm:"column:batches"`
	ProcessedEvents datatypes.JSONSlice[string]            `gorm:"column:processed_events"`
	Version         int64                                  `gorm:"column:version;not null;default:0"`
	CreatedAt       time.Time                              `gorm:"column:created_at"`
	UpdatedAt       time.Time                              `gorm:"column:updated_at"`
}

// TableName 은 GORM에서 사용할 테이블명을 반환한다.
func (accountRow) TableName() string {
	return "credit_accounts"
}

// Repository 는 계정 문서 DB 접근을 담당한다.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository 는 계정 저장소를 생성한다.
func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db.Gorm,
		logger: logger,
		now:    time.Now,
	}
}

// ProvideRepository 는 스키마를 준비한 뒤 저장소를 반환한다.
func ProvideRepository(db *database.DB, logger *slog.Logger) (*Repository, error) {
	repo := NewRepository(db, logger)
	if err := repo.AutoMigrate(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

// AutoMigrate 는 credit_accounts 테이블을 준비한다.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&accountRow{}); err != nil {
		return fmt.Errorf("migrate credit_accounts: %w", err)
	}
	return nil
}

// Load 는 계정 문서를 읽는다.
func (r *Repository) Load(ctx context.Context, id string) (*ledger.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrAccountNotFound
	}

	var row accountRow
	result := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("load account %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrAccountNotFound
	}
	return row.toAccount(), nil
}

// Save 는 버전 조건부로 계정 문서 전체를 덮어쓴다.
func (r *Repository) Save(ctx context.Context, acc *ledger.Account) error {
	if acc == nil || acc.ID == "" {
		return errors.New("account is empty")
	}

	now := r.now()
	result := r.db.WithContext(ctx).
		Model(&accountRow{}).
		Where("id = ? AND version = ?", acc.ID, acc.Version).
		Updates(map[string]any{
			"active_balance":   acc.ActiveBalance,
			"batches":          batchesValue(acc.Batches),
			"processed_events": eventsValue(acc.ProcessedEvents),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("save account %s: %w", acc.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		exists, err := r.exists(ctx, acc.ID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: account=%s version=%d", ErrVersionConflict, acc.ID, acc.Version)
	}

	acc.Version++
	acc.UpdatedAt = now
	return nil
}

// Create 는 새 계정 문서를 만든다.
func (r *Repository) Create(ctx context.Context, id string) (*ledger.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("account id is empty")
	}

	now := r.now()
	row := accountRow{
		ID:              id,
		Batches:         batchesValue(nil),
		ProcessedEvents: eventsValue(nil),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// 존재 확인 후 INSERT 사이 경쟁은 PK 제약이 막는다.
	exists, err := r.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAccountExists
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account %s: %w", id, err)
	}

	if r.logger != nil {
		r.logger.Info("account_created", "account_id", id)
	}
	return row.toAccount(), nil
}

// ListIDs 는 계정 ID 를 키셋 페이지네이션으로 조회한다.
func (r *Repository) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&accountRow{}).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	return ids, nil
}

func (r *Repository) exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&accountRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check account %s: %w", id, err)
	}
	return count > 0, nil
}

func (row accountRow) toAccount() *ledger.Account {
	acc := &ledger.Account{
		ID:              row.ID,
		Batches:         []ledger.CreditBatch(row.Batches),
		ProcessedEvents: []string(row.ProcessedEvents),
		ActiveBalance:   row.ActiveBalance,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if acc.Batches == nil {
		acc.Batches = []ledger.CreditBatch{}
	}
	if acc.ProcessedEvents == nil {
		acc.ProcessedEvents = []string{}
	}
	return acc
}

func batchesValue(batches []ledger.CreditBatch) datatypes.JSONSlice[ledger.CreditBatch] {
	if batches == nil {
		batches = []ledger.CreditBatch{}
	}
	return datatypes.NewJSONSlice(batches)
}

func eventsValue(events []string) datatypes.JSONSlice[string] {
	if events == nil {
		events = []string{}
	}
	return datatypes.NewJSONSlice(events)
}
