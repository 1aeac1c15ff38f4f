package usage

import "time"

// UsageRecord 는 소비 이벤트 1건을 저장하는 DB 모델이다. 생성 후 수정하지 않는다.
type UsageRecord struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	AccountID    string    `gorm:"column:account_id;size:128;not null;index:idx_usage_records_account_created,priority:1" json:"account_id"`
	Endpoint     string    `gorm:"column:endpoint;size:255" json:"endpoint"`
	Model        string    `gorm:"column:model;size:128" json:"model"`
	InputTokens  int64     `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens int64     `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	TotalTokens  int64     `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_usage_records_account_created,priority:2" json:"created_at"`
}

// TableName 은 GORM에서 사용할 테이블명을 반환한다.
func (UsageRecord) TableName() string {
	return "usage_records"
}

// Record 는 기록 요청 입력이다. TotalTokens 는 실제 소비량이며 입력/출력 합과 다를 수 있다.
type Record struct {
	AccountID    string
	Endpoint     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CreatedAt    time.Time
}

func (r Record) toRow(now time.Time) UsageRecord {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return UsageRecord{
		AccountID:    r.AccountID,
		Endpoint:     r.Endpoint,
		Model:        r.Model,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		CreatedAt:    createdAt,
	}
}

// Summary 는 기간 내 사용량 합계다.
type Summary struct {
	AccountID    string    `json:"account_id"`
	Since        time.Time `json:"since"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	RequestCount int64     `json:"request_count"`
}
