package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
)

// Recorder 는 소비 이벤트를 즉시 저장하거나 배치로 적재한다.
// 기록 실패는 로그와 메트릭으로만 남고 호출자에게 전파되지 않는다.
type Recorder struct {
	store         Store
	batcher       *batcher
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
	insertTimeout time.Duration
}

const defaultInsertTimeout = 5 * time.Second

// NewRecorder 는 설정에 따라 배치 사용 여부를 결정해 Recorder를 생성한다.
func NewRecorder(cfg *config.Config, store Store, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	recorder := &Recorder{
		store:         store,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
		insertTimeout: defaultInsertTimeout,
	}
	if cfg != nil && cfg.Database.UsageBatchFlushTimeoutSeconds > 0 {
		recorder.insertTimeout = time.Duration(cfg.Database.UsageBatchFlushTimeoutSeconds) * time.Second
	}

	if cfg != nil && cfg.Database.UsageBatchEnabled && store != nil {
		recorder.batcher = newBatcher(cfg.Database, store, m, logger)
		recorder.batcher.start()
		if logger != nil {
			logger.Info(
				"usage_db_batch_enabled",
				"flush_interval_seconds", cfg.Database.UsageBatchFlushIntervalSeconds,
				"flush_timeout_seconds", cfg.Database.UsageBatchFlushTimeoutSeconds,
				"max_pending_records", cfg.Database.UsageBatchMaxPendingRecords,
				"max_buffered_records", cfg.Database.UsageBatchMaxBufferedRecords,
				"max_backoff_seconds", cfg.Database.UsageBatchMaxBackoffSeconds,
			)
		}
	}

	return recorder
}

// Record 는 소비 이벤트 1건을 기록한다.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil || r.store == nil || rec.AccountID == "" {
		return
	}
	row := rec.toRow(r.now())

	if r.batcher != nil {
		r.batcher.add(row)
		return
	}

	// 요청 취소와 무관하게 기록은 남기되, 저장소가 멈춰도 호출자를 붙잡지 않는다.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.insertTimeout)
	defer cancel()
	if err := r.store.Insert(insertCtx, []UsageRecord{row}); err != nil {
		r.metrics.UsageDropped(1)
		if r.logger != nil {
			r.logger.Warn("usage_db_save_failed", "account_id", rec.AccountID, "total_tokens", rec.TotalTokens, "err", err)
		}
	}
}

// Recent 는 계정의 최근 기록을 조회한다.
func (r *Recorder) Recent(ctx context.Context, accountID string, limit int) ([]UsageRecord, error) {
	return r.store.Recent(ctx, accountID, limit)
}

// Total 은 최근 days 일 동안의 계정 사용량 합계를 조회한다.
func (r *Recorder) Total(ctx context.Context, accountID string, days int) (Summary, error) {
	if days <= 0 {
		days = 30
	}
	return r.store.Total(ctx, accountID, r.now().AddDate(0, 0, -days))
}

// Close 는 배치 플러셔를 중지하고 남은 기록을 적재한다.
func (r *Recorder) Close() {
	if r == nil || r.batcher == nil {
		return
	}
	r.batcher.stop()
}
