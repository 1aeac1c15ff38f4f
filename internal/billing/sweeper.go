package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
)

// Sweeper 는 주기적으로 만료 배치를 정리해 저장된 잔액을 최신으로 맞춘다.
// 잔액 계산은 항상 지연 만료를 적용하므로 정합성에는 필요하지 않다.
type Sweeper struct {
	service   *Service
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// SweepStats 는 한 번의 스윕 결과다.
type SweepStats struct {
	Scanned   int
	Refreshed int
	Failed    int
}

// NewSweeper 는 Sweeper 를 생성한다. interval 이 0 이하이면 Run 은 즉시 반환한다.
func NewSweeper(service *Service, interval time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Sweeper{service: service, logger: logger, interval: interval, batchSize: batchSize}
}

// ProvideSweeper 는 DI 용 생성자다.
func ProvideSweeper(cfg *config.Config, service *Service, logger *slog.Logger) *Sweeper {
	return NewSweeper(
		service,
		time.Duration(cfg.Billing.SweepIntervalSeconds)*time.Second,
		cfg.Billing.SweepBatchSize,
		logger,
	)
}

// Enabled 는 주기 실행 여부를 반환한다.
func (w *Sweeper) Enabled() bool {
	return w != nil && w.interval > 0
}

// Run 은 ctx 가 끝날 때까지 주기적으로 스윕한다.
func (w *Sweeper) Run(ctx context.Context) {
	if !w.Enabled() {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("expiry_sweeper_started", "interval", w.interval, "batch_size", w.batchSize)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("expiry_sweeper_stopped")
			return
		case <-ticker.C:
			stats, err := w.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("expiry_sweep_failed", "err", err, "scanned", stats.Scanned)
				continue
			}
			if stats.Refreshed > 0 || stats.Failed > 0 {
				w.logger.Info("expiry_sweep_done", "scanned", stats.Scanned, "refreshed", stats.Refreshed, "failed", stats.Failed)
			}
		}
	}
}

// SweepOnce 는 모든 계정을 페이지 단위로 한 번 순회한다.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var (
		stats  SweepStats
		cursor string
	)
	store := w.service.Store()
	for {
		ids, err := store.ListIDs(ctx, cursor, w.batchSize)
		if err != nil {
			return stats, err
		}
		if len(ids) == 0 {
			return stats, nil
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Scanned++
			refreshed, err := w.service.RefreshIfStale(ctx, id)
			switch {
			case errors.Is(err, account.ErrAccountNotFound):
			case err != nil:
				stats.Failed++
				w.logger.Warn("expiry_sweep_account_failed", "account_id", id, "err", err)
			case refreshed:
				stats.Refreshed++
			}
		}

		if len(ids) < w.batchSize {
			return stats, nil
		}
		cursor = ids[len(ids)-1]
	}
}
