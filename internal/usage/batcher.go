package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
)

const (
	defaultFlushTimeout     = 5 * time.Second
	defaultMaxBufferedCount = 10000
)

// batcher 는 사용량 기록을 모아 주기적으로 DB에 적재한다.
type batcher struct {
	store                    Store
	logger                   *slog.Logger
	metrics                  *metrics.Metrics
	flushInterval            time.Duration
	flushTimeout             time.Duration
	maxPendingRecords        int
	maxBufferedRecords       int
	maxBackoff               time.Duration
	errorLogMaxInterval      time.Duration
	mu                       sync.Mutex
	pending                  []UsageRecord
	wakeup                   chan struct{}
	stopCh                   chan struct{}
	doneCh                   chan struct{}
	stopOnce                 sync.Once
	consecutiveFlushFailures int
	nextFlushAllowedAt       time.Time
	lastErrorLoggedAt        time.Time
	flushSuccessTotal        int
	flushFailureTotal        int
	flushRequeuedTotal       int
	flushDroppedTotal        int
}

// newBatcher 새로운 배치 플러셔 생성
func newBatcher(cfg config.DatabaseConfig, store Store, m *metrics.Metrics, logger *slog.Logger) *batcher {
	interval := time.Duration(cfg.UsageBatchFlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	maxBackoff := time.Duration(cfg.UsageBatchMaxBackoffSeconds) * time.Second
	if maxBackoff <= 0 {
		maxBackoff = interval
	}
	maxPending := cfg.UsageBatchMaxPendingRecords
	if maxPending <= 0 {
		maxPending = 1
	}
	maxBuffered := cfg.UsageBatchMaxBufferedRecords
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBufferedCount
	}
	if maxBuffered < maxPending {
		maxBuffered = maxPending
	}
	flushTimeout := defaultFlushTimeout
	if cfg.UsageBatchFlushTimeoutSeconds > 0 {
		flushTimeout = time.Duration(cfg.UsageBatchFlushTimeoutSeconds) * time.Second
	}
	return &batcher{
		store:               store,
		logger:              logger,
		metrics:             m,
		flushInterval:       interval,
		flushTimeout:        flushTimeout,
		maxPendingRecords:   maxPending,
		maxBufferedRecords:  maxBuffered,
		maxBackoff:          maxBackoff,
		errorLogMaxInterval: time.Duration(cfg.UsageBatchErrorLogMaxIntervalSeconds) * time.Second,
		wakeup:              make(chan struct{}, 1),
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
	}
}

func (b *batcher) start() {
	go b.loop()
}

func (b *batcher) stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

// add 는 기록을 버퍼에 넣는다. 버퍼가 가득 차면 새 기록을 버린다.
func (b *batcher) add(row UsageRecord) {
	b.mu.Lock()
	if len(b.pending) >= b.maxBufferedRecords {
		b.flushDroppedTotal++
		b.mu.Unlock()
		b.metrics.UsageDropped(1)
		return
	}
	b.pending = append(b.pending, row)
	shouldFlush := len(b.pending) >= b.maxPendingRecords
	b.mu.Unlock()

	if shouldFlush {
		b.signal()
	}
}

func (b *batcher) loop() {
	ticker := time.NewTicker(b.flushInterval)
	defer func() {
		ticker.Stop()
		close(b.doneCh)
	}()

	for {
		select {
		case <-ticker.C:
			b.flush(false)
		case <-b.wakeup:
			b.flush(false)
		case <-b.stopCh:
			b.flush(true)
			return
		}
	}
}

func (b *batcher) signal() {
	select {
	case b.wakeup <- struct{}{}:
	default:
	}
}

func (b *batcher) flush(isShutdown bool) {
	if b.shouldSkipFlush(isShutdown) {
		return
	}

	snapshot := b.takeSnapshot()
	if len(snapshot) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	err := b.store.Insert(ctx, snapshot)
	cancel()
	if err != nil {
		b.flushFailureTotal++
		if isShutdown {
			b.flushDroppedTotal += len(snapshot)
			b.metrics.UsageDropped(len(snapshot))
		} else {
			b.requeue(snapshot)
			b.flushRequeuedTotal++
		}
		b.registerFailure(err)
		return
	}

	b.flushSuccessTotal++
	b.resetFailures()
}

func (b *batcher) shouldSkipFlush(isShutdown bool) bool {
	if isShutdown {
		return false
	}
	if b.nextFlushAllowedAt.IsZero() {
		return false
	}
	return time.Now().Before(b.nextFlushAllowedAt)
}

func (b *batcher) takeSnapshot() []UsageRecord {
	b.mu.Lock()
	snapshot := b.pending
	b.pending = nil
	b.mu.Unlock()
	return snapshot
}

// requeue 는 실패한 묶음을 버퍼 앞쪽에 되돌린다. 상한을 넘는 만큼은 버린다.
func (b *batcher) requeue(rows []UsageRecord) {
	b.mu.Lock()
	merged := make([]UsageRecord, 0, len(rows)+len(b.pending))
	merged = append(merged, rows...)
	merged = append(merged, b.pending...)
	dropped := 0
	if len(merged) > b.maxBufferedRecords {
		dropped = len(merged) - b.maxBufferedRecords
		merged = merged[dropped:]
		b.flushDroppedTotal += dropped
	}
	b.pending = merged
	b.mu.Unlock()

	b.metrics.UsageDropped(dropped)
}

func (b *batcher) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *batcher) registerFailure(firstErr error) {
	b.consecutiveFlushFailures++
	backoff := b.computeBackoff()
	b.nextFlushAllowedAt = time.Now().Add(backoff)

	if b.shouldLogFailure() {
		b.lastErrorLoggedAt = time.Now()
		if b.logger != nil {
			b.logger.Warn(
				"usage_db_batch_flush_failed",
				"failures", b.consecutiveFlushFailures,
				"backoff", backoff,
				"pending_records", b.pendingCount(),
				"dropped_total", b.flushDroppedTotal,
				"err", firstErr,
			)
		}
	}
}

func (b *batcher) computeBackoff() time.Duration {
	backoff := b.flushInterval * time.Duration(1<<max(0, b.consecutiveFlushFailures-1))
	if backoff > b.maxBackoff {
		backoff = b.maxBackoff
	}
	if backoff <= 0 {
		backoff = b.flushInterval
	}
	return backoff
}

func (b *batcher) resetFailures() {
	b.consecutiveFlushFailures = 0
	b.nextFlushAllowedAt = time.Time{}
}

func (b *batcher) shouldLogFailure() bool {
	if b.consecutiveFlushFailures <= 0 {
		return false
	}
	if isPowerOfTwo(b.consecutiveFlushFailures) {
		return true
	}
	if b.errorLogMaxInterval <= 0 {
		return false
	}
	return time.Since(b.lastErrorLoggedAt) >= b.errorLogMaxInterval
}

// isPowerOfTwo 2의 거듭제곱인지 확인
func isPowerOfTwo(value int) bool {
	return value > 0 && (value&(value-1)) == 0
}
