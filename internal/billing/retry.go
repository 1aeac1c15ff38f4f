package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/telemetry"
)

// errNoChange 는 변경할 내용이 없어 저장을 건너뛸 때 mutator 가 반환한다.
var errNoChange = errors.New("no change")

type mutator func(acc *ledger.Account, now time.Time) error

// mutate 는 load → fn → 재계산 → 조건부 저장 주기를 버전 충돌 시 재시도한다.
// fn 이 errNoChange 를 반환하면 저장 없이 읽은 계정과 errNoChange 를 돌려준다.
func (s *Service) mutate(ctx context.Context, accountID string, fn mutator) (_ *ledger.Account, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "billing.mutate")
	var (
		result   *ledger.Account
		attempts int
	)
	defer func() {
		span.SetAttributes(attribute.String("account_id", accountID), attribute.Int("attempts", attempts))
		if err != nil && !errors.Is(err, errNoChange) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	operation := func() error {
		attempts++
		acc, err := s.store.Load(ctx, accountID)
		if err != nil {
			return backoff.Permanent(err)
		}

		now := s.now()
		if err := fn(acc, now); err != nil {
			if errors.Is(err, errNoChange) {
				result = acc
			}
			return backoff.Permanent(err)
		}

		acc.Recalculate(now)
		if err := s.store.Save(ctx, acc); err != nil {
			if errors.Is(err, account.ErrVersionConflict) {
				s.metrics.WriteConflict()
				return err
			}
			return backoff.Permanent(err)
		}
		result = acc
		return nil
	}

	err = backoff.RetryNotify(operation, s.retryPolicy(ctx), func(err error, wait time.Duration) {
		s.logger.Debug("billing_write_retry", "account_id", accountID, "attempt", attempts, "wait", wait, "err", err)
	})
	if err != nil {
		if errors.Is(err, errNoChange) {
			return result, errNoChange
		}
		if errors.Is(err, account.ErrVersionConflict) {
			s.metrics.WriteRetriesExhausted()
			s.logger.Warn("billing_write_conflict_exhausted", "account_id", accountID, "attempts", attempts)
			return nil, fmt.Errorf("%w: %w", ErrWriteConflict, err)
		}
		return nil, err
	}

	s.invalidate(ctx, accountID)
	return result, nil
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.WriteRetryBase
	policy.MaxInterval = 16 * s.opts.WriteRetryBase
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.WriteMaxAttempts-1)), ctx)
}
