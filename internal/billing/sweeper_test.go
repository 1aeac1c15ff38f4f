package billing

import (
	"context"
	"testing"
	"time"
)

func TestSweepOnceRefreshesExpiredAccounts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		f.createAccount(t, id)
	}
	f.grant(t, "a", 100, 1)
	f.grant(t, "b", 100, 30)

	f.advance(2 * 24 * time.Hour)

	sweeper := NewSweeper(f.service, time.Minute, 2, nil)
	stats, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Scanned != 3 || stats.Refreshed != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	acc, _ := f.repo.Load(ctx, "a")
	if acc.ActiveBalance != 0 || acc.Batches[0].RemainingTokens != 0 {
		t.Fatalf("expired batch not swept: %+v", acc)
	}

	// 두 번째 스윕은 저장할 것이 없다.
	stats, err = sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if stats.Refreshed != 0 {
		t.Fatalf("second sweep should be a no-op: %+v", stats)
	}
}

func TestSweeperDisabledRunReturns(t *testing.T) {
	f := newFixture(t, Options{})
	sweeper := NewSweeper(f.service, 0, 10, nil)
	if sweeper.Enabled() {
		t.Fatalf("zero interval must disable the sweeper")
	}

	done := make(chan struct{})
	go func() {
		sweeper.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("disabled sweeper should return immediately")
	}
}
