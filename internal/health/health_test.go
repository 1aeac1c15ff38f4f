package health

import (
	"context"
	"errors"
	"testing"
)

type stubPinger struct {
	err     error
	backend string
}

func (s stubPinger) Ping(context.Context) error { return s.err }

func (s stubPinger) Backend() string { return s.backend }

func TestCollectShallow(t *testing.T) {
	checker := NewChecker(stubPinger{err: errors.New("down")}, stubPinger{backend: "valkey"}, true)

	resp := checker.Collect(context.Background(), false)
	if resp.Status != StatusOK {
		t.Fatalf("shallow check must not touch dependencies, got %s", resp.Status)
	}
	if _, ok := resp.Components["database"]; ok {
		t.Fatalf("expected no database component in shallow mode")
	}
}

func TestCollectDeep(t *testing.T) {
	cases := []struct {
		name     string
		dbErr    error
		cacheErr error
		want     string
	}{
		{"all ok", nil, nil, StatusOK},
		{"cache down is degraded", nil, errors.New("refused"), StatusDegraded},
		{"database down", errors.New("refused"), nil, StatusDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checker := NewChecker(stubPinger{err: tc.dbErr}, stubPinger{err: tc.cacheErr, backend: "valkey"}, true)
			resp := checker.Collect(context.Background(), true)
			if resp.Status != tc.want {
				t.Fatalf("expected %s, got %s (%+v)", tc.want, resp.Status, resp.Components)
			}
		})
	}
}

func TestPaymentDisabledIsNotDegraded(t *testing.T) {
	checker := NewChecker(stubPinger{}, stubPinger{backend: "memory"}, false)
	resp := checker.Collect(context.Background(), true)
	if resp.Status != StatusOK {
		t.Fatalf("expected ok, got %s", resp.Status)
	}
	if resp.Components["payment_provider"].Status != StatusDisabled {
		t.Fatalf("expected disabled payment provider, got %+v", resp.Components["payment_provider"])
	}
}
