package database

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
)

func TestOpenWithRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	openFn := func(ctx context.Context) (*gorm.DB, *sql.DB, error) {
		attempts++
		if attempts < 3 {
			return nil, nil, errors.New("connection refused")
		}
		return &gorm.DB{}, nil, nil
	}

	db, _, err := OpenWithRetry(context.Background(), openFn, RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db == nil || attempts != 3 {
		t.Fatalf("expected success on third attempt, got attempts=%d", attempts)
	}
}

func TestOpenWithRetryGivesUp(t *testing.T) {
	want := errors.New("boom")
	_, _, err := OpenWithRetry(context.Background(), func(context.Context) (*gorm.DB, *sql.DB, error) {
		return nil, nil, want
	}, RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestOpenWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := OpenWithRetry(ctx, func(context.Context) (*gorm.DB, *sql.DB, error) {
		return nil, nil, errors.New("down")
	}, RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	}}
	db, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if db.Driver() != config.DriverSQLite {
		t.Fatalf("unexpected driver: %s", db.Driver())
	}
}

func TestShouldFallbackToLocalhost(t *testing.T) {
	dnsErr := &net.DNSError{Name: "postgres", Err: "no such host"}
	if !shouldFallbackToLocalhost(dnsErr, "postgres") {
		t.Fatalf("expected fallback for unresolved postgres host")
	}
	if shouldFallbackToLocalhost(dnsErr, "db.internal") {
		t.Fatalf("fallback only applies to the compose service name")
	}
	if shouldFallbackToLocalhost(nil, "postgres") {
		t.Fatalf("no fallback without error")
	}
}
