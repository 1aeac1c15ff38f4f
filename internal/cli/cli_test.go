package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/di"
)

func testOpener(t *testing.T) Opener {
	t.Helper()
	cfg := &config.Config{
		Logging: config.LoggingConfig{Level: "error"},
		Database: config.DatabaseConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
		},
		BalanceCache: config.BalanceCacheConfig{TTLSeconds: 300, MemorySize: 100},
		Billing: config.BillingConfig{
			FreeTierTokens:       700000,
			FreeTierExpiryDays:   30,
			TokensPerCredit:      70000,
			WriteMaxAttempts:     3,
			WriteRetryBaseMillis: 1,
		},
	}
	return func(context.Context) (*di.Ledger, error) {
		return di.InitializeLedger(cfg)
	}
}

func executeCLI(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(open)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestCreateAccountThenBalance(t *testing.T) {
	open := testOpener(t)

	out, err := executeCLI(t, open, "create-account", "acc-1")
	if err != nil {
		t.Fatalf("create-account: %v", err)
	}
	if !strings.Contains(out, "created account acc-1") {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = executeCLI(t, open, "balance", "acc-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !strings.Contains(out, "active_tokens: 0") || !strings.Contains(out, "display_credits: 0.00") {
		t.Fatalf("unexpected balance output: %q", out)
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	open := testOpener(t)

	if _, err := executeCLI(t, open, "create-account", "acc-1"); err != nil {
		t.Fatalf("create-account: %v", err)
	}
	_, err := executeCLI(t, open, "create-account", "acc-1")
	if !errors.Is(err, account.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestGrantFreeTierOnce(t *testing.T) {
	open := testOpener(t)

	out, err := executeCLI(t, open, "create-account", "acc-1", "--free-tier")
	if err != nil {
		t.Fatalf("create-account: %v", err)
	}
	if !strings.Contains(out, "free tier granted; active_tokens=700000") {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = executeCLI(t, open, "grant-free-tier", "acc-1")
	if err != nil {
		t.Fatalf("grant-free-tier: %v", err)
	}
	if !strings.Contains(out, "already granted; active_tokens=700000") {
		t.Fatalf("expected idempotent grant, got %q", out)
	}
}

func TestGrantThenBalanceJSON(t *testing.T) {
	open := testOpener(t)

	if _, err := executeCLI(t, open, "create-account", "acc-1"); err != nil {
		t.Fatalf("create-account: %v", err)
	}
	out, err := executeCLI(t, open, "grant", "acc-1", "--type", "paid_basic", "--tokens", "140000", "--days", "60", "--ref", "manual-1")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !strings.Contains(out, "paid_basic, 140000 tokens") {
		t.Fatalf("unexpected grant output: %q", out)
	}

	out, err = executeCLI(t, open, "balance", "acc-1", "--json")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	var view balanceView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode balance: %v (%q)", err, out)
	}
	if view.ActiveTokens != 140000 || view.DisplayCredits != 2 {
		t.Fatalf("unexpected balance: %+v", view)
	}
	if len(view.Batches) != 1 || view.Batches[0].SourceReference != "manual-1" {
		t.Fatalf("unexpected batches: %+v", view.Batches)
	}
}

func TestGrantValidation(t *testing.T) {
	open := testOpener(t)

	_, err := executeCLI(t, open, "grant", "acc-1", "--type", "bogus", "--tokens", "10")
	if err == nil || !strings.Contains(err.Error(), "unknown batch type") {
		t.Fatalf("expected batch type error, got %v", err)
	}

	_, err = executeCLI(t, open, "grant", "acc-1")
	if err == nil || !strings.Contains(err.Error(), `required flag(s) "tokens" not set`) {
		t.Fatalf("expected required flag error, got %v", err)
	}
}

func TestBalanceUnknownAccount(t *testing.T) {
	_, err := executeCLI(t, testOpener(t), "balance", "missing")
	if !errors.Is(err, account.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRecalc(t *testing.T) {
	open := testOpener(t)

	if _, err := executeCLI(t, open, "create-account", "acc-1", "--free-tier"); err != nil {
		t.Fatalf("create-account: %v", err)
	}
	out, err := executeCLI(t, open, "recalc", "acc-1")
	if err != nil {
		t.Fatalf("recalc: %v", err)
	}
	if !strings.Contains(out, "recalculated acc-1: active_tokens=700000") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestOpenerError(t *testing.T) {
	boom := errors.New("boom")
	_, err := executeCLI(t, func(context.Context) (*di.Ledger, error) { return nil, boom }, "balance", "acc-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected opener error, got %v", err)
	}
}
