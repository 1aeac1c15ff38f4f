package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
)

func TestDefaultCatalog(t *testing.T) {
	catalog, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	basic, err := catalog.Lookup("basic")
	if err != nil {
		t.Fatalf("lookup basic: %v", err)
	}
	if basic.TokenAmount != 10_000_000 || basic.ExpiryDays != 30 || basic.PriceCents != 999 {
		t.Fatalf("unexpected basic plan: %+v", basic)
	}
	if basic.BatchType != ledger.BatchTypePaidBasic {
		t.Fatalf("unexpected batch type: %s", basic.BatchType)
	}

	premium, err := catalog.Lookup("premium")
	if err != nil {
		t.Fatalf("lookup premium: %v", err)
	}
	if premium.TokenAmount != 20_000_000 || premium.ExpiryDays != 90 {
		t.Fatalf("unexpected premium plan: %+v", premium)
	}

	if _, err := catalog.Lookup("enterprise"); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
	if len(catalog.All()) != 2 {
		t.Fatalf("expected 2 plans")
	}
}

func TestParseRejectsInvalidCatalog(t *testing.T) {
	tests := map[string]string{
		"empty": "plans: []",
		"duplicate": `
plans:
  - {id: a, display_name: A, price_cents: 1, token_amount: 1, expiry_days: 1, batch_type: paid_basic}
  - {id: a, display_name: B, price_cents: 1, token_amount: 1, expiry_days: 1, batch_type: paid_basic}
`,
		"zero tokens": `
plans:
  - {id: a, display_name: A, price_cents: 1, token_amount: 0, expiry_days: 1, batch_type: paid_basic}
`,
		"free type": `
plans:
  - {id: a, display_name: A, price_cents: 1, token_amount: 1, expiry_days: 1, batch_type: monthly_free}
`,
		"bad yaml": "plans: [",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); !errors.Is(err, ErrInvalidCatalog) {
				t.Fatalf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}
}

func TestProvideCatalogFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	data := []byte(`
plans:
  - {id: starter, display_name: Starter, price_cents: 499, token_amount: 1000, expiry_days: 7, batch_type: paid_basic}
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := ProvideCatalog(&config.Config{Payment: config.PaymentConfig{PlanCatalogPath: path}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	starter, err := catalog.Lookup("starter")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	spec := starter.BatchSpec("cs_1")
	if spec.Tokens != 1000 || spec.ExpiresIn != ledger.Days(7) || spec.SourceReference != "cs_1" {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}
