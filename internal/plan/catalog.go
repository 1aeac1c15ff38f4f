package plan

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
)

//go:embed plans.yaml
var defaultFS embed.FS

const defaultCatalogFile = "plans.yaml"

var (
	// ErrUnknownPlan 는 카탈로그에 없는 요금제 ID 오류다.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrInvalidCatalog 는 요금제 카탈로그 검증 실패 오류다.
	ErrInvalidCatalog = errors.New("invalid plan catalog")
)

// Plan: 구매 가능한 요금제 정의입니다.
type Plan struct {
	ID          string           `yaml:"id" json:"plan_id" validate:"required,max=64"`
	DisplayName string           `yaml:"display_name" json:"display_name" validate:"required"`
	PriceCents  int64            `yaml:"price_cents" json:"price_cents" validate:"gt=0"`
	TokenAmount int64            `yaml:"token_amount" json:"token_amount" validate:"gt=0"`
	ExpiryDays  int              `yaml:"expiry_days" json:"expiry_days" validate:"gt=0,lte=3650"`
	BatchType   ledger.BatchType `yaml:"batch_type" json:"batch_type" validate:"required,oneof=paid_basic paid_premium"`
}

// BatchSpec: 결제 세션 ID 를 출처로 하는 배치 생성 요청을 만듭니다.
func (p Plan) BatchSpec(sourceReference string) ledger.BatchSpec {
	return ledger.BatchSpec{
		Type:            p.BatchType,
		Tokens:          p.TokenAmount,
		ExpiresIn:       ledger.Days(p.ExpiryDays),
		SourceReference: sourceReference,
	}
}

type catalogFile struct {
	Plans []Plan `yaml:"plans" validate:"required,min=1,unique=ID,dive"`
}

// Catalog: 시작 시 검증된 요금제 목록입니다.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

// ProvideCatalog: 설정된 경로(없으면 내장 기본값)에서 카탈로그를 로드합니다.
func ProvideCatalog(cfg *config.Config) (*Catalog, error) {
	path := ""
	if cfg != nil {
		path = strings.TrimSpace(cfg.Payment.PlanCatalogPath)
	}
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return Parse(data)
}

// Default: 내장 요금제 카탈로그를 반환합니다.
func Default() (*Catalog, error) {
	data, err := defaultFS.ReadFile(defaultCatalogFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded plan catalog: %w", err)
	}
	return Parse(data)
}

// Parse: YAML 카탈로그를 파싱하고 검증합니다.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalidCatalog, err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	byID := make(map[string]Plan, len(file.Plans))
	for _, p := range file.Plans {
		byID[p.ID] = p
	}
	return &Catalog{plans: file.Plans, byID: byID}, nil
}

// Lookup: ID 로 요금제를 찾습니다.
func (c *Catalog) Lookup(id string) (Plan, error) {
	p, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

// All: 정의 순서대로 요금제 목록을 반환합니다.
func (c *Catalog) All() []Plan {
	return slices.Clone(c.plans)
}
