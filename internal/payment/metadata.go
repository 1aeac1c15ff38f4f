package payment

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// 세션 메타데이터 키
const (
	metadataAccountID   = "account_id"
	metadataPlanID      = "plan_id"
	metadataTokenAmount = "token_amount"
)

// sessionMetadata 는 체크아웃 생성 시 기록한 메타데이터다.
type sessionMetadata struct {
	AccountID   string `mapstructure:"account_id"`
	PlanID      string `mapstructure:"plan_id"`
	TokenAmount int64  `mapstructure:"token_amount"`
}

func (m sessionMetadata) toMap() map[string]string {
	return map[string]string{
		metadataAccountID:   m.AccountID,
		metadataPlanID:      m.PlanID,
		metadataTokenAmount: strconv.FormatInt(m.TokenAmount, 10),
	}
}

// decodeMetadata 는 문자열 맵 메타데이터를 구조체로 해석한다.
func decodeMetadata(raw map[string]string) (sessionMetadata, error) {
	var meta sessionMetadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return sessionMetadata{}, fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return sessionMetadata{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if meta.AccountID == "" || meta.PlanID == "" {
		return sessionMetadata{}, fmt.Errorf("%w: account_id and plan_id are required", ErrInvalidMetadata)
	}
	return meta, nil
}
