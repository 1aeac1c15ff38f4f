package di

import (
	"fmt"
	"log/slog"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/logging"
)

// ProvideLogger: 로거를 구성해 반환합니다.
// 요청 컨텍스트에 span 이 있으면 로그에 trace_id/span_id 가 추가됩니다.
func ProvideLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
