// Package cli 는 운영자가 원장을 직접 조회하고 지급하는 ledgerctl 명령을 제공한다.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/di"
)

// Opener 는 명령 실행 시점에 원장 구성 요소를 연다.
type Opener func(ctx context.Context) (*di.Ledger, error)

// Execute 는 환경 변수 설정으로 루트 명령을 실행한다.
func Execute() error {
	return NewRootCmd(openFromEnv).Execute()
}

func openFromEnv(_ context.Context) (*di.Ledger, error) {
	cfg, err := config.ProvideConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return di.InitializeLedger(cfg)
}

// NewRootCmd 는 하위 명령을 묶은 루트 명령을 만든다.
func NewRootCmd(open Opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and adjust credit ledger accounts",
		Long:          "ledgerctl operates on the credit ledger database directly: create accounts, grant batches, and recalculate balances.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newCreateAccountCmd(open),
		newBalanceCmd(open),
		newGrantCmd(open),
		newGrantFreeTierCmd(open),
		newRecalcCmd(open),
	)

	return rootCmd
}

// withLedger 는 원장을 열어 fn 을 실행한 뒤 항상 닫는다.
func withLedger(cmd *cobra.Command, open Opener, fn func(*di.Ledger) error) error {
	ledgerApp, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer ledgerApp.Close()
	return fn(ledgerApp)
}
