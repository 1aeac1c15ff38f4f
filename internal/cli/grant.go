package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/di"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
)

func newGrantCmd(open Opener) *cobra.Command {
	var (
		batchType string
		tokens    int64
		days      int
		reference string
	)

	cmd := &cobra.Command{
		Use:   "grant <account-id>",
		Short: "Add a credit batch to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := ledger.BatchSpec{
				Type:            ledger.BatchType(batchType),
				Tokens:          tokens,
				ExpiresIn:       ledger.Days(days),
				SourceReference: reference,
			}
			if !spec.Type.Valid() {
				return fmt.Errorf("unknown batch type %q", batchType)
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive: %d", days)
			}

			return withLedger(cmd, open, func(l *di.Ledger) error {
				result, err := l.Service.Grant(cmd.Context(), args[0], spec)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "granted batch %s (%s, %d tokens); active_tokens=%d\n",
					result.Batch.ID, result.Batch.Type, result.Batch.AmountTokens, result.Balance)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&batchType, "type", string(ledger.BatchTypeAdminGrant), "batch type (monthly_free, paid_basic, paid_premium, admin_grant)")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "token amount")
	cmd.Flags().IntVar(&days, "days", 30, "days until the batch expires")
	cmd.Flags().StringVar(&reference, "ref", "", "source reference recorded on the batch")
	_ = cmd.MarkFlagRequired("tokens")
	return cmd
}

func newGrantFreeTierCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-free-tier <account-id>",
		Short: "Grant the free tier batch once per account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, open, func(l *di.Ledger) error {
				result, err := l.Service.GrantFreeTier(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !result.Granted {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "free tier already granted; active_tokens=%d\n", result.Balance)
					return nil
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "free tier granted: %d tokens; active_tokens=%d\n", result.Batch.AmountTokens, result.Balance)
				return nil
			})
		},
	}
}
