package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/di"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/ledger"
)

// balanceView 는 balance 명령의 JSON 출력 형태다.
type balanceView struct {
	AccountID      string               `json:"account_id"`
	ActiveTokens   int64                `json:"active_tokens"`
	DisplayCredits float64              `json:"display_credits"`
	Version        int64                `json:"version"`
	Batches        []ledger.CreditBatch `json:"batches"`
}

func newCreateAccountCmd(open Opener) *cobra.Command {
	var freeTier bool

	cmd := &cobra.Command{
		Use:   "create-account <account-id>",
		Short: "Create an empty ledger account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, open, func(l *di.Ledger) error {
				acc, err := l.Service.CreateAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created account %s\n", acc.ID)

				if !freeTier {
					return nil
				}
				result, err := l.Service.GrantFreeTier(cmd.Context(), acc.ID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "free tier granted; active_tokens=%d\n", result.Balance)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&freeTier, "free-tier", false, "grant the free tier batch after creation")
	return cmd
}

func newBalanceCmd(open Opener) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show the active balance and batches of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, open, func(l *di.Ledger) error {
				acc, err := l.Service.Account(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				active := ledger.ActiveBalance(acc.Batches, time.Now())
				view := balanceView{
					AccountID:      acc.ID,
					ActiveTokens:   active,
					DisplayCredits: l.Service.DisplayCredits(active),
					Version:        acc.Version,
					Batches:        acc.Batches,
				}

				if asJSON {
					payload, err := json.MarshalIndent(view, "", "  ")
					if err != nil {
						return fmt.Errorf("encode balance: %w", err)
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
					return nil
				}

				return printBalance(cmd, view)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print balance as JSON")
	return cmd
}

func printBalance(cmd *cobra.Command, view balanceView) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "account: %s\n", view.AccountID)
	_, _ = fmt.Fprintf(out, "active_tokens: %d\n", view.ActiveTokens)
	_, _ = fmt.Fprintf(out, "display_credits: %.2f\n", view.DisplayCredits)
	if len(view.Batches) == 0 {
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tREMAINING\tAMOUNT\tSTATE\tEXPIRES")
	for _, b := range view.Batches {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			b.ID, b.Type, b.RemainingTokens, b.AmountTokens, b.State(now), b.ExpiresAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write batches: %w", err)
	}
	return nil
}

func newRecalcCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "recalc <account-id>",
		Short: "Expire stale batches and persist the recalculated balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, open, func(l *di.Ledger) error {
				acc, err := l.Service.RecalculateAndPersist(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recalculated %s: active_tokens=%d version=%d\n", acc.ID, acc.ActiveBalance, acc.Version)
				return nil
			})
		},
	}
}
