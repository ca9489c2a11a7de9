package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/cardledger/cards/internal/grpcserver"
	"github.com/cardledger/cards/internal/protocol"
	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newAdminCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Account administration over the admin gRPC service",
	}
	cmd.AddCommand(
		newCreateAccountCommand(cfg),
		newAccountCommand(cfg),
		newInventoryCommand(cfg),
		newTradesCommand(cfg),
		newHealthCommand(cfg),
	)
	return cmd
}

func newCreateAccountCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			rawBalance, _ := flags.GetString(flagBalance)
			balance, err := decimal.NewFromString(rawBalance)
			if err != nil {
				return fmt.Errorf("%s: %w", flagBalance, err)
			}
			input := cards.AccountInput{Balance: balance}
			input.FirstName, _ = flags.GetString(flagFirstName)
			input.LastName, _ = flags.GetString(flagLastName)
			input.UserName, _ = flags.GetString(flagUserName)
			input.Password, _ = flags.GetString(flagPassword)
			input.IsRoot, _ = flags.GetBool(flagRoot)

			return withAdminClient(cmd.Context(), cfg, func(ctx context.Context, adminClient *grpcserver.Client) error {
				account, err := adminClient.CreateAccount(ctx, input)
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), account)
				return nil
			})
		},
	}
	cmd.Flags().String(flagUserName, "", "user name (required)")
	cmd.Flags().String(flagFirstName, "", "first name")
	cmd.Flags().String(flagLastName, "", "last name")
	cmd.Flags().String(flagPassword, "", "password (stored, not used for authentication)")
	cmd.Flags().String(flagBalance, "0", "opening cash balance")
	cmd.Flags().Bool(flagRoot, false, "mark the account as root")
	_ = cmd.MarkFlagRequired(flagUserName)
	return cmd
}

func newAccountCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "account ACCOUNT_ID",
		Short: "Show an account and its balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withAdminClient(cmd.Context(), cfg, func(ctx context.Context, adminClient *grpcserver.Client) error {
				account, err := adminClient.GetAccount(ctx, owner)
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), account)
				return nil
			})
		},
	}
}

func newInventoryCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory ACCOUNT_ID",
		Short: "List an account's card rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withAdminClient(cmd.Context(), cfg, func(ctx context.Context, adminClient *grpcserver.Client) error {
				variants, err := adminClient.ListInventory(ctx, owner)
				if err != nil {
					return err
				}
				for _, line := range protocol.RenderList(owner, variants).Body {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
}

func newTradesCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades ACCOUNT_ID",
		Short: "Show the newest trade journal entries of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt(flagLimit)
			return withAdminClient(cmd.Context(), cfg, func(ctx context.Context, adminClient *grpcserver.Client) error {
				trades, err := adminClient.ListTrades(ctx, owner, limit)
				if err != nil {
					return err
				}
				output := cmd.OutOrStdout()
				for _, trade := range trades {
					fmt.Fprintf(output, "%s %-4s %-12s qty=%d price=%s total=%s balance=%s at=%d\n",
						trade.TradeID,
						trade.Kind,
						trade.Card.Name,
						trade.Quantity,
						trade.UnitPrice.StringFixed(2),
						trade.Total.StringFixed(2),
						trade.BalanceAfter.StringFixed(2),
						trade.CreatedUnixUTC,
					)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int(flagLimit, 0, "maximum entries (0 uses the server default)")
	return cmd
}

func newHealthCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the admin service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminClient(cmd.Context(), cfg, func(ctx context.Context, adminClient *grpcserver.Client) error {
				servingStatus, err := adminClient.Health(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), servingStatus.String())
				return nil
			})
		},
	}
}

func withAdminClient(ctx context.Context, cfg *cliConfig, call func(ctx context.Context, adminClient *grpcserver.Client) error) error {
	if cfg.AdminAddr == "" {
		return fmt.Errorf("%s is required", flagAdminAddr)
	}
	conn, err := grpc.NewClient(cfg.AdminAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("admin client init: %w", err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return call(callCtx, grpcserver.NewClient(conn))
}

func parseAccountID(raw string) (cards.AccountID, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid account id %q", raw)
	}
	return cards.AccountID(value), nil
}

func printAccount(output io.Writer, account cards.Account) {
	fmt.Fprintf(output, "id=%d user=%s name=%q balance=%s root=%t\n",
		account.ID.Int64(),
		account.UserName,
		protocol.DisplayName(account),
		account.Balance.StringFixed(2),
		account.IsRoot,
	)
}
