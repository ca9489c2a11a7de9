package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cardledger/cards/internal/client"
	"github.com/cardledger/cards/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagAddr         = "addr"
	flagAdminAddr    = "admin-addr"
	flagTimeout      = "timeout"
	flagFirstName    = "first-name"
	flagLastName     = "last-name"
	flagUserName     = "user-name"
	flagPassword     = "password"
	flagBalance      = "balance"
	flagRoot         = "root"
	flagLimit        = "limit"
	envPrefix        = "CARDSCTL"
	defaultAdminAddr = "127.0.0.1:2781"
	defaultTimeout   = 5 * time.Second
)

type cliConfig struct {
	Addr      string
	AdminAddr string
	Timeout   time.Duration
}

func main() {
	rootCmd := newRootCommand(os.Stdin, os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cardsctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(input io.Reader, output io.Writer) *cobra.Command {
	cfg := &cliConfig{}
	cmd := &cobra.Command{
		Use:           "cardsctl",
		Short:         "Client and admin tool for cardsd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}
	cmd.SetOut(output)
	cmd.SetIn(input)

	cmd.PersistentFlags().String(flagAddr, config.DefaultListenAddr, "cardsd protocol address")
	cmd.PersistentFlags().String(flagAdminAddr, defaultAdminAddr, "cardsd admin gRPC address")
	cmd.PersistentFlags().Duration(flagTimeout, defaultTimeout, "dial and RPC timeout")

	cmd.AddCommand(newREPLCommand(cfg), newSendCommand(cfg), newAdminCommand(cfg))
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *cliConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagAddr, flagAdminAddr, flagTimeout} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.Addr = strings.TrimSpace(v.GetString(flagAddr))
	cfg.AdminAddr = strings.TrimSpace(v.GetString(flagAdminAddr))
	cfg.Timeout = v.GetDuration(flagTimeout)
	if cfg.Addr == "" {
		return fmt.Errorf("%s is required", flagAddr)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", flagTimeout)
	}
	return nil
}

func newREPLCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session with the protocol server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lineClient, err := dial(ctx, cfg)
			if err != nil {
				return err
			}
			defer lineClient.Close()

			output := cmd.OutOrStdout()
			fmt.Fprintf(output, "Connected to %s. Type commands (BUY/SELL/LIST/BALANCE/QUIT/SHUTDOWN).\n", cfg.Addr)
			return client.RunREPL(ctx, lineClient, cmd.InOrStdin(), output)
		},
	}
}

func newSendCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "send COMMAND [ARGS...]",
		Short: "Send one command and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineClient, err := dial(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer lineClient.Close()

			reply, err := lineClient.Send(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.String())
			if !reply.OK() {
				return fmt.Errorf("server replied %q", reply.Status)
			}
			return nil
		},
	}
}

func dial(ctx context.Context, cfg *cliConfig) (*client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return client.Dial(dialCtx, cfg.Addr, client.WithReplyTimeout(cfg.Timeout))
}
