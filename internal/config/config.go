// Package config loads cardsd runtime settings from flags and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cardledger/cards/internal/logging"
	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	FlagDatabaseURL        = "database-url"
	FlagStoreDriver        = "store-driver"
	FlagListenAddr         = "listen-addr"
	FlagInitialBalance     = "initial-balance"
	FlagConcurrentSessions = "concurrent-sessions"
	FlagIdleTimeout        = "idle-timeout"
	FlagAdminGRPCAddr      = "admin-grpc-addr"
	FlagHTTPAddr           = "http-addr"
	FlagHTTPAllowedOrigins = "http-allowed-origins"
	FlagLogFormat          = "log-format"
	EnvPrefix              = "CARDSD"

	StoreDriverGORM = "gorm"
	StoreDriverPGX  = "pgx"

	DefaultDatabaseURL = "sqlite://pokemon_store.db"
	DefaultListenAddr  = "127.0.0.1:2780"
	DefaultIdleTimeout = 5 * time.Minute
)

// Config aggregates runtime settings for cardsd.
type Config struct {
	DatabaseURL        string
	StoreDriver        string
	ListenAddr         string
	InitialBalance     decimal.Decimal
	ConcurrentSessions bool
	IdleTimeout        time.Duration
	AdminGRPCAddr      string
	HTTPAddr           string
	HTTPAllowedOrigins []string
	LogFormat          string
}

// RegisterFlags declares every cardsd flag on cmd.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String(FlagDatabaseURL, DefaultDatabaseURL, "database URL: sqlite path or sqlite://, postgres://, mysql://")
	flags.String(FlagStoreDriver, StoreDriverGORM, "store implementation: gorm or pgx (pgx requires a postgres URL)")
	flags.String(FlagListenAddr, DefaultListenAddr, "protocol listen address")
	flags.String(FlagInitialBalance, cards.DefaultInitialBalance, "cash balance of the seed account created in an empty store")
	flags.Bool(FlagConcurrentSessions, false, "serve sessions concurrently instead of one at a time")
	flags.Duration(FlagIdleTimeout, 0, "end sessions idle for this long (default 5m with --concurrent-sessions, otherwise disabled)")
	flags.String(FlagAdminGRPCAddr, "", "admin gRPC listen address (empty disables)")
	flags.String(FlagHTTPAddr, "", "read-only HTTP listen address (empty disables)")
	flags.String(FlagHTTPAllowedOrigins, "", "comma-separated list of allowed CORS origins for the HTTP views")
	flags.String(FlagLogFormat, logging.FormatJSON, "log format: json or console")
}

// Load reads cmd's flags with CARDSD_* environment overrides and validates the result.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{
		FlagDatabaseURL, FlagStoreDriver, FlagListenAddr, FlagInitialBalance, FlagConcurrentSessions,
		FlagIdleTimeout, FlagAdminGRPCAddr, FlagHTTPAddr, FlagHTTPAllowedOrigins, FlagLogFormat,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return Config{}, err
		}
	}

	initialBalance, err := decimal.NewFromString(strings.TrimSpace(v.GetString(FlagInitialBalance)))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", FlagInitialBalance, err)
	}
	cfg := Config{
		DatabaseURL:        strings.TrimSpace(v.GetString(FlagDatabaseURL)),
		StoreDriver:        strings.ToLower(strings.TrimSpace(v.GetString(FlagStoreDriver))),
		ListenAddr:         strings.TrimSpace(v.GetString(FlagListenAddr)),
		InitialBalance:     initialBalance,
		ConcurrentSessions: v.GetBool(FlagConcurrentSessions),
		IdleTimeout:        v.GetDuration(FlagIdleTimeout),
		AdminGRPCAddr:      strings.TrimSpace(v.GetString(FlagAdminGRPCAddr)),
		HTTPAddr:           strings.TrimSpace(v.GetString(FlagHTTPAddr)),
		HTTPAllowedOrigins: ParseAllowedOrigins(v.GetString(FlagHTTPAllowedOrigins)),
		LogFormat:          strings.TrimSpace(v.GetString(FlagLogFormat)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills defaults and rejects invalid combinations.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, DefaultDatabaseURL)
	cfg.StoreDriver = defaultIfEmpty(cfg.StoreDriver, StoreDriverGORM)
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, DefaultListenAddr)
	cfg.LogFormat = defaultIfEmpty(cfg.LogFormat, logging.FormatJSON)
	if cfg.ConcurrentSessions && cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	switch cfg.StoreDriver {
	case StoreDriverGORM:
	case StoreDriverPGX:
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return fmt.Errorf("%s=%s requires a postgres database url", FlagStoreDriver, StoreDriverPGX)
		}
	default:
		return fmt.Errorf("unsupported %s %q", FlagStoreDriver, cfg.StoreDriver)
	}
	if cfg.InitialBalance.IsNegative() {
		return fmt.Errorf("%s must not be negative", FlagInitialBalance)
	}
	if cfg.IdleTimeout < 0 {
		return fmt.Errorf("%s must not be negative", FlagIdleTimeout)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("unsupported %s %q", FlagLogFormat, cfg.LogFormat)
	}
	if cfg.HTTPAddr != "" && cfg.HTTPAddr == cfg.ListenAddr {
		return fmt.Errorf("%s and %s must differ", FlagHTTPAddr, FlagListenAddr)
	}
	if cfg.AdminGRPCAddr != "" && (cfg.AdminGRPCAddr == cfg.ListenAddr || cfg.AdminGRPCAddr == cfg.HTTPAddr) {
		return fmt.Errorf("%s must differ from the other listen addresses", FlagAdminGRPCAddr)
	}
	return nil
}

// SeedAccount describes the account created when the store is empty.
func (cfg Config) SeedAccount() cards.AccountInput {
	return cards.AccountInput{
		UserName: cards.DefaultSeedUserName,
		Balance:  cfg.InitialBalance,
		IsRoot:   true,
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
