package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cardledger/cards/internal/config"
	"github.com/cardledger/cards/internal/grpcserver"
	"github.com/cardledger/cards/internal/httpapi"
	"github.com/cardledger/cards/internal/logging"
	"github.com/cardledger/cards/internal/session"
	"github.com/cardledger/cards/internal/store/gormstore"
	"github.com/cardledger/cards/internal/store/pgstore"
	"github.com/cardledger/cards/internal/tcpserver"
	"github.com/cardledger/cards/pkg/cards"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// ledgerStore is a cards.Store that owns its connection pool.
type ledgerStore interface {
	cards.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cardsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:           "cardsd",
		Short:         "Card trading ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cmd)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("store initialization failed", zap.String("store_driver", cfg.StoreDriver), zap.Error(err))
		return fmt.Errorf("store init: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("store close failed", zap.Error(closeErr))
		}
	}()

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := cards.NewService(store, clock, cards.WithOperationLogger(logging.NewOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("cards service init: %w", err)
	}
	dispatcher, err := session.NewDispatcher(service, logger, session.WithIdleTimeout(cfg.IdleTimeout))
	if err != nil {
		return fmt.Errorf("dispatcher init: %w", err)
	}
	protocolServer, err := tcpserver.New(dispatcher, logger, tcpserver.WithConcurrentSessions(cfg.ConcurrentSessions))
	if err != nil {
		return fmt.Errorf("protocol server init: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var auxiliaries sync.WaitGroup
	auxErrCh := make(chan error, 2)
	if cfg.AdminGRPCAddr != "" {
		adminListener, err := net.Listen("tcp", cfg.AdminGRPCAddr)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("admin listen: %w", err)
		}
		auxiliaries.Add(1)
		go func() {
			defer auxiliaries.Done()
			if serveErr := serveAdmin(runCtx, adminListener, service, logger); serveErr != nil {
				auxErrCh <- fmt.Errorf("admin gRPC: %w", serveErr)
			}
		}()
	}
	if cfg.HTTPAddr != "" {
		httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			cancel()
			auxiliaries.Wait()
			_ = listener.Close()
			return fmt.Errorf("http listen: %w", err)
		}
		router := httpapi.NewRouter(httpapi.Config{AllowedOrigins: cfg.HTTPAllowedOrigins}, service, store, logger)
		auxiliaries.Add(1)
		go func() {
			defer auxiliaries.Done()
			if serveErr := httpapi.Serve(runCtx, httpListener, router, logger); serveErr != nil {
				auxErrCh <- fmt.Errorf("http views: %w", serveErr)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- protocolServer.Serve(runCtx, listener)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		if runErr == nil && ctx.Err() == nil {
			logger.Info("shutdown requested by client")
		}
	case auxErr := <-auxErrCh:
		logger.Error("auxiliary server failed", zap.Error(auxErr))
		cancel()
		runErr = errors.Join(auxErr, <-errCh)
	}
	cancel()
	auxiliaries.Wait()
	logger.Info("cardsd stopped")
	return runErr
}

func openStore(ctx context.Context, cfg config.Config) (ledgerStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPGX:
		return pgstore.Initialize(ctx, cfg.DatabaseURL, cfg.SeedAccount())
	default:
		return gormstore.Initialize(ctx, cfg.DatabaseURL, cfg.SeedAccount())
	}
}

func serveAdmin(ctx context.Context, listener net.Listener, service *cards.Service, logger *zap.Logger) error {
	grpcServer := grpcserver.NewServer(grpcserver.NewAccountAdminService(service, logger), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin gRPC server starting", zap.String("listen_addr", listener.Addr().String()))
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}
