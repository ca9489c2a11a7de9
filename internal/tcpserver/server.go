// Package tcpserver accepts protocol connections and hands each one to a session.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cardledger/cards/internal/session"
	"go.uber.org/zap"
)

// ErrInvalidServerConfig is returned by New for missing dependencies.
var ErrInvalidServerConfig = errors.New("invalid server config")

// SessionHandler serves one connection to completion.
type SessionHandler interface {
	Serve(ctx context.Context, conn net.Conn) (session.Outcome, error)
}

// Option configures a Server.
type Option func(*Server)

// WithConcurrentSessions serves each connection on its own goroutine instead of one at a time.
func WithConcurrentSessions(enabled bool) Option {
	return func(server *Server) {
		server.concurrent = enabled
	}
}

// Server is the accept loop.
type Server struct {
	sessions   SessionHandler
	logger     *zap.Logger
	concurrent bool
}

// New wires a Server.
func New(sessions SessionHandler, logger *zap.Logger, options ...Option) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("%w: session handler is nil", ErrInvalidServerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{sessions: sessions, logger: logger}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	return server, nil
}

// Serve accepts connections until a session requests SHUTDOWN or ctx is cancelled,
// then waits for in-flight sessions and returns. Serve closes listener.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	var (
		closeOnce    sync.Once
		shuttingDown atomic.Bool
		sessions     sync.WaitGroup
	)
	closeListener := func() {
		closeOnce.Do(func() { _ = listener.Close() })
	}
	defer closeListener()
	stopWatch := context.AfterFunc(ctx, closeListener)
	defer stopWatch()

	server.logger.Info("accepting sessions",
		zap.String("listen_addr", listener.Addr().String()),
		zap.Bool("concurrent", server.concurrent),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			sessions.Wait()
			if shuttingDown.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				server.logger.Info("accept loop stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !server.concurrent {
			if server.handle(ctx, conn) {
				shuttingDown.Store(true)
				closeListener()
			}
			continue
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			if server.handle(ctx, conn) {
				shuttingDown.Store(true)
				closeListener()
			}
		}()
	}
}

// handle serves conn and reports whether the peer requested SHUTDOWN.
func (server *Server) handle(ctx context.Context, conn net.Conn) bool {
	peer := conn.RemoteAddr().String()
	server.logger.Info("client connected", zap.String("peer", peer))
	defer func() {
		_ = conn.Close()
	}()

	outcome, err := server.sessions.Serve(ctx, conn)
	fields := []zap.Field{zap.String("peer", peer), zap.Stringer("outcome", outcome)}
	if err != nil {
		server.logger.Warn("client disconnected", append(fields, zap.Error(err))...)
	} else {
		server.logger.Info("client disconnected", fields...)
	}
	return outcome == session.OutcomeShutdown
}
