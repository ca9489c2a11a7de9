// Package session runs the per-connection command loop.
package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cardledger/cards/internal/protocol"
	"github.com/cardledger/cards/pkg/cards"
	"go.uber.org/zap"
)

const maxLineBytes = 64 * 1024

// errLineTooLong marks a command line longer than maxLineBytes; the rest of it was discarded.
var errLineTooLong = errors.New("line too long")

// Outcome reports why a session ended.
type Outcome int

const (
	// OutcomeClosed means the peer went away or the transport failed.
	OutcomeClosed Outcome = iota
	// OutcomeQuit means the peer sent QUIT.
	OutcomeQuit
	// OutcomeShutdown means the peer sent SHUTDOWN; the acceptor should stop.
	OutcomeShutdown
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeQuit:
		return "quit"
	case OutcomeShutdown:
		return "shutdown"
	default:
		return "closed"
	}
}

// ErrInvalidDispatcherConfig is returned by NewDispatcher for missing dependencies.
var ErrInvalidDispatcherConfig = errors.New("invalid dispatcher config")

// Engine executes trades and read queries against the ledger.
type Engine interface {
	Buy(ctx context.Context, request cards.BuyRequest) (cards.BuyResult, error)
	Sell(ctx context.Context, request cards.SellRequest) (cards.SellResult, error)
	Balance(ctx context.Context, owner cards.AccountID) (cards.Account, error)
	ListInventory(ctx context.Context, owner cards.AccountID) ([]cards.Variant, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIdleTimeout ends a session whose peer sends nothing for timeout. Zero waits forever.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(dispatcher *Dispatcher) {
		dispatcher.idleTimeout = timeout
	}
}

// Dispatcher maps decoded commands to engine calls and renders the replies.
type Dispatcher struct {
	engine      Engine
	logger      *zap.Logger
	idleTimeout time.Duration
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(engine Engine, logger *zap.Logger, options ...Option) (*Dispatcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine dependency is nil", ErrInvalidDispatcherConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := &Dispatcher{engine: engine, logger: logger}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	return dispatcher, nil
}

// Serve reads commands from conn until QUIT, SHUTDOWN, peer EOF or ctx cancellation.
// Parse and engine failures are answered and never end the session. Commands already
// executing finish even when ctx is cancelled. Serve does not close conn.
func (dispatcher *Dispatcher) Serve(ctx context.Context, conn net.Conn) (Outcome, error) {
	peer := conn.RemoteAddr().String()
	logger := dispatcher.logger.With(zap.String("peer", peer))

	stopWatch := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stopWatch()

	reader := bufio.NewReaderSize(conn, maxLineBytes)
	for {
		if ctx.Err() != nil {
			return OutcomeClosed, nil
		}
		if dispatcher.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(dispatcher.idleTimeout)); err != nil {
				return OutcomeClosed, err
			}
			if ctx.Err() != nil {
				return OutcomeClosed, nil
			}
		}
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			logger.Warn("line too long", zap.Int("max_bytes", maxLineBytes))
			if _, err := protocol.FormatError(errLineTooLong.Error()).WriteTo(conn); err != nil {
				return OutcomeClosed, fmt.Errorf("write %s: %w", peer, err)
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return OutcomeClosed, nil
			}
			return OutcomeClosed, fmt.Errorf("read %s: %w", peer, err)
		}
		logger.Info("received", zap.String("line", line))

		response, outcome := dispatcher.execute(context.WithoutCancel(ctx), logger, line)
		if _, err := response.WriteTo(conn); err != nil {
			return OutcomeClosed, fmt.Errorf("write %s: %w", peer, err)
		}
		if outcome != OutcomeClosed {
			return outcome, nil
		}
	}
}

// readLine returns the next line without its "\n" or "\r\n" ending. A final line
// without a newline is returned before io.EOF. A line that does not fit the reader's
// buffer is drained up to its newline and reported as errLineTooLong.
func readLine(reader *bufio.Reader) (string, error) {
	raw, err := reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = reader.ReadSlice('\n')
		}
		if err == nil || errors.Is(err, io.EOF) {
			return "", errLineTooLong
		}
		return "", err
	}
	if err != nil && (len(raw) == 0 || !errors.Is(err, io.EOF)) {
		return "", err
	}
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	return string(raw), nil
}

// execute runs one line. OutcomeClosed means keep reading.
func (dispatcher *Dispatcher) execute(ctx context.Context, logger *zap.Logger, line string) (response protocol.Response, outcome Outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("command panicked", zap.String("line", line), zap.Any("panic", recovered), zap.Stack("stack"))
			response, outcome = protocol.Internal(), OutcomeClosed
		}
	}()

	command, err := protocol.Parse(line)
	if err != nil {
		parseResponse, _ := protocol.RenderError(err)
		return parseResponse, OutcomeClosed
	}

	switch command := command.(type) {
	case protocol.Quit:
		return protocol.OK(), OutcomeQuit
	case protocol.Shutdown:
		return protocol.OK(), OutcomeShutdown
	case protocol.Buy:
		result, err := dispatcher.engine.Buy(ctx, cards.BuyRequest{
			Owner:     command.Owner,
			Card:      command.Card,
			UnitPrice: command.Price,
			Quantity:  command.Count,
		})
		if err != nil {
			return dispatcher.renderError(logger, line, err), OutcomeClosed
		}
		return protocol.RenderBuy(command.Card.Name, result), OutcomeClosed
	case protocol.Sell:
		result, err := dispatcher.engine.Sell(ctx, cards.SellRequest{
			Owner:     command.Owner,
			CardName:  command.Name,
			UnitPrice: command.Price,
			Quantity:  command.Count,
		})
		if err != nil {
			return dispatcher.renderError(logger, line, err), OutcomeClosed
		}
		return protocol.RenderSell(command.Name, result), OutcomeClosed
	case protocol.Balance:
		account, err := dispatcher.engine.Balance(ctx, command.Owner)
		if err != nil {
			return dispatcher.renderError(logger, line, err), OutcomeClosed
		}
		return protocol.RenderBalance(account), OutcomeClosed
	case protocol.List:
		variants, err := dispatcher.engine.ListInventory(ctx, command.Owner)
		if err != nil {
			return dispatcher.renderError(logger, line, err), OutcomeClosed
		}
		return protocol.RenderList(command.Owner, variants), OutcomeClosed
	default:
		return protocol.InvalidCommand("unsupported command"), OutcomeClosed
	}
}

func (dispatcher *Dispatcher) renderError(logger *zap.Logger, line string, err error) protocol.Response {
	response, internal := protocol.RenderError(err)
	if internal {
		logger.Error("command failed", zap.String("line", line), zap.Error(err))
	}
	return response
}
