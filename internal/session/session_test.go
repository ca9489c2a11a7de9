package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeEngine struct {
	buyRequests  []cards.BuyRequest
	sellRequests []cards.SellRequest
	buyErr       error
	sellErr      error
	balanceErr   error
	panicOnList  bool
}

func (engine *fakeEngine) Buy(ctx context.Context, request cards.BuyRequest) (cards.BuyResult, error) {
	engine.buyRequests = append(engine.buyRequests, request)
	if engine.buyErr != nil {
		return cards.BuyResult{}, engine.buyErr
	}
	return cards.BuyResult{Balance: decimal.RequireFromString("80"), VariantCount: request.Quantity}, nil
}

func (engine *fakeEngine) Sell(ctx context.Context, request cards.SellRequest) (cards.SellResult, error) {
	engine.sellRequests = append(engine.sellRequests, request)
	if engine.sellErr != nil {
		return cards.SellResult{}, engine.sellErr
	}
	return cards.SellResult{Balance: decimal.RequireFromString("95"), Remaining: 1}, nil
}

func (engine *fakeEngine) Balance(ctx context.Context, owner cards.AccountID) (cards.Account, error) {
	if engine.balanceErr != nil {
		return cards.Account{}, engine.balanceErr
	}
	return cards.Account{ID: owner, UserName: "default_user", Balance: decimal.RequireFromString("95")}, nil
}

func (engine *fakeEngine) ListInventory(ctx context.Context, owner cards.AccountID) ([]cards.Variant, error) {
	if engine.panicOnList {
		panic("list exploded")
	}
	return []cards.Variant{{ID: 1, Owner: owner, Card: cards.CardKey{Name: "Pikachu", Type: "Electric", Rarity: "Common"}, Count: 1}}, nil
}

type serveResult struct {
	outcome Outcome
	err     error
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (client *testClient) send(test *testing.T, line string) []string {
	test.Helper()
	if _, err := client.conn.Write([]byte(line + "\n")); err != nil {
		test.Fatalf("write %q: %v", line, err)
	}
	lines := make([]string, 0, 4)
	for {
		raw, err := client.reader.ReadString('\n')
		if err != nil {
			test.Fatalf("read reply to %q: %v", line, err)
		}
		trimmed := strings.TrimRight(raw, "\n")
		if trimmed == "" {
			return lines
		}
		lines = append(lines, trimmed)
	}
}

func startSession(test *testing.T, ctx context.Context, engine Engine, logger *zap.Logger, options ...Option) (*testClient, <-chan serveResult) {
	test.Helper()
	dispatcher, err := NewDispatcher(engine, logger, options...)
	if err != nil {
		test.Fatalf("new dispatcher: %v", err)
	}
	serverConn, clientConn := net.Pipe()
	test.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})
	results := make(chan serveResult, 1)
	go func() {
		outcome, err := dispatcher.Serve(ctx, serverConn)
		results <- serveResult{outcome: outcome, err: err}
	}()
	return &testClient{conn: clientConn, reader: bufio.NewReader(clientConn)}, results
}

func waitResult(test *testing.T, results <-chan serveResult) serveResult {
	test.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(5 * time.Second):
		test.Fatalf("session did not end")
		return serveResult{}
	}
}

func TestSessionCommandsAndQuit(test *testing.T) {
	engine := &fakeEngine{}
	client, results := startSession(test, context.Background(), engine, zap.NewNop())

	testCases := []struct {
		line string
		want []string
	}{
		{line: "BUY Pikachu Electric Common 10.00 2 1", want: []string{"200 OK", "BOUGHT: New balance: 2 Pikachu.  User USD balance $80.00"}},
		{line: "SELL Pikachu 1 15.00 1", want: []string{"200 OK", "SOLD: New balance: 1 Pikachu. User's balance USD $95.00"}},
		{line: "BALANCE 1", want: []string{"200 OK", "Balance for user default_user: $95.00"}},
		{line: "FLY 1", want: []string{"400 invalid command", "unknown command: FLY"}},
		{line: "", want: []string{"403 message format error", "empty line"}},
		{line: "BUY Pikachu Electric Common abc 2 1", want: []string{"403 message format error", "BUY has invalid number types"}},
		{line: "QUIT", want: []string{"200 OK"}},
	}
	for _, testCase := range testCases {
		got := client.send(test, testCase.line)
		if strings.Join(got, "|") != strings.Join(testCase.want, "|") {
			test.Fatalf("%q: expected %q, got %q", testCase.line, testCase.want, got)
		}
	}

	result := waitResult(test, results)
	if result.outcome != OutcomeQuit || result.err != nil {
		test.Fatalf("expected quit, got %s / %v", result.outcome, result.err)
	}
	if len(engine.buyRequests) != 1 || engine.buyRequests[0].Quantity != 2 || engine.buyRequests[0].Owner != 1 {
		test.Fatalf("unexpected buy requests %+v", engine.buyRequests)
	}
	if len(engine.sellRequests) != 1 || engine.sellRequests[0].CardName != "Pikachu" {
		test.Fatalf("unexpected sell requests %+v", engine.sellRequests)
	}
}

func TestSessionAnswersOverlongLineAndContinues(test *testing.T) {
	engine := &fakeEngine{}
	client, results := startSession(test, context.Background(), engine, zap.NewNop())

	testCases := []struct {
		name string
		line string
		want []string
	}{
		{name: "overlong line", line: "BALANCE " + strings.Repeat("9", 70*1024), want: []string{"403 message format error", "line too long"}},
		{name: "next command", line: "BALANCE 1", want: []string{"200 OK", "Balance for user default_user: $95.00"}},
		{name: "crlf ending", line: "BALANCE 1\r", want: []string{"200 OK", "Balance for user default_user: $95.00"}},
		{name: "quit", line: "QUIT", want: []string{"200 OK"}},
	}
	for _, testCase := range testCases {
		got := client.send(test, testCase.line)
		if strings.Join(got, "|") != strings.Join(testCase.want, "|") {
			test.Fatalf("%s: expected %q, got %q", testCase.name, testCase.want, got)
		}
	}

	result := waitResult(test, results)
	if result.outcome != OutcomeQuit || result.err != nil {
		test.Fatalf("expected quit, got %s / %v", result.outcome, result.err)
	}
}

func TestReadLine(test *testing.T) {
	input := "short\n" + strings.Repeat("x", 40) + "\nnext\r\n" + strings.Repeat("y", 40) + "\nlast"
	reader := bufio.NewReaderSize(strings.NewReader(input), 16)

	testCases := []struct {
		want    string
		wantErr error
	}{
		{want: "short"},
		{wantErr: errLineTooLong},
		{want: "next"},
		{wantErr: errLineTooLong},
		{want: "last"},
		{wantErr: io.EOF},
	}
	for index, testCase := range testCases {
		got, err := readLine(reader)
		if testCase.wantErr != nil {
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("read %d: expected %v, got %q / %v", index, testCase.wantErr, got, err)
			}
			continue
		}
		if err != nil || got != testCase.want {
			test.Fatalf("read %d: expected %q, got %q / %v", index, testCase.want, got, err)
		}
	}
}

func TestSessionEngineErrorsKeepSessionAlive(test *testing.T) {
	engine := &fakeEngine{
		buyErr:     cards.ErrInsufficientFunds,
		sellErr:    cards.ErrInsufficientInventory,
		balanceErr: cards.WrapError("store", "account", "get", cards.ErrAccountNotFound),
	}
	core, recorded := observer.New(zapcore.InfoLevel)
	client, results := startSession(test, context.Background(), engine, zap.New(core))

	if got := client.send(test, "BUY Mew Psychic Rare 500 1 1"); got[0] != "403 message format error" || got[1] != "insufficient funds" {
		test.Fatalf("unexpected reply %q", got)
	}
	if got := client.send(test, "SELL Mew 1 1 1"); got[1] != "insufficient inventory" {
		test.Fatalf("unexpected reply %q", got)
	}
	if got := client.send(test, "BALANCE 9"); got[1] != "account not found" {
		test.Fatalf("unexpected reply %q", got)
	}
	engine.buyErr = errors.New("disk full")
	if got := client.send(test, "BUY Mew Psychic Rare 1 1 1"); got[1] != "internal error" {
		test.Fatalf("unexpected reply %q", got)
	}
	if got := client.send(test, "SHUTDOWN"); len(got) != 1 || got[0] != "200 OK" {
		test.Fatalf("unexpected reply %q", got)
	}

	result := waitResult(test, results)
	if result.outcome != OutcomeShutdown {
		test.Fatalf("expected shutdown, got %s", result.outcome)
	}
	if received := recorded.FilterMessage("received").Len(); received != 5 {
		test.Fatalf("expected 5 received lines logged, got %d", received)
	}
	if failures := recorded.FilterMessage("command failed").Len(); failures != 1 {
		test.Fatalf("expected 1 internal failure logged, got %d", failures)
	}
	entry := recorded.FilterMessage("received").All()[0]
	if entry.ContextMap()["peer"] != "pipe" {
		test.Fatalf("expected peer field, got %+v", entry.ContextMap())
	}
}

func TestSessionRecoversPanic(test *testing.T) {
	engine := &fakeEngine{panicOnList: true}
	client, results := startSession(test, context.Background(), engine, zap.NewNop())

	if got := client.send(test, "LIST 1"); got[0] != "403 message format error" || got[1] != "internal error" {
		test.Fatalf("unexpected reply %q", got)
	}
	engine.panicOnList = false
	if got := client.send(test, "LIST 1"); got[0] != "200 OK" || len(got) != 4 {
		test.Fatalf("session did not survive panic: %q", got)
	}
	_ = client.conn.Close()

	result := waitResult(test, results)
	if result.outcome != OutcomeClosed || result.err != nil {
		test.Fatalf("expected clean close, got %s / %v", result.outcome, result.err)
	}
}

func TestSessionIdleTimeout(test *testing.T) {
	client, results := startSession(test, context.Background(), &fakeEngine{}, zap.NewNop(), WithIdleTimeout(50*time.Millisecond))
	defer client.conn.Close()

	result := waitResult(test, results)
	if result.outcome != OutcomeClosed || result.err == nil {
		test.Fatalf("expected idle timeout error, got %s / %v", result.outcome, result.err)
	}
	var netErr net.Error
	if !errors.As(result.err, &netErr) || !netErr.Timeout() {
		test.Fatalf("expected timeout error, got %v", result.err)
	}
}

func TestSessionStopsOnContextCancel(test *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, results := startSession(test, ctx, &fakeEngine{}, zap.NewNop())
	defer client.conn.Close()

	if got := client.send(test, "BALANCE 1"); got[0] != "200 OK" {
		test.Fatalf("unexpected reply %q", got)
	}
	cancel()

	result := waitResult(test, results)
	if result.outcome != OutcomeClosed || result.err != nil {
		test.Fatalf("expected clean close on cancel, got %s / %v", result.outcome, result.err)
	}
}

func TestNewDispatcherRequiresEngine(test *testing.T) {
	if _, err := NewDispatcher(nil, nil); !errors.Is(err, ErrInvalidDispatcherConfig) {
		test.Fatalf("expected ErrInvalidDispatcherConfig, got %v", err)
	}
}
