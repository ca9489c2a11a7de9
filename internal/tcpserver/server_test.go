package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cardledger/cards/internal/session"
	"github.com/cardledger/cards/internal/store/gormstore"
	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type lineClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(test *testing.T, addr string) *lineClient {
	test.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		test.Fatalf("dial: %v", err)
	}
	test.Cleanup(func() { _ = conn.Close() })
	return &lineClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (client *lineClient) send(test *testing.T, line string) []string {
	test.Helper()
	_ = client.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.conn.Write([]byte(line + "\n")); err != nil {
		test.Fatalf("write %q: %v", line, err)
	}
	lines := make([]string, 0, 4)
	for {
		raw, err := client.reader.ReadString('\n')
		if err != nil {
			test.Fatalf("read reply to %q: %v", line, err)
		}
		trimmed := strings.TrimRight(raw, "\r\n")
		if trimmed == "" {
			return lines
		}
		lines = append(lines, trimmed)
	}
}

func startServer(test *testing.T, ctx context.Context, options ...Option) (string, <-chan error) {
	test.Helper()
	store, err := gormstore.Initialize(context.Background(), filepath.Join(test.TempDir(), "cards.db"), cards.AccountInput{
		UserName: cards.DefaultSeedUserName,
		Balance:  decimal.RequireFromString(cards.DefaultInitialBalance),
		IsRoot:   true,
	})
	if err != nil {
		test.Fatalf("initialize store: %v", err)
	}
	test.Cleanup(func() { _ = store.Close() })

	service, err := cards.NewService(store, func() int64 { return time.Now().UTC().Unix() })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	dispatcher, err := session.NewDispatcher(service, zap.NewNop(), session.WithIdleTimeout(5*time.Second))
	if err != nil {
		test.Fatalf("new dispatcher: %v", err)
	}
	server, err := New(dispatcher, zap.NewNop(), options...)
	if err != nil {
		test.Fatalf("new server: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		test.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	return listener.Addr().String(), done
}

func waitDone(test *testing.T, done <-chan error) {
	test.Helper()
	select {
	case err := <-done:
		if err != nil {
			test.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		test.Fatalf("server did not stop")
	}
}

func TestConcreteScenarioOverTCP(test *testing.T) {
	addr, done := startServer(test, context.Background())
	client := dial(test, addr)

	steps := []struct {
		line string
		want []string
	}{
		{line: "BUY Pikachu Electric Common 10.00 2 1", want: []string{"200 OK", "BOUGHT: New balance: 2 Pikachu.  User USD balance $80.00"}},
		{line: "SELL Pikachu 1 15.00 1", want: []string{"200 OK", "SOLD: New balance: 1 Pikachu. User's balance USD $95.00"}},
		{line: "LIST 1", want: []string{
			"200 OK",
			"The list of records in the Pokémon cards table for current user, user 1:",
			"ID   Card Name    Type       Rarity     Count OwnerID",
			"1    Pikachu      Electric   Common     1     1",
		}},
		{line: "BALANCE 1", want: []string{"200 OK", "Balance for user default_user: $95.00"}},
		{line: "SELL Pikachu 5 15.00 1", want: []string{"403 message format error", "insufficient inventory"}},
		{line: "BUY Pikachu Electric Common 10.00 0 1", want: []string{"403 message format error", "invalid argument: quantity must be positive"}},
		{line: "BALANCE 2", want: []string{"403 message format error", "account not found"}},
		{line: "SHUTDOWN", want: []string{"200 OK"}},
	}
	for _, step := range steps {
		got := client.send(test, step.line)
		if strings.Join(got, "|") != strings.Join(step.want, "|") {
			test.Fatalf("%q:\nexpected %q\n     got %q", step.line, step.want, got)
		}
	}

	waitDone(test, done)
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		test.Fatalf("expected listener to be closed after SHUTDOWN")
	}
}

func TestQuitKeepsServerRunning(test *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, done := startServer(test, ctx)

	first := dial(test, addr)
	if got := first.send(test, "QUIT"); len(got) != 1 || got[0] != "200 OK" {
		test.Fatalf("unexpected quit reply %q", got)
	}
	second := dial(test, addr)
	if got := second.send(test, "BALANCE 1"); got[0] != "200 OK" {
		test.Fatalf("expected second session to be served, got %q", got)
	}

	cancel()
	waitDone(test, done)
}

func TestConcurrentSessions(test *testing.T) {
	addr, done := startServer(test, context.Background(), WithConcurrentSessions(true))

	first := dial(test, addr)
	second := dial(test, addr)
	if got := first.send(test, "BUY Eevee Normal Common 1.00 1 1"); got[0] != "200 OK" {
		test.Fatalf("unexpected reply %q", got)
	}
	if got := second.send(test, "BALANCE 1"); got[1] != "Balance for user default_user: $99.00" {
		test.Fatalf("unexpected reply %q", got)
	}
	if got := second.send(test, "SHUTDOWN"); got[0] != "200 OK" {
		test.Fatalf("unexpected reply %q", got)
	}
	if got := first.send(test, "LIST 1"); len(got) != 4 {
		test.Fatalf("in-flight session should still be served, got %q", got)
	}
	if got := first.send(test, "QUIT"); got[0] != "200 OK" {
		test.Fatalf("unexpected reply %q", got)
	}
	waitDone(test, done)
}

func TestNewRequiresSessions(test *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrInvalidServerConfig) {
		test.Fatalf("expected ErrInvalidServerConfig, got %v", err)
	}
}
