package grpcserver

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cardledger/cards/internal/store/gormstore"
	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufconnSize = 1 << 20

func startAdminClient(test *testing.T) (*Client, *cards.Service) {
	test.Helper()
	store, err := gormstore.Initialize(context.Background(), filepath.Join(test.TempDir(), "admin.db"), cards.AccountInput{
		UserName: cards.DefaultSeedUserName,
		Balance:  decimal.RequireFromString(cards.DefaultInitialBalance),
		IsRoot:   true,
	})
	if err != nil {
		test.Fatalf("initialize store: %v", err)
	}
	test.Cleanup(func() { _ = store.Close() })
	service, err := cards.NewService(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := NewServer(NewAccountAdminService(service, zap.NewNop()), zap.NewNop())
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client init failed: %v", err)
	}
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return NewClient(conn), service
}

func requestContext(test *testing.T) context.Context {
	test.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	test.Cleanup(cancel)
	return ctx
}

func TestCreateAndGetAccount(test *testing.T) {
	client, _ := startAdminClient(test)
	ctx := requestContext(test)

	created, err := client.CreateAccount(ctx, cards.AccountInput{
		FirstName: "Ash",
		LastName:  "Ketchum",
		UserName:  "ash",
		Password:  "pikapika",
		Balance:   decimal.RequireFromString("250.5"),
	})
	if err != nil {
		test.Fatalf("create account: %v", err)
	}
	if created.ID != 2 || created.UserName != "ash" || created.IsRoot {
		test.Fatalf("unexpected account %+v", created)
	}

	fetched, err := client.GetAccount(ctx, created.ID)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if fetched.FirstName != "Ash" || fetched.Balance.StringFixed(2) != "250.50" {
		test.Fatalf("unexpected fetched account %+v", fetched)
	}
}

func TestErrorMapping(test *testing.T) {
	client, _ := startAdminClient(test)
	ctx := requestContext(test)

	testCases := []struct {
		name     string
		call     func() error
		wantCode codes.Code
		wantText string
	}{
		{
			name: "unknown account",
			call: func() error {
				_, err := client.GetAccount(ctx, 99)
				return err
			},
			wantCode: codes.NotFound,
			wantText: errorAccountNotFound,
		},
		{
			name: "non-positive id",
			call: func() error {
				_, err := client.ListInventory(ctx, 0)
				return err
			},
			wantCode: codes.InvalidArgument,
			wantText: errorInvalidAccountID,
		},
		{
			name: "missing user name",
			call: func() error {
				_, err := client.CreateAccount(ctx, cards.AccountInput{Balance: decimal.Zero})
				return err
			},
			wantCode: codes.InvalidArgument,
			wantText: errorInvalidArgument,
		},
		{
			name: "negative balance",
			call: func() error {
				_, err := client.CreateAccount(ctx, cards.AccountInput{UserName: "misty", Balance: decimal.RequireFromString("-1")})
				return err
			},
			wantCode: codes.InvalidArgument,
			wantText: errorInvalidArgument,
		},
		{
			name: "limit too large",
			call: func() error {
				_, err := client.ListTrades(ctx, 1, 10000)
				return err
			},
			wantCode: codes.InvalidArgument,
			wantText: errorInvalidArgument,
		},
	}

	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			err := testCase.call()
			if status.Code(err) != testCase.wantCode {
				test.Fatalf("expected %s, got %v", testCase.wantCode, err)
			}
			if status.Convert(err).Message() != testCase.wantText {
				test.Fatalf("expected message %q, got %q", testCase.wantText, status.Convert(err).Message())
			}
		})
	}
}

func TestInventoryAndTrades(test *testing.T) {
	client, service := startAdminClient(test)
	ctx := requestContext(test)

	if _, err := service.Buy(ctx, cards.BuyRequest{
		Owner:     1,
		Card:      cards.CardKey{Name: "Pikachu", Type: "Electric", Rarity: "Common"},
		UnitPrice: decimal.RequireFromString("10.00"),
		Quantity:  2,
	}); err != nil {
		test.Fatalf("buy: %v", err)
	}
	if _, err := service.Sell(ctx, cards.SellRequest{Owner: 1, CardName: "Pikachu", UnitPrice: decimal.RequireFromString("15.00"), Quantity: 1}); err != nil {
		test.Fatalf("sell: %v", err)
	}

	variants, err := client.ListInventory(ctx, 1)
	if err != nil {
		test.Fatalf("list inventory: %v", err)
	}
	if len(variants) != 1 || variants[0].Count != 1 || variants[0].Card.Rarity != "Common" {
		test.Fatalf("unexpected variants %+v", variants)
	}

	trades, err := client.ListTrades(ctx, 1, 0)
	if err != nil {
		test.Fatalf("list trades: %v", err)
	}
	if len(trades) != 2 || trades[0].Kind != cards.TradeSell || trades[1].Kind != cards.TradeBuy {
		test.Fatalf("unexpected trades %+v", trades)
	}
	if trades[0].BalanceAfter.StringFixed(2) != "95.00" || trades[1].CreatedUnixUTC != 1700000000 {
		test.Fatalf("unexpected trade values %+v", trades)
	}
}

func TestHealth(test *testing.T) {
	client, _ := startAdminClient(test)
	servingStatus, err := client.Health(requestContext(test))
	if err != nil {
		test.Fatalf("health: %v", err)
	}
	if servingStatus != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("expected SERVING, got %s", servingStatus)
	}
}

func TestIntegerField(test *testing.T) {
	fields := map[string]*structpb.Value{
		"whole":    structpb.NewNumberValue(42),
		"fraction": structpb.NewNumberValue(1.5),
		"text":     structpb.NewStringValue("42"),
	}
	if value, err := integerField(fields, "whole"); err != nil || value != 42 {
		test.Fatalf("expected 42, got %d / %v", value, err)
	}
	for _, name := range []string{"fraction", "text", "missing"} {
		if _, err := integerField(fields, name); err == nil {
			test.Fatalf("expected error for %s", name)
		}
	}
}
