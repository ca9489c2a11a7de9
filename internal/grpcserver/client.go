package grpcserver

import (
	"context"

	"github.com/cardledger/cards/pkg/cards"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the admin service and decodes replies into domain types.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// CreateAccount registers a new account.
func (client *Client) CreateAccount(ctx context.Context, input cards.AccountInput, options ...grpc.CallOption) (cards.Account, error) {
	request, err := accountInputToStruct(input)
	if err != nil {
		return cards.Account{}, err
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodCreateAccount), request, response, options...); err != nil {
		return cards.Account{}, err
	}
	return accountFromStruct(response)
}

// GetAccount fetches one account with its balance.
func (client *Client) GetAccount(ctx context.Context, owner cards.AccountID, options ...grpc.CallOption) (cards.Account, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodGetAccount), wrapperspb.Int64(owner.Int64()), response, options...); err != nil {
		return cards.Account{}, err
	}
	return accountFromStruct(response)
}

// ListInventory fetches the account's variant rows.
func (client *Client) ListInventory(ctx context.Context, owner cards.AccountID, options ...grpc.CallOption) ([]cards.Variant, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodListInventory), wrapperspb.Int64(owner.Int64()), response, options...); err != nil {
		return nil, err
	}
	return variantsFromStruct(response)
}

// ListTrades fetches the newest journal entries; limit 0 uses the server default.
func (client *Client) ListTrades(ctx context.Context, owner cards.AccountID, limit int, options ...grpc.CallOption) ([]cards.Trade, error) {
	request, err := tradeQueryToStruct(owner, limit)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodListTrades), request, response, options...); err != nil {
		return nil, err
	}
	return tradesFromStruct(response)
}

// Health reports the serving status of the admin service.
func (client *Client) Health(ctx context.Context, options ...grpc.CallOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	response, err := healthpb.NewHealthClient(client.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName}, options...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return response.GetStatus(), nil
}
