package grpcserver

import (
	"context"
	"errors"

	"github.com/cardledger/cards/pkg/cards"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	errorAccountNotFound       = "account_not_found"
	errorInsufficientFunds     = "insufficient_funds"
	errorInsufficientInventory = "insufficient_inventory"
	errorInvalidArgument       = "invalid_argument"
	errorInvalidAccountID      = "invalid_account_id"
	errorInvalidRequest        = "invalid_request"
	errorInternal              = "internal"
)

// AdminEngine is the subset of cards.Service exposed to operators.
type AdminEngine interface {
	CreateAccount(ctx context.Context, input cards.AccountInput) (cards.Account, error)
	Balance(ctx context.Context, owner cards.AccountID) (cards.Account, error)
	ListInventory(ctx context.Context, owner cards.AccountID) ([]cards.Variant, error)
	ListTrades(ctx context.Context, owner cards.AccountID, limit int) ([]cards.Trade, error)
}

// AccountAdminService exposes account administration over gRPC.
type AccountAdminService struct {
	engine AdminEngine
	logger *zap.Logger
}

// NewAccountAdminService constructs the admin service.
func NewAccountAdminService(engine AdminEngine, logger *zap.Logger) *AccountAdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountAdminService{engine: engine, logger: logger}
}

// NewServer returns a grpc.Server carrying the admin and health services.
func NewServer(service *AccountAdminService, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	RegisterAccountAdminServer(grpcServer, service)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return grpcServer
}

func (service *AccountAdminService) CreateAccount(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	input, err := accountInputFromStruct(request)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidRequest)
	}
	account, operationError := service.engine.CreateAccount(ctx, input)
	if operationError != nil {
		return nil, service.mapToGRPCError(operationError)
	}
	return accountToStruct(account)
}

func (service *AccountAdminService) GetAccount(ctx context.Context, request *wrapperspb.Int64Value) (*structpb.Struct, error) {
	owner, err := accountIDFromRequest(request)
	if err != nil {
		return nil, err
	}
	account, operationError := service.engine.Balance(ctx, owner)
	if operationError != nil {
		return nil, service.mapToGRPCError(operationError)
	}
	return accountToStruct(account)
}

func (service *AccountAdminService) ListInventory(ctx context.Context, request *wrapperspb.Int64Value) (*structpb.Struct, error) {
	owner, err := accountIDFromRequest(request)
	if err != nil {
		return nil, err
	}
	if _, operationError := service.engine.Balance(ctx, owner); operationError != nil {
		return nil, service.mapToGRPCError(operationError)
	}
	variants, operationError := service.engine.ListInventory(ctx, owner)
	if operationError != nil {
		return nil, service.mapToGRPCError(operationError)
	}
	return variantsToStruct(variants)
}

func (service *AccountAdminService) ListTrades(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	owner, limit, err := tradeQueryFromStruct(request)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidRequest)
	}
	trades, operationError := service.engine.ListTrades(ctx, owner, limit)
	if operationError != nil {
		return nil, service.mapToGRPCError(operationError)
	}
	return tradesToStruct(trades)
}

func accountIDFromRequest(request *wrapperspb.Int64Value) (cards.AccountID, error) {
	if request.GetValue() <= 0 {
		return 0, status.Error(codes.InvalidArgument, errorInvalidAccountID)
	}
	return cards.AccountID(request.GetValue()), nil
}

func (service *AccountAdminService) mapToGRPCError(source error) error {
	if errors.Is(source, cards.ErrAccountNotFound) {
		return status.Error(codes.NotFound, errorAccountNotFound)
	}
	if errors.Is(source, cards.ErrInsufficientFunds) {
		return status.Error(codes.FailedPrecondition, errorInsufficientFunds)
	}
	if errors.Is(source, cards.ErrInsufficientInventory) {
		return status.Error(codes.FailedPrecondition, errorInsufficientInventory)
	}
	if errors.Is(source, cards.ErrInvalidArgument) {
		return status.Error(codes.InvalidArgument, errorInvalidArgument)
	}
	service.logger.Error("admin operation failed", zap.Error(source))
	return status.Error(codes.Internal, errorInternal)
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		response, err := handler(ctx, request)
		logger.Info("admin rpc",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
		)
		return response, err
	}
}
