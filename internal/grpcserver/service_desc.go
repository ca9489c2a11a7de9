// Package grpcserver exposes account administration over gRPC.
//
// The service is declared by hand against well-known protobuf types, so no
// generated stubs are needed on either side.
package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully-qualified admin service name.
	ServiceName = "cards.admin.v1.AccountAdmin"

	methodCreateAccount = "CreateAccount"
	methodGetAccount    = "GetAccount"
	methodListInventory = "ListInventory"
	methodListTrades    = "ListTrades"
)

// AccountAdminServer is the server API for the admin service.
type AccountAdminServer interface {
	CreateAccount(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetAccount(ctx context.Context, request *wrapperspb.Int64Value) (*structpb.Struct, error)
	ListInventory(ctx context.Context, request *wrapperspb.Int64Value) (*structpb.Struct, error)
	ListTrades(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// AccountAdminServiceDesc describes the admin service for grpc.Server registration.
var AccountAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccountAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodCreateAccount,
			Handler: unaryHandler(methodCreateAccount, func() *structpb.Struct { return new(structpb.Struct) },
				func(server AccountAdminServer, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
					return server.CreateAccount(ctx, request)
				}),
		},
		{
			MethodName: methodGetAccount,
			Handler: unaryHandler(methodGetAccount, func() *wrapperspb.Int64Value { return new(wrapperspb.Int64Value) },
				func(server AccountAdminServer, ctx context.Context, request *wrapperspb.Int64Value) (*structpb.Struct, error) {
					return server.GetAccount(ctx, request)
				}),
		},
		{
			MethodName: methodListInventory,
			Handler: unaryHandler(methodListInventory, func() *wrapperspb.Int64Value { return new(wrapperspb.Int64Value) },
				func(server AccountAdminServer, ctx context.Context, request *wrapperspb.Int64Value) (*structpb.Struct, error) {
					return server.ListInventory(ctx, request)
				}),
		},
		{
			MethodName: methodListTrades,
			Handler: unaryHandler(methodListTrades, func() *structpb.Struct { return new(structpb.Struct) },
				func(server AccountAdminServer, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
					return server.ListTrades(ctx, request)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cards/admin/v1/admin.proto",
}

// RegisterAccountAdminServer registers server on registrar.
func RegisterAccountAdminServer(registrar grpc.ServiceRegistrar, server AccountAdminServer) {
	registrar.RegisterService(&AccountAdminServiceDesc, server)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Request proto.Message](
	method string,
	newRequest func() Request,
	call func(server AccountAdminServer, ctx context.Context, request Request) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := newRequest()
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(server.(AccountAdminServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(server.(AccountAdminServer), ctx, request.(Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}
