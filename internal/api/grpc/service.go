package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service. Requests and responses are
// google.protobuf.Struct documents shaped like the REST JSON bodies.
const ServiceName = "exchange.v1.Exchange"

type ExchangeServer interface {
	PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrderBook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetMarketStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamTrades(req *structpb.Struct, stream grpc.ServerStream) error
}

type unaryCall func(ExchangeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ExchangeServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func streamTradesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ExchangeServer).StreamTrades(in, stream)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceOrder", ExchangeServer.PlaceOrder),
		unary("CancelOrder", ExchangeServer.CancelOrder),
		unary("GetOrderBook", ExchangeServer.GetOrderBook),
		unary("GetMarketStats", ExchangeServer.GetMarketStats),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTrades", Handler: streamTradesHandler, ServerStreams: true},
	},
	Metadata: "api/proto/exchange/v1/exchange.proto",
}

func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}
