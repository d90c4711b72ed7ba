package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/olyamironova/exchange-core/internal/api/dto"
	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultDepth = 10

type GRPCServer struct {
	Eng    *core.Engine
	logger *zap.Logger
	trades *TradePubSub
}

// NewGRPCServer subscribes to the engine's trades so StreamTrades can fan
// them out.
func NewGRPCServer(eng *core.Engine, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GRPCServer{Eng: eng, logger: logger.Named("grpc"), trades: NewTradePubSub()}
	eng.AddTradeListener(s.trades.PublishTrade)
	return s
}

// NewServer builds a grpc.Server with logging and the exchange service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.logUnary)}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterExchangeServer(gs, s)
	return gs
}

// Run serves on addr until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	gs := s.NewServer()
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("latency", time.Since(start)),
		zap.String("code", status.Code(err).String()),
	}
	if err != nil {
		s.logger.Warn("rpc failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("rpc", fields...)
	}
	return resp, err
}

func (s *GRPCServer) PlaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.SubmitOrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if req.AgentID == "" || req.Symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id and symbol are required")
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	o, err := req.Order()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	// rejections are part of the response, not RPC errors
	return toStruct(dto.FromResult(s.Eng.PlaceOrder(ctx, o)))
}

func (s *GRPCServer) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.CancelOrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	ok, err := s.Eng.CancelOrder(ctx, req.OrderID, req.AgentID)
	if err != nil {
		return nil, statusFor(err)
	}
	return toStruct(dto.CancelOrderResponse{OrderID: req.OrderID, Cancelled: ok})
}

func (s *GRPCServer) GetOrderBook(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.GetOrderbookRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if req.Depth == 0 {
		req.Depth = defaultDepth
	}
	ob, err := s.Eng.GetOrderBook(ctx, req.Symbol, req.Depth)
	if err != nil {
		return nil, statusFor(err)
	}
	return toStruct(dto.FromSnapshot(ob))
}

func (s *GRPCServer) GetMarketStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.Eng.GetMarketStats())
}

// StreamTrades pushes every trade of the requested symbol until the client goes away.
func (s *GRPCServer) StreamTrades(in *structpb.Struct, stream grpc.ServerStream) error {
	var req dto.StreamTradesRequest
	if err := fromStruct(in, &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if req.Symbol != "" {
		if _, ok := s.Eng.Pair(req.Symbol); !ok {
			return status.Errorf(codes.NotFound, "trading pair %s not registered", req.Symbol)
		}
	}
	ch := s.trades.Subscribe(req.Symbol)
	defer s.trades.Unsubscribe(req.Symbol, ch)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case t, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(dto.FromTrade(t))
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func statusFor(err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrPairNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrOrderNotOpen):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct and fromStruct carry the REST JSON shapes through protobuf Structs.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
