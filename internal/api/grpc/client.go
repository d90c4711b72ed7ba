package grpc

import (
	"context"
	"errors"
	"io"

	"github.com/olyamironova/exchange-core/internal/api/dto"
	"github.com/olyamironova/exchange-core/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed wrapper over the exchange service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

func (c *Client) PlaceOrder(ctx context.Context, req dto.SubmitOrderRequest) (dto.SubmitOrderResponse, error) {
	var out dto.SubmitOrderResponse
	err := c.invoke(ctx, "PlaceOrder", req, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, orderID, agentID string) (dto.CancelOrderResponse, error) {
	var out dto.CancelOrderResponse
	err := c.invoke(ctx, "CancelOrder", dto.CancelOrderRequest{OrderID: orderID, AgentID: agentID}, &out)
	return out, err
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (dto.GetOrderbookResponse, error) {
	var out dto.GetOrderbookResponse
	err := c.invoke(ctx, "GetOrderBook", dto.GetOrderbookRequest{Symbol: symbol, Depth: depth}, &out)
	return out, err
}

func (c *Client) GetMarketStats(ctx context.Context) (domain.MarketStats, error) {
	var out domain.MarketStats
	err := c.invoke(ctx, "GetMarketStats", struct{}{}, &out)
	return out, err
}

// TradeStream yields trades until the server ends the stream or ctx is cancelled.
type TradeStream struct {
	stream grpc.ClientStream
}

func (c *Client) StreamTrades(ctx context.Context, symbol string) (*TradeStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/StreamTrades")
	if err != nil {
		return nil, err
	}
	req, err := toStruct(dto.StreamTradesRequest{Symbol: symbol})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &TradeStream{stream: stream}, nil
}

// Recv returns io.EOF once the stream is over.
func (s *TradeStream) Recv() (dto.Trade, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return dto.Trade{}, io.EOF
		}
		return dto.Trade{}, err
	}
	var t dto.Trade
	err := fromStruct(msg, &t)
	return t, err
}
