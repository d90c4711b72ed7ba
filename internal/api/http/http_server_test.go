package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/exchange-core/internal/api/dto"
	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btcusd = url.QueryEscape("BTC/USD")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T, rl *middleware.RateLimiter) (*HTTPServer, *core.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eng := core.NewEngine()
	return NewHTTPServer(eng, rl, nil), eng
}

func do(t *testing.T, s *HTTPServer, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ClientIDHeader, "test-client")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func setupMarket(t *testing.T, s *HTTPServer) {
	t.Helper()
	pair := dto.Pair{
		Base: "BTC", Quote: "USD",
		MinOrderSize: dec("0.01"), MaxOrderSize: dec("1000"),
		PricePrecision: 2, QuantityPrecision: 4,
		TakerFee: dec("0.001"),
	}
	var created dto.Pair
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/pairs", pair, &created))
	assert.Equal(t, "BTC/USD", created.Symbol)
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/pairs", pair, nil))

	for _, b := range []dto.BalanceRequest{
		{AgentID: "seller", Asset: "BTC", Amount: dec("5")},
		{AgentID: "buyer", Asset: "USD", Amount: dec("10000")},
	} {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/balances/deposit", b, nil))
	}
}

func TestHTTPServer_OrderLifecycle(t *testing.T) {
	s, _ := newTestServer(t, nil)
	setupMarket(t, s)

	var sell dto.SubmitOrderResponse
	code := do(t, s, http.MethodPost, "/orders", dto.SubmitOrderRequest{
		AgentID: "seller", Symbol: "BTC/USD", Side: "SELL", Type: "LIMIT", Price: dec("100"), Quantity: dec("1"),
	}, &sell)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, sell.Accepted)
	assert.Equal(t, "PENDING", sell.Status)

	var book dto.GetOrderbookResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/orderbook?symbol="+btcusd+"&depth=5", nil, &book))
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Asks[0].Price.Equal(dec("100")))

	var buy dto.SubmitOrderResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders", dto.SubmitOrderRequest{
		AgentID: "buyer", Symbol: "BTC/USD", Side: "BUY", Type: "LIMIT", Price: dec("101"), Quantity: dec("1"),
	}, &buy))
	assert.Equal(t, "FILLED", buy.Status)
	require.Len(t, buy.Fills, 1)
	assert.True(t, buy.Fills[0].Price.Equal(dec("100")), "resting price wins")

	var got dto.GetOrderResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/orders/"+sell.OrderID, nil, &got))
	assert.Equal(t, "FILLED", got.Order.Status)
	assert.True(t, got.Order.Remaining.IsZero())

	var trades dto.GetTradesResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/orders/"+buy.OrderID+"/trades", nil, &trades))
	require.Len(t, trades.Trades, 1)
	assert.Equal(t, "BUY", trades.Trades[0].TakerSide)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/trades?symbol="+btcusd+"&limit=10", nil, &trades))
	assert.Len(t, trades.Trades, 1)

	var stats domain.MarketStats
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/stats", nil, &stats))
	assert.Equal(t, int64(1), stats.TotalTrades)
	assert.True(t, stats.TotalVolume.Equal(dec("100")))

	var bal dto.BalancesResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/balances/buyer", nil, &bal))
	require.Len(t, bal.Balances, 2)
	assert.Equal(t, "BTC", bal.Balances[0].Asset)
	assert.True(t, bal.Balances[0].Available.Equal(dec("1")))
	assert.True(t, bal.Balances[1].Available.Equal(dec("9900")))

	// The taker fee is withheld from the seller's proceeds.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/balances/seller", nil, &bal))
	require.Len(t, bal.Balances, 2)
	assert.True(t, bal.Balances[1].Available.Equal(dec("99.9")))
}

func TestHTTPServer_Rejections(t *testing.T) {
	s, _ := newTestServer(t, nil)
	setupMarket(t, s)

	var res dto.SubmitOrderResponse
	code := do(t, s, http.MethodPost, "/orders", dto.SubmitOrderRequest{
		AgentID: "pauper", Symbol: "BTC/USD", Side: "BUY", Type: "LIMIT", Price: dec("100"), Quantity: dec("1"),
	}, &res)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, res.Accepted)
	assert.Equal(t, "REJECTED", res.Status)
	assert.Equal(t, "Insufficient balance", res.Message)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/orders", dto.SubmitOrderRequest{
		AgentID: "buyer", Symbol: "BTC/USD", Side: "HOLD", Type: "LIMIT", Price: dec("100"), Quantity: dec("1"),
	}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/orders", dto.SubmitOrderRequest{
		AgentID: "buyer", Symbol: "BTC/USD", Side: "BUY", Type: "LIMIT", Quantity: dec("1"),
	}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/orders", dto.SubmitOrderRequest{
		AgentID: "buyer", Symbol: "BTC/USD", Side: "BUY", Type: "MARKET", Quantity: dec("1"), TTL: "soon",
	}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/orders/missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/orderbook?symbol=ETH%2FUSD", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/orderbook", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/orderbook?symbol="+btcusd+"&depth=-1", nil, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodPost, "/balances/withdraw",
		dto.BalanceRequest{AgentID: "buyer", Asset: "USD", Amount: dec("20000")}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/balances/deposit",
		dto.BalanceRequest{AgentID: "buyer", Asset: "USD", Amount: dec("-1")}, nil))
}

func TestHTTPServer_HaltAndResume(t *testing.T) {
	s, eng := newTestServer(t, nil)
	setupMarket(t, s)

	var halted dto.HaltResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/halt", dto.HaltRequest{Symbol: "BTC/USD"}, &halted))
	assert.True(t, halted.Halted)
	assert.True(t, eng.Halted("BTC/USD"))

	order := dto.SubmitOrderRequest{AgentID: "seller", Symbol: "BTC/USD", Side: "SELL", Type: "LIMIT", Price: dec("100"), Quantity: dec("1")}
	var res dto.SubmitOrderResponse
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/orders", order, &res))
	assert.Contains(t, res.Message, "halted")

	var stats domain.MarketStats
	do(t, s, http.MethodGet, "/stats", nil, &stats)
	assert.Equal(t, []string{"BTC/USD"}, stats.HaltedSymbols)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/resume", dto.HaltRequest{Symbol: "BTC/USD"}, nil))
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders", order, nil))
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/halt", dto.HaltRequest{Symbol: "ETH/USD"}, nil))
}

func TestHTTPServer_CancelModifyAndReplay(t *testing.T) {
	s, eng := newTestServer(t, nil)
	setupMarket(t, s)

	req := dto.SubmitOrderRequest{
		OrderID: "client-42", AgentID: "buyer", Symbol: "BTC/USD", Side: "BUY", Type: "LIMIT",
		Price: dec("90"), Quantity: dec("2"), TTL: "1h",
	}
	var placed dto.SubmitOrderResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders", req, &placed))
	assert.Equal(t, "client-42", placed.OrderID)

	var replay struct {
		Message string    `json:"message"`
		Order   dto.Order `json:"order"`
	}
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders", req, &replay))
	assert.Equal(t, "duplicate order", replay.Message)
	assert.Equal(t, "client-42", replay.Order.ID)
	assert.True(t, eng.Balance("buyer", "USD").Locked.Equal(dec("180")), "replay must not reserve twice")

	var modified dto.ModifyOrderResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders/modify", dto.ModifyOrderRequest{
		OrderID: "client-42", AgentID: "buyer", NewPrice: dec("95"), NewQty: dec("1"),
	}, &modified))
	assert.Equal(t, "client-42", modified.ReplacedOrderID)
	assert.NotEqual(t, "client-42", modified.OrderID)
	assert.True(t, eng.Balance("buyer", "USD").Locked.Equal(dec("95")))

	var cancelled dto.CancelOrderResponse
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/orders/cancel", dto.CancelOrderRequest{
		OrderID: modified.OrderID, AgentID: "buyer",
	}, &cancelled))
	assert.True(t, cancelled.Cancelled)
	assert.True(t, eng.Balance("buyer", "USD").Locked.IsZero())

	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/orders/cancel", dto.CancelOrderRequest{
		OrderID: modified.OrderID, AgentID: "buyer",
	}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/orders/cancel", dto.CancelOrderRequest{
		OrderID: modified.OrderID, AgentID: "someone-else",
	}, nil))
}

func TestHTTPServer_RateLimitAndOps(t *testing.T) {
	s, _ := newTestServer(t, middleware.NewRateLimiter(time.Hour))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/pairs", nil, nil))
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/pairs", nil, nil))
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil, nil))
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics", nil, nil))
}

func TestHTTPServer_RunStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
