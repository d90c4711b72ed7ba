package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/olyamironova/exchange-core/internal/api/dto"
	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultDepth       = 10
	defaultTradesLimit = 100
	shutdownTimeout    = 5 * time.Second
)

type HTTPServer struct {
	Eng    *core.Engine
	logger *zap.Logger
	rl     *middleware.RateLimiter
	router *gin.Engine
}

func NewHTTPServer(eng *core.Engine, rl *middleware.RateLimiter, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{Eng: eng, logger: logger.Named("http"), rl: rl}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	if s.rl != nil {
		api.Use(s.rl.Middleware())
	}
	api.POST("/pairs", s.registerPair)
	api.GET("/pairs", s.listPairs)
	api.POST("/orders", s.submitOrder)
	api.POST("/orders/modify", s.modifyOrder)
	api.POST("/orders/cancel", s.cancelOrder)
	api.GET("/orders/:id", s.getOrder)
	api.GET("/orders/:id/trades", s.getTrades)
	api.GET("/orderbook", s.getOrderbook)
	api.GET("/trades", s.recentTrades)
	api.GET("/stats", s.stats)
	api.POST("/halt", s.halt)
	api.POST("/resume", s.resume)
	api.POST("/balances/deposit", s.deposit)
	api.POST("/balances/withdraw", s.withdraw)
	api.GET("/balances/:agent", s.balances)
	return r
}

func (s *HTTPServer) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		verr *domain.ValidationError
		herr *domain.MarketHaltedError
	)
	switch {
	case errors.As(err, &verr), errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.As(err, &herr):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPairNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPairExists), errors.Is(err, domain.ErrOrderNotOpen):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPair), errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *HTTPServer) registerPair(c *gin.Context) {
	var req dto.Pair
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := req.TradingPair()
	if err := s.Eng.RegisterTradingPair(p); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromPair(p))
}

func (s *HTTPServer) listPairs(c *gin.Context) {
	pairs := s.Eng.Pairs()
	out := make([]dto.Pair, len(pairs))
	for i, p := range pairs {
		out[i] = dto.FromPair(p)
	}
	c.JSON(http.StatusOK, gin.H{"pairs": out})
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// resubmitting a known id returns the stored order instead of a rejection
	if req.OrderID != "" {
		if existing, err := s.Eng.GetOrder(c.Request.Context(), req.OrderID); err == nil && existing.AgentID == req.AgentID {
			c.JSON(http.StatusOK, gin.H{"message": "duplicate order", "order": dto.FromOrder(existing)})
			return
		}
	}

	o, err := req.Order()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := s.Eng.PlaceOrder(c.Request.Context(), o)
	if !res.Accepted {
		c.JSON(statusFor(res.Err), dto.FromResult(res))
		return
	}
	c.JSON(http.StatusOK, dto.FromResult(res))
}

func (s *HTTPServer) modifyOrder(c *gin.Context) {
	var req dto.ModifyOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.Eng.ModifyOrder(c.Request.Context(), req.OrderID, req.AgentID, req.NewPrice, req.NewQty)
	if err != nil {
		s.fail(c, err)
		return
	}
	code := http.StatusOK
	if !res.Accepted {
		code = statusFor(res.Err)
	}
	c.JSON(code, dto.ModifyOrderResponse{ReplacedOrderID: req.OrderID, SubmitOrderResponse: dto.FromResult(res)})
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ok, err := s.Eng.CancelOrder(c.Request.Context(), req.OrderID, req.AgentID)
	if err != nil {
		c.JSON(statusFor(err), dto.CancelOrderResponse{OrderID: req.OrderID, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.CancelOrderResponse{OrderID: req.OrderID, Cancelled: ok})
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.Eng.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.GetOrderResponse{Order: dto.FromOrder(o)})
}

func (s *HTTPServer) getTrades(c *gin.Context) {
	trades, err := s.Eng.GetTradesForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.GetTradesResponse{Trades: dto.FromTrades(trades)})
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	depth, err := intQuery(c, "depth", defaultDepth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ob, err := s.Eng.GetOrderBook(c.Request.Context(), symbol, depth)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromSnapshot(ob))
}

func (s *HTTPServer) recentTrades(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultTradesLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.GetTradesResponse{Trades: dto.FromTrades(s.Eng.Trades(c.Query("symbol"), limit))})
}

func (s *HTTPServer) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Eng.GetMarketStats())
}

func (s *HTTPServer) halt(c *gin.Context) {
	var req dto.HaltRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual halt"
	}
	if err := s.Eng.Halt(req.Symbol, reason); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.HaltResponse{Symbol: req.Symbol, Halted: true})
}

func (s *HTTPServer) resume(c *gin.Context) {
	var req dto.HaltRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Eng.Resume(req.Symbol); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.HaltResponse{Symbol: req.Symbol, Halted: false})
}

func (s *HTTPServer) deposit(c *gin.Context) {
	var req dto.BalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Eng.Deposit(c.Request.Context(), req.AgentID, req.Asset, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Eng.Balance(req.AgentID, req.Asset))
}

func (s *HTTPServer) withdraw(c *gin.Context) {
	var req dto.BalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Eng.Withdraw(c.Request.Context(), req.AgentID, req.Asset, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Eng.Balance(req.AgentID, req.Asset))
}

func (s *HTTPServer) balances(c *gin.Context) {
	agent := c.Param("agent")
	c.JSON(http.StatusOK, dto.BalancesResponse{AgentID: agent, Balances: s.Eng.Balances(agent)})
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}
