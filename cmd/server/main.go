package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olyamironova/exchange-core/internal/adapter/cache"
	"github.com/olyamironova/exchange-core/internal/adapter/in_memory"
	"github.com/olyamironova/exchange-core/internal/adapter/kafka"
	"github.com/olyamironova/exchange-core/internal/adapter/pg"
	apigrpc "github.com/olyamironova/exchange-core/internal/api/grpc"
	apihttp "github.com/olyamironova/exchange-core/internal/api/http"
	"github.com/olyamironova/exchange-core/internal/config"
	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/engine"
	"github.com/olyamironova/exchange-core/internal/logger"
	"github.com/olyamironova/exchange-core/internal/middleware"
	"github.com/olyamironova/exchange-core/internal/port"
	"github.com/olyamironova/exchange-core/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("EXCHANGE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("exchange stopped with error", zap.Error(err))
	}
	log.Info("exchange stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var repo port.Repository
	if cfg.Postgres.DSN != "" {
		pgRepo, err := pg.NewPgRepo(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pgRepo.Close()
		if err := pgRepo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		repo = pgRepo
		log.Info("using postgres repository")
	} else {
		repo = in_memory.NewMemoryRepo()
		log.Info("using in-memory repository")
	}

	var snapshotCache port.Cache = in_memory.NewCache()
	if cfg.Redis.Addr != "" {
		rc := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		defer func() { _ = rc.Close() }()
		if err := rc.Ping(ctx); err != nil {
			log.Warn("redis unreachable, snapshot writes will fail until it recovers", zap.Error(err))
		}
		snapshotCache = rc
	}

	breaker, err := cfg.Engine.Breaker()
	if err != nil {
		return err
	}
	opts := []core.Option{
		core.WithLogger(log),
		core.WithRepository(repo),
		core.WithCache(snapshotCache),
		core.WithCircuitBreaker(breaker),
		core.WithCancelMarketRemainder(cfg.Engine.CancelMarketRemainder),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewTradePublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer func() { _ = pub.Close() }()
		opts = append(opts, core.WithPublisher(pub))
	}
	eng := core.NewEngine(opts...)

	symbols := make([]string, 0, len(cfg.Pairs))
	for _, pc := range cfg.Pairs {
		p, err := pc.TradingPair()
		if err != nil {
			return err
		}
		if err := eng.RegisterTradingPair(p); err != nil {
			return err
		}
		symbols = append(symbols, p.Symbol())
	}

	stored, err := repo.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	if err := eng.Restore(ctx, symbols); err != nil {
		return err
	}
	// seed balances only on a fresh store, restored ones already include them
	if len(stored) == 0 {
		if err := seedBalances(ctx, eng, cfg); err != nil {
			return err
		}
	}

	strategies, err := buildStrategies(cfg)
	if err != nil {
		return err
	}

	rl := middleware.NewRateLimiter(cfg.Server.RateLimit)
	httpSrv := apihttp.NewHTTPServer(eng, rl, log)
	grpcSrv := apigrpc.NewGRPCServer(eng, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(ctx, cfg.Server.HTTPAddr) })
	g.Go(func() error { return grpcSrv.Run(ctx, cfg.Server.GRPCAddr) })
	g.Go(func() error { return pruneLoop(ctx, rl) })

	if cfg.Pipeline.Enabled && len(strategies) > 0 {
		venues, err := cfg.VenueQuotes()
		if err != nil {
			return err
		}
		limits, err := cfg.Risk.Limits()
		if err != nil {
			return err
		}
		runner, err := engine.NewRunner(
			eng,
			engine.NewMarketSource(eng, venues, log),
			engine.NewRiskManager(limits),
			engine.NewQueue(cfg.Pipeline.QueueSize),
			cfg.Pipeline.Runner(cfg.Engine.SweepInterval),
			log,
			strategies...,
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(ctx) })
	} else if cfg.Engine.SweepInterval > 0 {
		g.Go(func() error { return eng.RunSweeper(ctx, cfg.Engine.SweepInterval) })
	}

	log.Info("exchange started",
		zap.Strings("symbols", symbols),
		zap.Int("strategies", len(strategies)),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr))
	return g.Wait()
}

func seedBalances(ctx context.Context, eng *core.Engine, cfg *config.Config) error {
	deposit := func(agent, asset, amount string) error {
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("seed %s %s: %w", agent, asset, err)
		}
		return eng.Deposit(ctx, agent, asset, v)
	}
	for _, a := range cfg.Accounts {
		if err := deposit(a.Agent, a.Asset, a.Amount); err != nil {
			return err
		}
	}
	for _, s := range cfg.Strategies {
		for _, b := range s.Balances {
			if err := deposit(s.ID, b.Asset, b.Amount); err != nil {
				return err
			}
		}
	}
	return nil
}

func buildStrategies(cfg *config.Config) ([]strategy.Strategy, error) {
	out := make([]strategy.Strategy, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		spec, err := sc.Spec()
		if err != nil {
			return nil, err
		}
		s, err := strategy.Build(spec)
		if err != nil {
			return nil, err
		}
		s.SetActive(!sc.Disabled)
		out = append(out, s)
	}
	return out, nil
}

func pruneLoop(ctx context.Context, rl *middleware.RateLimiter) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Prune()
		}
	}
}
