package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/engine"
	"github.com/olyamironova/exchange-core/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "EXCHANGE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Pairs      []PairConfig     `mapstructure:"pairs"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Venues     []VenueConfig    `mapstructure:"venues"`
	Accounts   []AccountConfig  `mapstructure:"accounts"`
}

type ServerConfig struct {
	HTTPAddr  string        `mapstructure:"http_addr"`
	GRPCAddr  string        `mapstructure:"grpc_addr"`
	RateLimit time.Duration `mapstructure:"rate_limit"` // minimum gap between requests of one client
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// PostgresConfig: an empty DSN keeps orders, trades and balances in memory.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig: an empty Addr uses the in-process snapshot cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig: no brokers disables trade publishing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type EngineConfig struct {
	SweepInterval         time.Duration        `mapstructure:"sweep_interval"`
	CancelMarketRemainder bool                 `mapstructure:"cancel_market_remainder"`
	CircuitBreaker        CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxMovePercent string        `mapstructure:"max_move_percent"`
	Window         time.Duration `mapstructure:"window"`
}

type PipelineConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	QueueSize    int           `mapstructure:"queue_size"`
	PopTimeout   time.Duration `mapstructure:"pop_timeout"`
	IdleSleep    time.Duration `mapstructure:"idle_sleep"`
}

type RiskConfig struct {
	MaxPosition    string `mapstructure:"max_position"`
	DailyLossLimit string `mapstructure:"daily_loss_limit"`
	MaxOrderSize   string `mapstructure:"max_order_size"`
}

type PairConfig struct {
	Base              string `mapstructure:"base"`
	Quote             string `mapstructure:"quote"`
	MarketType        string `mapstructure:"market_type"`
	MinOrderSize      string `mapstructure:"min_order_size"`
	MaxOrderSize      string `mapstructure:"max_order_size"`
	PricePrecision    int32  `mapstructure:"price_precision"`
	QuantityPrecision int32  `mapstructure:"quantity_precision"`
	MakerFee          string `mapstructure:"maker_fee"`
	TakerFee          string `mapstructure:"taker_fee"`
}

// StrategyConfig is one strategy instance. Only the parameters of its kind
// are read. Balances are deposited to the strategy's own account at startup.
type StrategyConfig struct {
	ID       string          `mapstructure:"id"`
	Kind     string          `mapstructure:"kind"`
	Symbol   string          `mapstructure:"symbol"`
	Disabled bool            `mapstructure:"disabled"`
	Balances []BalanceConfig `mapstructure:"balances"`

	QuantityPerQuote string `mapstructure:"quantity_per_quote"`
	HalfSpreadBps    string `mapstructure:"half_spread_bps"`
	SkewFactor       string `mapstructure:"skew_factor"`
	MaxInventory     string `mapstructure:"max_inventory"`

	Window         int    `mapstructure:"window"`
	VolumeWindow   int    `mapstructure:"volume_window"`
	PriceThreshold string `mapstructure:"price_threshold"`
	VolumeMultiple string `mapstructure:"volume_multiple"`

	MinProfitBps string `mapstructure:"min_profit_bps"`
	Quantity     string `mapstructure:"quantity"`
}

type BalanceConfig struct {
	Asset  string `mapstructure:"asset"`
	Amount string `mapstructure:"amount"`
}

// AccountConfig seeds an agent balance at startup.
type AccountConfig struct {
	Agent  string `mapstructure:"agent"`
	Asset  string `mapstructure:"asset"`
	Amount string `mapstructure:"amount"`
}

// VenueConfig is a fixed external quote used by arbitrage strategies.
type VenueConfig struct {
	Symbol string `mapstructure:"symbol"`
	Venue  string `mapstructure:"venue"`
	Price  string `mapstructure:"price"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.rate_limit", 10*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "exchange.trades")
	v.SetDefault("engine.sweep_interval", time.Second)
	v.SetDefault("engine.cancel_market_remainder", false)
	v.SetDefault("engine.circuit_breaker.enabled", false)
	v.SetDefault("engine.circuit_breaker.max_move_percent", "10")
	v.SetDefault("engine.circuit_breaker.window", time.Minute)
	v.SetDefault("pipeline.enabled", true)
	v.SetDefault("pipeline.tick_interval", time.Second)
	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.pop_timeout", 100*time.Millisecond)
	v.SetDefault("pipeline.idle_sleep", 10*time.Millisecond)
	v.SetDefault("risk.max_position", "0")
	v.SetDefault("risk.daily_loss_limit", "0")
	v.SetDefault("risk.max_order_size", "0")
}

// Load reads path (YAML) when given, then applies EXCHANGE_* environment
// overrides, e.g. EXCHANGE_POSTGRES_DSN or EXCHANGE_SERVER_HTTP_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate parses every decimal and builds every strategy once so bad
// values fail at startup.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Engine.Breaker(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Risk.Limits(); err != nil {
		errs = append(errs, err)
	}
	for i, p := range c.Pairs {
		if _, err := p.TradingPair(); err != nil {
			errs = append(errs, fmt.Errorf("pairs[%d]: %w", i, err))
		}
	}
	seen := make(map[string]bool)
	for i, s := range c.Strategies {
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("strategies[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
		if _, err := s.Spec(); err != nil {
			errs = append(errs, fmt.Errorf("strategies[%d]: %w", i, err))
		}
		for _, b := range s.Balances {
			if _, err := parseDecimal("balance "+b.Asset, b.Amount); err != nil {
				errs = append(errs, fmt.Errorf("strategies[%d]: %w", i, err))
			}
		}
	}
	if _, err := c.VenueQuotes(); err != nil {
		errs = append(errs, err)
	}
	for i, a := range c.Accounts {
		if _, err := parseDecimal("amount", a.Amount); err != nil {
			errs = append(errs, fmt.Errorf("accounts[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, s)
	}
	return d, nil
}

func (e EngineConfig) Breaker() (core.BreakerConfig, error) {
	move, err := parseDecimal("engine.circuit_breaker.max_move_percent", e.CircuitBreaker.MaxMovePercent)
	if err != nil {
		return core.BreakerConfig{}, err
	}
	return core.BreakerConfig{
		Enabled:        e.CircuitBreaker.Enabled,
		MaxMovePercent: move,
		Window:         e.CircuitBreaker.Window,
	}, nil
}

func (r RiskConfig) Limits() (engine.RiskLimits, error) {
	var (
		l   engine.RiskLimits
		err error
	)
	if l.MaxPosition, err = parseDecimal("risk.max_position", r.MaxPosition); err != nil {
		return l, err
	}
	if l.DailyLossLimit, err = parseDecimal("risk.daily_loss_limit", r.DailyLossLimit); err != nil {
		return l, err
	}
	if l.MaxOrderSize, err = parseDecimal("risk.max_order_size", r.MaxOrderSize); err != nil {
		return l, err
	}
	return l, nil
}

func (p PipelineConfig) Runner(sweep time.Duration) engine.RunnerConfig {
	return engine.RunnerConfig{
		TickInterval:  p.TickInterval,
		PopTimeout:    p.PopTimeout,
		IdleSleep:     p.IdleSleep,
		SweepInterval: sweep,
	}
}

// TradingPair converts p; market type defaults to spot.
func (p PairConfig) TradingPair() (domain.TradingPair, error) {
	pair := domain.TradingPair{
		Base:              strings.ToUpper(p.Base),
		Quote:             strings.ToUpper(p.Quote),
		MarketType:        domain.MarketType(strings.ToUpper(p.MarketType)),
		PricePrecision:    p.PricePrecision,
		QuantityPrecision: p.QuantityPrecision,
	}
	if pair.MarketType == "" {
		pair.MarketType = domain.Spot
	}
	var err error
	if pair.MinOrderSize, err = parseDecimal("min_order_size", p.MinOrderSize); err != nil {
		return pair, err
	}
	if pair.MaxOrderSize, err = parseDecimal("max_order_size", p.MaxOrderSize); err != nil {
		return pair, err
	}
	if pair.MakerFee, err = parseDecimal("maker_fee", p.MakerFee); err != nil {
		return pair, err
	}
	if pair.TakerFee, err = parseDecimal("taker_fee", p.TakerFee); err != nil {
		return pair, err
	}
	return pair, pair.Validate()
}

func (s StrategyConfig) Spec() (strategy.Spec, error) {
	spec := strategy.Spec{ID: s.ID, Kind: s.Kind, Symbol: strings.ToUpper(s.Symbol)}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"quantity_per_quote", s.QuantityPerQuote, &spec.MarketMaker.QuantityPerQuote},
		{"half_spread_bps", s.HalfSpreadBps, &spec.MarketMaker.HalfSpreadBps},
		{"skew_factor", s.SkewFactor, &spec.MarketMaker.SkewFactor},
		{"max_inventory", s.MaxInventory, &spec.MarketMaker.MaxInventory},
		{"price_threshold", s.PriceThreshold, &spec.Momentum.PriceThreshold},
		{"volume_multiple", s.VolumeMultiple, &spec.Momentum.VolumeMultiple},
		{"quantity", s.Quantity, &spec.Momentum.Quantity},
		{"min_profit_bps", s.MinProfitBps, &spec.Arbitrage.MinProfitBps},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return spec, fmt.Errorf("strategy %s: %w", s.ID, err)
		}
		*f.dst = d
	}
	spec.Arbitrage.Quantity = spec.Momentum.Quantity
	spec.Momentum.Window = s.Window
	spec.Momentum.VolumeWindow = s.VolumeWindow
	if _, err := strategy.Build(spec); err != nil {
		return spec, err
	}
	return spec, nil
}

// VenueQuotes groups the configured external quotes by symbol.
func (c *Config) VenueQuotes() (engine.StaticVenues, error) {
	out := make(engine.StaticVenues)
	for i, vc := range c.Venues {
		p, err := parseDecimal("price", vc.Price)
		if err != nil {
			return nil, fmt.Errorf("venues[%d]: %w", i, err)
		}
		symbol := strings.ToUpper(vc.Symbol)
		if out[symbol] == nil {
			out[symbol] = make(map[string]decimal.Decimal)
		}
		out[symbol][vc.Venue] = p
	}
	return out, nil
}
