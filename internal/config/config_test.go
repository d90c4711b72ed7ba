package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  http_addr: ":18080"
  rate_limit: 50ms
log:
  level: debug
engine:
  sweep_interval: 250ms
  cancel_market_remainder: true
  circuit_breaker:
    enabled: true
    max_move_percent: "5"
    window: 30s
risk:
  max_position: "10"
  max_order_size: "2.5"
pairs:
  - base: btc
    quote: usd
    min_order_size: "0.01"
    max_order_size: "1000"
    price_precision: 2
    quantity_precision: 4
    taker_fee: "0.001"
strategies:
  - id: mm-1
    kind: market_maker
    symbol: BTC/USD
    quantity_per_quote: "0.5"
    half_spread_bps: "10"
    balances:
      - asset: USD
        amount: "100000"
  - id: arb-1
    kind: arbitrage
    symbol: BTC/USD
    min_profit_bps: "25"
    quantity: "0.1"
venues:
  - symbol: BTC/USD
    venue: binance
    price: "64000.5"
accounts:
  - agent: lp
    asset: BTC
    amount: "50"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exchange.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "exchange.trades", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, 1024, cfg.Pipeline.QueueSize)
	assert.True(t, cfg.Pipeline.Enabled)
	assert.Empty(t, cfg.Pairs)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, 50*time.Millisecond, cfg.Server.RateLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.SweepInterval)
	assert.True(t, cfg.Engine.CancelMarketRemainder)

	br, err := cfg.Engine.Breaker()
	require.NoError(t, err)
	assert.True(t, br.Enabled)
	assert.True(t, br.MaxMovePercent.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 30*time.Second, br.Window)

	limits, err := cfg.Risk.Limits()
	require.NoError(t, err)
	assert.True(t, limits.MaxPosition.Equal(decimal.NewFromInt(10)))
	assert.True(t, limits.MaxOrderSize.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, limits.DailyLossLimit.IsZero())

	require.Len(t, cfg.Pairs, 1)
	pair, err := cfg.Pairs[0].TradingPair()
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", pair.Symbol())
	assert.Equal(t, domain.Spot, pair.MarketType)
	assert.Equal(t, int32(4), pair.QuantityPrecision)

	require.Len(t, cfg.Strategies, 2)
	spec, err := cfg.Strategies[0].Spec()
	require.NoError(t, err)
	assert.Equal(t, strategy.KindMarketMaker, spec.Kind)
	assert.True(t, spec.MarketMaker.QuantityPerQuote.Equal(decimal.RequireFromString("0.5")))
	require.Len(t, cfg.Strategies[0].Balances, 1)
	assert.Equal(t, "USD", cfg.Strategies[0].Balances[0].Asset)

	spec, err = cfg.Strategies[1].Spec()
	require.NoError(t, err)
	assert.True(t, spec.Arbitrage.Quantity.Equal(decimal.RequireFromString("0.1")))

	venues, err := cfg.VenueQuotes()
	require.NoError(t, err)
	assert.True(t, venues["BTC/USD"]["binance"].Equal(decimal.RequireFromString("64000.5")))

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "lp", cfg.Accounts[0].Agent)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXCHANGE_POSTGRES_DSN", "postgres://exchange@localhost/exchange")
	t.Setenv("EXCHANGE_SERVER_HTTP_ADDR", ":28080")
	t.Setenv("EXCHANGE_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "postgres://exchange@localhost/exchange", cfg.Postgres.DSN)
	assert.Equal(t, ":28080", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad decimal", "risk:\n  max_position: lots\n"},
		{"bad pair", "pairs:\n  - base: BTC\n    quote: BTC\n    min_order_size: \"1\"\n    max_order_size: \"2\"\n"},
		{"unknown strategy kind", "strategies:\n  - id: x\n    kind: martingale\n    symbol: BTC/USD\n"},
		{"duplicate strategy", "strategies:\n  - {id: a, kind: arbitrage, symbol: BTC/USD, min_profit_bps: \"1\", quantity: \"1\"}\n  - {id: a, kind: arbitrage, symbol: BTC/USD, min_profit_bps: \"1\", quantity: \"1\"}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
