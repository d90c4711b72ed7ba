package pg

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/port"
)

//go:embed schema.sql
var schema string

var _ port.Repository = (*PgRepo)(nil)

// execer is satisfied by both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finish to work with database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate creates the orders, trades and balances tables if they are missing.
func (p *PgRepo) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}

const upsertOrder = `
INSERT INTO orders(id, agent_id, symbol, side, type, quantity, price, stop_price, activated,
                   filled_quantity, status, reason, ttl_ns, seq, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  price = EXCLUDED.price,
  activated = EXCLUDED.activated,
  filled_quantity = EXCLUDED.filled_quantity,
  status = EXCLUDED.status,
  reason = EXCLUDED.reason,
  updated_at = EXCLUDED.updated_at
`

const insertTrade = `
INSERT INTO trades(id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id, maker_order_id,
                   taker_side, price, quantity, maker_fee, taker_fee, seq, executed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING
`

const upsertBalance = `
INSERT INTO balances(agent_id, asset, available, locked)
VALUES($1,$2,$3,$4)
ON CONFLICT (agent_id, asset) DO UPDATE SET
  available = EXCLUDED.available,
  locked = EXCLUDED.locked
`

func saveOrder(ctx context.Context, db execer, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	var ttl *int64
	if o.TTL != nil {
		ns := o.TTL.Nanoseconds()
		ttl = &ns
	}
	_, err := db.Exec(ctx, upsertOrder,
		o.ID, o.AgentID, o.Symbol, string(o.Side), string(o.Type),
		o.Quantity, o.Price, o.StopPrice, o.Activated,
		o.FilledQuantity, string(o.Status), o.Reason, ttl, int64(o.Seq), o.CreatedAt, o.UpdatedAt)
	return err
}

func saveTrade(ctx context.Context, db execer, t *domain.Trade) error {
	if t == nil {
		return errors.New("nil trade")
	}
	_, err := db.Exec(ctx, insertTrade,
		t.ID, t.Symbol, t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID, t.MakerOrderID,
		string(t.TakerSide), t.Price, t.Quantity, t.MakerFee, t.TakerFee, int64(t.Seq), t.Timestamp)
	return err
}

func saveBalance(ctx context.Context, db execer, b *domain.Balance) error {
	if b == nil {
		return errors.New("nil balance")
	}
	_, err := db.Exec(ctx, upsertBalance, b.AgentID, b.Asset, b.Available, b.Locked)
	return err
}

func (p *PgRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	return saveOrder(ctx, p.pool, o)
}

func (p *PgRepo) SaveTrade(ctx context.Context, t *domain.Trade) error {
	return saveTrade(ctx, p.pool, t)
}

func (p *PgRepo) SaveBalance(ctx context.Context, b *domain.Balance) error {
	return saveBalance(ctx, p.pool, b)
}

// LoadOpenOrders returns open orders for a symbol ordered by seq ASC (FIFO)
func (p *PgRepo) LoadOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, agent_id, symbol, side, type, quantity, price, stop_price, activated,
       filled_quantity, status, reason, ttl_ns, seq, created_at, updated_at
FROM orders
WHERE symbol = $1 AND status IN ('PENDING', 'PARTIAL') AND quantity > filled_quantity
ORDER BY seq ASC
`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		var o domain.Order
		var side, typ, status string
		var ttl *int64
		var seq int64
		if err := rows.Scan(&o.ID, &o.AgentID, &o.Symbol, &side, &typ, &o.Quantity, &o.Price, &o.StopPrice,
			&o.Activated, &o.FilledQuantity, &status, &o.Reason, &ttl, &seq, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(typ)
		o.Status = domain.OrderStatus(status)
		o.Seq = uint64(seq)
		if ttl != nil {
			d := time.Duration(*ttl)
			o.TTL = &d
		}
		res = append(res, &o)
	}
	return res, rows.Err()
}

func (p *PgRepo) LoadBalances(ctx context.Context) ([]*domain.Balance, error) {
	rows, err := p.pool.Query(ctx, `SELECT agent_id, asset, available, locked FROM balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.AgentID, &b.Asset, &b.Available, &b.Locked); err != nil {
			return nil, err
		}
		res = append(res, &b)
	}
	return res, rows.Err()
}

const selectTrades = `
SELECT id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id, maker_order_id,
       taker_side, price, quantity, maker_fee, taker_fee, seq, executed_at
FROM trades
`

func (p *PgRepo) LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	rows, err := p.pool.Query(ctx, selectTrades+`
WHERE buy_order_id = $1 OR sell_order_id = $1
ORDER BY seq ASC
`, orderID)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

// LoadRecentTrades returns the latest limit trades of symbol, oldest first.
func (p *PgRepo) LoadRecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	rows, err := p.pool.Query(ctx, `SELECT * FROM (`+selectTrades+`
WHERE symbol = $1
ORDER BY seq DESC
LIMIT $2
) recent ORDER BY seq ASC
`, symbol, limit)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func (p *PgRepo) LastTradeSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM trades`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("pg: last trade seq: %w", err)
	}
	return uint64(seq), nil
}

func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	defer rows.Close()
	var res []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		var seq int64
		if err := rows.Scan(&t.ID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
			&t.MakerOrderID, &side, &t.Price, &t.Quantity, &t.MakerFee, &t.TakerFee, &seq, &t.Timestamp); err != nil {
			return nil, err
		}
		t.TakerSide = domain.Side(side)
		t.Seq = uint64(seq)
		res = append(res, &t)
	}
	return res, rows.Err()
}

func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	return saveOrder(ctx, t.tx, o)
}

func (t *pgTx) SaveTrade(ctx context.Context, tr *domain.Trade) error {
	return saveTrade(ctx, t.tx, tr)
}

func (t *pgTx) SaveBalance(ctx context.Context, b *domain.Balance) error {
	return saveBalance(ctx, t.tx, b)
}

func (t *pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
