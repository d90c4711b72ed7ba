package core

import (
	"context"
	"fmt"

	"github.com/olyamironova/exchange-core/internal/metrics"
	"github.com/olyamironova/exchange-core/internal/port"
	"go.uber.org/zap"
)

// persist writes one flushed batch in a single repository transaction. A
// failed write or commit rolls the transaction back; rollback failures are
// only logged since the batch error is what the caller acts on.
func (e *Engine) persist(ctx context.Context, b *batch) (err error) {
	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		metrics.PersistBatches.WithLabelValues("failed").Inc()
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err == nil {
			metrics.PersistBatches.WithLabelValues("committed").Inc()
			return
		}
		metrics.PersistBatches.WithLabelValues("failed").Inc()
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.Error("rollback failed", zap.Uint64("batch", b.ticket), zap.Error(rbErr))
		}
	}()

	if err = writeBatch(ctx, tx, b); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func writeBatch(ctx context.Context, tx port.Tx, b *batch) error {
	for i := range b.orders {
		if err := tx.SaveOrder(ctx, &b.orders[i]); err != nil {
			return fmt.Errorf("save order %s: %w", b.orders[i].ID, err)
		}
	}
	for i := range b.trades {
		if err := tx.SaveTrade(ctx, &b.trades[i]); err != nil {
			return fmt.Errorf("save trade %s: %w", b.trades[i].ID, err)
		}
	}
	for i := range b.balances {
		if err := tx.SaveBalance(ctx, &b.balances[i]); err != nil {
			return fmt.Errorf("save balance %s/%s: %w", b.balances[i].AgentID, b.balances[i].Asset, err)
		}
	}
	return nil
}
