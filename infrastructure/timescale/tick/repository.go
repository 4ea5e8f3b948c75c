package tick

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"candle-engine/infrastructure/timescale"
)

const insertTick = `INSERT INTO ticks (time, symbol, price, bid, ask, quantity) VALUES ($1, $2, $3, $4, $5, $6)`

var columns = []string{"time", "symbol", "price", "bid", "ask", "quantity"}

// Repository 成交明细的写入。
type Repository struct {
	client timescale.DBClient
}

func NewRepository(client timescale.DBClient) *Repository {
	return &Repository{client: client}
}

func (r *Repository) Store(ctx context.Context, t *Tick) error {
	if err := r.client.Exec(ctx, insertTick, t.Time, t.Symbol, t.Price, t.Bid, t.Ask, t.Quantity); err != nil {
		return fmt.Errorf("store tick %s: %w", t.Symbol, err)
	}
	return nil
}

// StoreBatch 使用 COPY 批量写入。
func (r *Repository) StoreBatch(ctx context.Context, ticks []*Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	_, err := r.client.CopyFrom(ctx, pgx.Identifier{"ticks"}, columns,
		pgx.CopyFromSlice(len(ticks), func(i int) ([]any, error) {
			t := ticks[i]
			return []any{t.Time, t.Symbol, t.Price, t.Bid, t.Ask, t.Quantity}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy %d ticks: %w", len(ticks), err)
	}
	return nil
}
