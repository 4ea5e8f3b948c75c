package candle

import (
	"context"
	"fmt"

	"candle-engine/infrastructure/timescale"
)

const (
	upsertCandle = `INSERT INTO candles (time, symbol, timeframe, open, high, low, close, volume, trades)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (symbol, timeframe, time) DO UPDATE SET
    open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
    volume = EXCLUDED.volume, trades = EXCLUDED.trades`

	selectRecent = `SELECT time, symbol, timeframe, open, high, low, close, volume, trades
FROM candles WHERE symbol = $1 AND timeframe = $2
ORDER BY time DESC LIMIT $3`
)

// Repository 闭合 K 线的读写。
type Repository struct {
	client timescale.DBClient
}

func NewRepository(client timescale.DBClient) *Repository {
	return &Repository{client: client}
}

// Store 写入闭合 K 线；同一 (symbol, timeframe, time) 覆盖旧值。
func (r *Repository) Store(ctx context.Context, c *Candle) error {
	err := r.client.Exec(ctx, upsertCandle,
		c.Time, c.Symbol, c.Timeframe, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades)
	if err != nil {
		return fmt.Errorf("store candle %s %s: %w", c.Symbol, c.Timeframe, err)
	}
	return nil
}

// Recent 返回最近 limit 根 K 线，新的在前。
func (r *Repository) Recent(ctx context.Context, symbol, timeframe string, limit int) ([]*Candle, error) {
	rows, err := r.client.Query(ctx, selectRecent, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query candles %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	out := make([]*Candle, 0, limit)
	for rows.Next() {
		c := &Candle{}
		if err := rows.Scan(&c.Time, &c.Symbol, &c.Timeframe, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return out, nil
}
