package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTrade 成交记录缺字段或数值非法。
var ErrInvalidTrade = errors.New("invalid trade")

// Trade 标准化后的成交；price/bid/ask 使用同一定点精度的整数。
type Trade struct {
	Symbol    string  `json:"symbol"`
	Price     int64   `json:"price"`
	Bid       int64   `json:"bid"`
	Ask       int64   `json:"ask"`
	Quantity  float64 `json:"quantity"`
	Timestamp int64   `json:"timestamp"`
}

// Validate 检查聚合前必须满足的条件。
func (t Trade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidTrade)
	}
	if t.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %d", ErrInvalidTrade, t.Price)
	}
	if t.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidTrade, t.Timestamp)
	}
	if t.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity %v", ErrInvalidTrade, t.Quantity)
	}
	if t.Bid != 0 || t.Ask != 0 {
		if t.Bid > t.Price || t.Ask < t.Price {
			return fmt.Errorf("%w: quote %d/%d does not bracket price %d", ErrInvalidTrade, t.Bid, t.Ask, t.Price)
		}
	}
	return nil
}

// Time 返回成交时间（UTC）。
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

type wireTrade struct {
	Symbol    *string `json:"symbol"`
	Price     *int64  `json:"price"`
	Bid       int64   `json:"bid"`
	Ask       int64   `json:"ask"`
	Quantity  float64 `json:"quantity"`
	Timestamp *int64  `json:"timestamp"`
}

// DecodeTrade 解析 trade topic 上的消息，缺少 symbol/price/timestamp 视为非法。
func DecodeTrade(payload []byte) (Trade, error) {
	var w wireTrade
	if err := json.Unmarshal(payload, &w); err != nil {
		return Trade{}, fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}
	switch {
	case w.Symbol == nil:
		return Trade{}, fmt.Errorf("%w: missing symbol", ErrInvalidTrade)
	case w.Price == nil:
		return Trade{}, fmt.Errorf("%w: missing price", ErrInvalidTrade)
	case w.Timestamp == nil:
		return Trade{}, fmt.Errorf("%w: missing timestamp", ErrInvalidTrade)
	}
	tr := Trade{
		Symbol:    *w.Symbol,
		Price:     *w.Price,
		Bid:       w.Bid,
		Ask:       w.Ask,
		Quantity:  w.Quantity,
		Timestamp: *w.Timestamp,
	}
	return tr, tr.Validate()
}
