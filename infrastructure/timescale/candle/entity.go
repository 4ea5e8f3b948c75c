package candle

import (
	"time"

	"candle-engine/market"
)

// Candle candles 表的一行，timeframe 使用周期短名称（30s/1m/...）。
type Candle struct {
	Time      time.Time `json:"-"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Open      int64     `json:"open"`
	High      int64     `json:"high"`
	Low       int64     `json:"low"`
	Close     int64     `json:"close"`
	Volume    float64   `json:"volume"`
	Trades    int64     `json:"trades"`
}

func FromMarket(c market.Candle) *Candle {
	return &Candle{
		Time:      c.Time(),
		Symbol:    c.Symbol,
		Timeframe: c.Interval.Label(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Trades:    c.Trades,
	}
}
