package market

import "time"

const (
	SourceSnapshot  = "snapshot"
	SourceCompleted = "completed"
)

// CandleEvent 广播 topic 与完成 topic 上的消息体。
type CandleEvent struct {
	Time      int64   `json:"time"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Open      int64   `json:"open"`
	High      int64   `json:"high"`
	Low       int64   `json:"low"`
	Close     int64   `json:"close"`
	Volume    float64 `json:"volume,omitempty"`
	Source    string  `json:"source"`
	Timestamp int64   `json:"timestamp"`
}

func NewCandleEvent(c Candle, source string, now time.Time) CandleEvent {
	return CandleEvent{
		Time:      c.BucketStart,
		Symbol:    c.Symbol,
		Timeframe: c.Interval.Label(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Source:    source,
		Timestamp: now.UnixMilli(),
	}
}

// Pair 需要定时广播快照的 (symbol, timeframe)。
type Pair struct {
	Symbol    string
	Timeframe string
}
