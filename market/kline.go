package market

import "time"

// Candle 某 (symbol, interval) 在一个时间桶内的 OHLC。
type Candle struct {
	Symbol      string
	Interval    Interval
	BucketStart int64
	Open        int64
	High        int64
	Low         int64
	Close       int64
	Volume      float64
	Trades      int64
}

func newCandle(tr Trade, iv Interval, bucket int64) *Candle {
	return &Candle{
		Symbol:      tr.Symbol,
		Interval:    iv,
		BucketStart: bucket,
		Open:        tr.Price,
		High:        tr.Price,
		Low:         tr.Price,
		Close:       tr.Price,
		Volume:      tr.Quantity,
		Trades:      1,
	}
}

// apply 同一时间桶内的成交：open 不变。
func (c *Candle) apply(tr Trade) {
	if tr.Price > c.High {
		c.High = tr.Price
	}
	if tr.Price < c.Low {
		c.Low = tr.Price
	}
	c.Close = tr.Price
	c.Volume += tr.Quantity
	c.Trades++
}

// End 时间桶结束时刻（毫秒，开区间）。
func (c Candle) End() int64 { return c.BucketStart + c.Interval.Millis() }

func (c Candle) Time() time.Time { return time.UnixMilli(c.BucketStart).UTC() }
