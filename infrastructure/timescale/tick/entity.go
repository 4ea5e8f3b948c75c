package tick

import (
	"time"

	"candle-engine/market"
)

// Tick ticks 表的一行。
type Tick struct {
	Time     time.Time
	Symbol   string
	Price    int64
	Bid      int64
	Ask      int64
	Quantity float64
}

func FromTrade(tr market.Trade) *Tick {
	return &Tick{
		Time:     tr.Time(),
		Symbol:   tr.Symbol,
		Price:    tr.Price,
		Bid:      tr.Bid,
		Ask:      tr.Ask,
		Quantity: tr.Quantity,
	}
}
