package container

import (
	"errors"
	"time"

	"candle-engine/infrastructure/logger"
	"candle-engine/infrastructure/monitor"
	"candle-engine/market"
)

// engineObserver 聚合计数写 Prometheus，关键事件写结构化日志。
type engineObserver struct {
	m   *monitor.Monitor
	log *logger.Logger
}

func (o engineObserver) TradeApplied(tr market.Trade, elapsed time.Duration) {
	o.m.TradeApplied(tr, elapsed)
}

func (o engineObserver) TradeRejected(reason string) { o.m.TradeRejected(reason) }

func (o engineObserver) TradeLate(symbol string, iv market.Interval) {
	o.m.TradeLate(symbol, iv)
	o.log.LogCandle("trade_late", map[string]interface{}{
		"symbol":    symbol,
		"timeframe": iv.Label(),
	})
}

func (o engineObserver) CandleCompleted(c market.Candle) {
	o.m.CandleCompleted(c)
	o.log.LogCandle("candle_completed", map[string]interface{}{
		"symbol":    c.Symbol,
		"timeframe": c.Interval.Label(),
		"time":      c.BucketStart,
		"close":     c.Close,
	})
}

// serviceErrorLogger 区分非法成交与下游发布失败。
func serviceErrorLogger(log *logger.Logger) func(error) {
	return func(err error) {
		if errors.Is(err, market.ErrInvalidTrade) {
			log.LogTrade("trade_rejected", map[string]interface{}{
				"reason": "invalid",
				"error":  err.Error(),
			})
			return
		}
		log.LogError(err, map[string]interface{}{"component": "aggregator"})
	}
}

func broadcastErrorLogger(log *logger.Logger) func(market.Pair, error) {
	return func(p market.Pair, err error) {
		log.LogError(err, map[string]interface{}{
			"component": "broadcaster",
			"symbol":    p.Symbol,
			"timeframe": p.Timeframe,
		})
	}
}
