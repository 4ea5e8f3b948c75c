package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultBroadcastPeriod 快照广播周期。
const DefaultBroadcastPeriod = 250 * time.Millisecond

// EventSink 接收 K 线事件。
type EventSink interface {
	Emit(ctx context.Context, ev CandleEvent) error
}

// SnapshotReader 只读访问当前 K 线。
type SnapshotReader interface {
	Snapshot(symbol string, iv Interval) (Candle, bool)
}

type broadcastPair struct {
	Pair
	interval Interval
}

// Broadcaster 定时把配置的 (symbol, timeframe) 当前 K 线推送到广播 topic。
type Broadcaster struct {
	reader SnapshotReader
	sink   EventSink
	period time.Duration

	mu    sync.RWMutex
	pairs []broadcastPair

	onEmit  func(CandleEvent)
	onError func(Pair, error)
}

func NewBroadcaster(reader SnapshotReader, sink EventSink, period time.Duration) *Broadcaster {
	if period <= 0 {
		period = DefaultBroadcastPeriod
	}
	return &Broadcaster{reader: reader, sink: sink, period: period}
}

// SetPairs 替换广播列表；重复项只保留一个。
func (b *Broadcaster) SetPairs(pairs []Pair) error {
	seen := make(map[candleKey]struct{}, len(pairs))
	resolved := make([]broadcastPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Symbol == "" {
			return fmt.Errorf("broadcast pair with empty symbol")
		}
		iv, err := ParseInterval(p.Timeframe)
		if err != nil {
			return fmt.Errorf("broadcast pair %s: %w", p.Symbol, err)
		}
		key := candleKey{symbol: p.Symbol, interval: iv}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		resolved = append(resolved, broadcastPair{Pair: Pair{Symbol: p.Symbol, Timeframe: iv.Label()}, interval: iv})
	}
	b.mu.Lock()
	b.pairs = resolved
	b.mu.Unlock()
	return nil
}

// Pairs 当前广播列表。
func (b *Broadcaster) Pairs() []Pair {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Pair, len(b.pairs))
	for i, p := range b.pairs {
		out[i] = p.Pair
	}
	return out
}

func (b *Broadcaster) SetEmitListener(fn func(CandleEvent)) { b.onEmit = fn }

func (b *Broadcaster) SetErrorListener(fn func(Pair, error)) { b.onError = fn }

// Tick 执行一轮广播，返回成功发出的事件数。没有 K 线的 pair 不发送。
func (b *Broadcaster) Tick(ctx context.Context, now time.Time) int {
	b.mu.RLock()
	pairs := b.pairs
	b.mu.RUnlock()

	sent := 0
	for _, p := range pairs {
		c, ok := b.reader.Snapshot(p.Symbol, p.interval)
		if !ok {
			continue
		}
		ev := NewCandleEvent(c, SourceSnapshot, now)
		if err := b.sink.Emit(ctx, ev); err != nil {
			if b.onError != nil {
				b.onError(p.Pair, err)
			}
			continue
		}
		sent++
		if b.onEmit != nil {
			b.onEmit(ev)
		}
	}
	return sent
}

// Run 按周期广播，直到 ctx 取消。
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			b.Tick(ctx, now)
		}
	}
}
