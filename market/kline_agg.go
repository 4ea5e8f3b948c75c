package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type candleKey struct {
	symbol   string
	interval Interval
}

// Update 一笔成交对所有周期造成的结果。
type Update struct {
	// Completed 因时间桶前移而闭合的 K 线（旧桶最终值的拷贝）。
	Completed []Candle
	// Late 时间桶早于当前 K 线、被忽略的周期。
	Late []Interval
}

// Aggregator 从成交流同时生成多个周期的 K 线。
// OnTrade 整笔持有写锁，读取快照持有读锁，因此不会读到半更新状态。
type Aggregator struct {
	intervals []Interval

	mu        sync.RWMutex
	live      map[candleKey]*Candle
	watermark map[candleKey]int64
}

func NewAggregator(intervals []Interval) (*Aggregator, error) {
	if len(intervals) == 0 {
		return nil, errors.New("aggregator requires at least one interval")
	}
	seen := make(map[Interval]struct{}, len(intervals))
	ivs := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv <= 0 {
			return nil, fmt.Errorf("invalid interval %d", iv)
		}
		if _, ok := seen[iv]; ok {
			continue
		}
		seen[iv] = struct{}{}
		ivs = append(ivs, iv)
	}
	return &Aggregator{
		intervals: ivs,
		live:      make(map[candleKey]*Candle),
		watermark: make(map[candleKey]int64),
	}, nil
}

// Intervals 返回配置的周期（拷贝）。
func (a *Aggregator) Intervals() []Interval {
	out := make([]Interval, len(a.intervals))
	copy(out, a.intervals)
	return out
}

// OnTrade 把成交应用到每个周期。非法成交直接返回错误，不修改任何状态。
func (a *Aggregator) OnTrade(tr Trade) (Update, error) {
	if err := tr.Validate(); err != nil {
		return Update{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var up Update
	for _, iv := range a.intervals {
		key := candleKey{symbol: tr.Symbol, interval: iv}
		bucket := iv.BucketStart(tr.Timestamp)
		cur, ok := a.live[key]
		switch {
		case !ok:
			if wm, finalized := a.watermark[key]; finalized {
				if bucket <= wm {
					up.Late = append(up.Late, iv)
					continue
				}
				delete(a.watermark, key)
			}
			a.live[key] = newCandle(tr, iv, bucket)
		case bucket == cur.BucketStart:
			cur.apply(tr)
		case bucket > cur.BucketStart:
			up.Completed = append(up.Completed, *cur)
			a.live[key] = newCandle(tr, iv, bucket)
		default:
			up.Late = append(up.Late, iv)
		}
	}
	return up, nil
}

// Snapshot 返回当前 K 线的拷贝。
func (a *Aggregator) Snapshot(symbol string, iv Interval) (Candle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.live[candleKey{symbol: symbol, interval: iv}]
	if !ok {
		return Candle{}, false
	}
	return *c, true
}

// Snapshots 返回全部当前 K 线的拷贝，按 symbol、interval 排序。
func (a *Aggregator) Snapshots() []Candle {
	a.mu.RLock()
	out := make([]Candle, 0, len(a.live))
	for _, c := range a.live {
		out = append(out, *c)
	}
	a.mu.RUnlock()
	sortCandles(out)
	return out
}

// Len 当前活跃 K 线数量。
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.live)
}

// FinalizeIdle 闭合桶结束时间早于 now-grace 的 K 线，并记录水位，
// 之后落在该桶及更早桶的成交按迟到处理。
func (a *Aggregator) FinalizeIdle(now time.Time, grace time.Duration) []Candle {
	cutoff := now.UnixMilli() - grace.Milliseconds()

	a.mu.Lock()
	var out []Candle
	for key, c := range a.live {
		if c.End() > cutoff {
			continue
		}
		out = append(out, *c)
		a.watermark[key] = c.BucketStart
		delete(a.live, key)
	}
	a.mu.Unlock()

	sortCandles(out)
	return out
}

func sortCandles(cs []Candle) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Symbol != cs[j].Symbol {
			return cs[i].Symbol < cs[j].Symbol
		}
		return cs[i].Interval < cs[j].Interval
	})
}
