package market

import (
	"testing"
	"time"
)

func benchAggregator(b *testing.B) *Aggregator {
	agg, err := NewAggregator([]Interval{Interval30s, Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d})
	if err != nil {
		b.Fatalf("aggregator: %v", err)
	}
	return agg
}

// BenchmarkAggregatorOnTrade 单 symbol、7 个周期，每 10ms 一笔成交
func BenchmarkAggregatorOnTrade(b *testing.B) {
	agg := benchAggregator(b)
	tr := Trade{Symbol: "BTCUSDT", Price: 6_732_145_000_000, Bid: 6_718_680_000_000, Ask: 6_745_609_000_000, Quantity: 0.5, Timestamp: 1_700_000_000_000}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Timestamp += 10
		tr.Price += int64(i%7) - 3
		if _, err := agg.OnTrade(tr); err != nil {
			b.Fatalf("on trade: %v", err)
		}
	}
}

// BenchmarkAggregatorSnapshotParallel 广播读快照与成交写入并发
func BenchmarkAggregatorSnapshotParallel(b *testing.B) {
	agg := benchAggregator(b)
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	ts := time.Now().UnixMilli()
	for _, s := range symbols {
		if _, err := agg.OnTrade(Trade{Symbol: s, Price: 100, Bid: 99, Ask: 101, Quantity: 1, Timestamp: ts}); err != nil {
			b.Fatalf("seed: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, ok := agg.Snapshot(symbols[i%len(symbols)], Interval1m); !ok {
				b.Errorf("missing snapshot")
				return
			}
			i++
		}
	})
}
