package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []CandleEvent
	err    error
}

func (s *recordingSink) Emit(_ context.Context, ev CandleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []CandleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CandleEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestBroadcasterTickEmitsPresentPairsOnly(t *testing.T) {
	agg, _ := NewAggregator([]Interval{Interval30s, Interval1m})
	_, _ = agg.OnTrade(trade("BTCUSDT", 100, 1000))

	sink := &recordingSink{}
	b := NewBroadcaster(agg, sink, 0)
	if err := b.SetPairs([]Pair{
		{Symbol: "BTCUSDT", Timeframe: "30s"},
		{Symbol: "BTCUSDT", Timeframe: "1m"},
		{Symbol: "BTCUSDT", Timeframe: "30s"},
		{Symbol: "ETHUSDT", Timeframe: "1m"},
	}); err != nil {
		t.Fatalf("set pairs: %v", err)
	}

	now := time.UnixMilli(5000)
	if n := b.Tick(context.Background(), now); n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Symbol != "BTCUSDT" || ev.Source != SourceSnapshot || ev.Timestamp != 5000 || ev.Close != 100 {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	if events[0].Timeframe != "30s" || events[1].Timeframe != "1m" {
		t.Fatalf("unexpected timeframes %s/%s", events[0].Timeframe, events[1].Timeframe)
	}
}

func TestBroadcasterSetPairsRejectsUnknownTimeframe(t *testing.T) {
	agg, _ := NewAggregator([]Interval{Interval1m})
	b := NewBroadcaster(agg, &recordingSink{}, time.Second)
	if err := b.SetPairs([]Pair{{Symbol: "BTCUSDT", Timeframe: "fortnight"}}); err == nil {
		t.Fatalf("expected error")
	}
	if err := b.SetPairs([]Pair{{Timeframe: "1m"}}); err == nil {
		t.Fatalf("expected error for empty symbol")
	}
}

func TestBroadcasterReportsSinkErrors(t *testing.T) {
	agg, _ := NewAggregator([]Interval{Interval1m})
	_, _ = agg.OnTrade(trade("BTCUSDT", 100, 1000))
	sink := &recordingSink{err: errors.New("bus down")}
	b := NewBroadcaster(agg, sink, time.Second)
	_ = b.SetPairs([]Pair{{Symbol: "BTCUSDT", Timeframe: "1m"}})

	var failed []Pair
	b.SetErrorListener(func(p Pair, err error) { failed = append(failed, p) })
	if n := b.Tick(context.Background(), time.Now()); n != 0 {
		t.Fatalf("expected no successful emits, got %d", n)
	}
	if len(failed) != 1 || failed[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected failures %+v", failed)
	}
}

func TestBroadcasterRunStopsOnCancel(t *testing.T) {
	agg, _ := NewAggregator([]Interval{Interval1m})
	_, _ = agg.OnTrade(trade("BTCUSDT", 100, 1000))
	sink := &recordingSink{}
	b := NewBroadcaster(agg, sink, 5*time.Millisecond)
	_ = b.SetPairs([]Pair{{Symbol: "BTCUSDT", Timeframe: "1m"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(sink.Events()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("no snapshot broadcast")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("broadcaster did not stop")
	}
}
