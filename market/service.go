package market

import (
	"context"
	"time"
)

// Recorder 持久化端，调用方不等待写入完成。
type Recorder interface {
	WriteTrade(tr Trade)
	WriteCandle(c Candle)
}

// Observer 聚合过程中的计数回调。
type Observer interface {
	TradeApplied(tr Trade, elapsed time.Duration)
	TradeRejected(reason string)
	TradeLate(symbol string, iv Interval)
	CandleCompleted(c Candle)
}

// Service 消费 trade topic，驱动 Aggregator，并把闭合 K 线发往完成 topic 和持久化。
type Service struct {
	agg      *Aggregator
	sink     EventSink
	recorder Recorder
	observer Observer
	now      func() time.Time

	onError func(error)
}

func NewService(agg *Aggregator, sink EventSink, recorder Recorder) *Service {
	return &Service{
		agg:      agg,
		sink:     sink,
		recorder: recorder,
		observer: nopObserver{},
		now:      time.Now,
	}
}

func (s *Service) Aggregator() *Aggregator { return s.agg }

func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

func (s *Service) SetErrorListener(fn func(error)) { s.onError = fn }

// HandleTrade 应用一笔成交；返回的错误只表示该成交被拒绝。
func (s *Service) HandleTrade(ctx context.Context, tr Trade) error {
	start := s.now()
	up, err := s.agg.OnTrade(tr)
	if err != nil {
		s.observer.TradeRejected("invalid")
		return err
	}
	if s.recorder != nil {
		s.recorder.WriteTrade(tr)
	}
	for _, iv := range up.Late {
		s.observer.TradeLate(tr.Symbol, iv)
	}
	for _, c := range up.Completed {
		s.complete(ctx, c)
	}
	s.observer.TradeApplied(tr, s.now().Sub(start))
	return nil
}

// HandlePayload 解码 trade topic 消息并处理。
func (s *Service) HandlePayload(ctx context.Context, payload []byte) error {
	tr, err := DecodeTrade(payload)
	if err != nil {
		s.observer.TradeRejected("decode")
		return err
	}
	return s.HandleTrade(ctx, tr)
}

// Run 顺序消费消息，一笔成交处理完才处理下一笔。
func (s *Service) Run(ctx context.Context, msgs <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := s.HandlePayload(ctx, payload); err != nil {
				s.reportError(err)
			}
		}
	}
}

// RunIdleSweeper 周期性闭合空闲 K 线；grace<=0 时不启用。
func (s *Service) RunIdleSweeper(ctx context.Context, every, grace time.Duration) error {
	if grace <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, c := range s.agg.FinalizeIdle(now, grace) {
				s.complete(ctx, c)
			}
		}
	}
}

func (s *Service) complete(ctx context.Context, c Candle) {
	s.observer.CandleCompleted(c)
	if s.recorder != nil {
		s.recorder.WriteCandle(c)
	}
	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(ctx, NewCandleEvent(c, SourceCompleted, s.now())); err != nil {
		s.reportError(err)
	}
}

func (s *Service) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

type nopObserver struct{}

func (nopObserver) TradeApplied(Trade, time.Duration) {}
func (nopObserver) TradeRejected(string)              {}
func (nopObserver) TradeLate(string, Interval)        {}
func (nopObserver) CandleCompleted(Candle)            {}
