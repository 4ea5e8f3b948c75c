// Package store 把成交与闭合 K 线异步写入时序库。
// 写入失败只记录、计数和告警，不重试，也不影响聚合流程。
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"candle-engine/infrastructure/logger"
	"candle-engine/infrastructure/timescale/candle"
	"candle-engine/infrastructure/timescale/tick"
	"candle-engine/market"
)

// Mode 持久化哪些记录。
type Mode string

const (
	ModeTrades  Mode = "trades"
	ModeCandles Mode = "candles"
	ModeBoth    Mode = "both"
)

const (
	kindTrade  = "trade"
	kindCandle = "candle"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeTrades, ModeCandles, ModeBoth:
		return m, nil
	case "":
		return ModeBoth, nil
	default:
		return "", fmt.Errorf("unknown persistence mode %q", s)
	}
}

func (m Mode) trades() bool  { return m == ModeTrades || m == ModeBoth }
func (m Mode) candles() bool { return m == ModeCandles || m == ModeBoth }

type TickStore interface {
	Store(ctx context.Context, t *tick.Tick) error
}

type CandleStore interface {
	Store(ctx context.Context, c *candle.Candle) error
}

// Observer 写入结果计数。
type Observer interface {
	PersistSucceeded(kind string)
	PersistFailed(kind string)
	PersistDropped(kind string)
}

// Alerter 由 alert.Manager 实现，自带限流。
type Alerter interface {
	SendWarning(message string, fields map[string]interface{}) error
}

type Config struct {
	Mode         Mode          `yaml:"mode"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

func DefaultConfig() Config {
	return Config{
		Mode:         ModeBoth,
		Workers:      4,
		QueueSize:    4096,
		WriteTimeout: 5 * time.Second,
		DrainTimeout: 10 * time.Second,
		Breaker:      BreakerConfig{Threshold: 5, Timeout: 30 * time.Second, HalfOpen: 1},
	}
}

type job struct {
	tick   *tick.Tick
	candle *candle.Candle
}

func (j job) kind() string {
	if j.candle != nil {
		return kindCandle
	}
	return kindTrade
}

// Writer 有界队列 + 固定数量的 worker。队列满时丢弃，不阻塞调用方。
type Writer struct {
	cfg      Config
	ticks    TickStore
	candles  CandleStore
	log      *logger.Logger
	observer Observer
	alerter  Alerter
	breaker  *breaker

	mu      sync.RWMutex
	queue   chan job
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewWriter(cfg Config, ticks TickStore, candles CandleStore, log *logger.Logger) *Writer {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		cfg:     cfg,
		ticks:   ticks,
		candles: candles,
		log:     log,
		breaker: newBreaker(cfg.Breaker),
		queue:   make(chan job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *Writer) SetObserver(o Observer) { w.observer = o }

func (w *Writer) SetAlerter(a Alerter) { w.alerter = a }

func (w *Writer) Mode() Mode { return w.cfg.Mode }

// Start 启动 worker。写入使用 Writer 自己的 context，与调用方生命周期无关。
func (w *Writer) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("writer closed")
	}
	if w.started {
		return nil
	}
	if w.cfg.Mode.trades() && w.ticks == nil {
		return errors.New("writer mode requires a tick store")
	}
	if w.cfg.Mode.candles() && w.candles == nil {
		return errors.New("writer mode requires a candle store")
	}
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	w.started = true
	return nil
}

// WriteTrade 实现 market.Recorder。
func (w *Writer) WriteTrade(tr market.Trade) {
	if !w.cfg.Mode.trades() {
		return
	}
	w.enqueue(job{tick: tick.FromTrade(tr)})
}

// WriteCandle 实现 market.Recorder。
func (w *Writer) WriteCandle(c market.Candle) {
	if !w.cfg.Mode.candles() {
		return
	}
	w.enqueue(job{candle: candle.FromMarket(c)})
}

func (w *Writer) enqueue(j job) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(j)
		return
	}
	select {
	case w.queue <- j:
	default:
		w.drop(j)
	}
}

func (w *Writer) drop(j job) {
	n := w.dropped.Add(1)
	if w.observer != nil {
		w.observer.PersistDropped(j.kind())
	}
	// 丢弃可能很频繁，只按 2 的幂次采样记录
	if n&(n-1) == 0 {
		w.log.LogStore("persist_dropped", map[string]interface{}{
			"kind":    j.kind(),
			"dropped": n,
		})
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for j := range w.queue {
		w.write(j)
	}
}

func (w *Writer) write(j job) {
	if err := w.breaker.allow(); err != nil {
		w.failed.Add(1)
		if w.observer != nil {
			w.observer.PersistFailed(j.kind())
		}
		return
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.WriteTimeout)
	defer cancel()

	var err error
	if j.candle != nil {
		err = w.candles.Store(ctx, j.candle)
	} else {
		err = w.ticks.Store(ctx, j.tick)
	}
	if changed, state := w.breaker.record(err); changed {
		w.breakerChanged(j.kind(), state, err)
	}
	if err == nil {
		w.written.Add(1)
		if w.observer != nil {
			w.observer.PersistSucceeded(j.kind())
		}
		return
	}

	w.failed.Add(1)
	if w.observer != nil {
		w.observer.PersistFailed(j.kind())
	}
	fields := map[string]interface{}{
		"kind":  j.kind(),
		"error": err.Error(),
	}
	if j.candle != nil {
		fields["symbol"] = j.candle.Symbol
		fields["timeframe"] = j.candle.Timeframe
	} else {
		fields["symbol"] = j.tick.Symbol
	}
	w.log.LogStore("persist_failed", fields)
	if w.alerter != nil {
		_ = w.alerter.SendWarning("persistence write failed", map[string]interface{}{"kind": j.kind()})
	}
}

func (w *Writer) breakerChanged(kind string, state State, err error) {
	if state != StateOpen {
		w.log.Info("persistence circuit " + state.String())
		return
	}
	w.log.LogStore("persist_failed", map[string]interface{}{
		"kind":  kind,
		"error": fmt.Sprintf("%v: %v", ErrCircuitOpen, err),
	})
	if w.alerter != nil {
		_ = w.alerter.SendWarning("persistence circuit open", map[string]interface{}{"kind": kind})
	}
}

// Stop 停止接收新记录，等待队列排空；超过 DrainTimeout 则取消进行中的写入。
func (w *Writer) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	started := w.started
	w.mu.Unlock()

	if !started {
		w.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-time.After(w.cfg.DrainTimeout):
		w.cancel()
		<-done
		return fmt.Errorf("writer drain timed out after %s, %d records pending", w.cfg.DrainTimeout, len(w.queue))
	}
}

// Close 等同 Stop。
func (w *Writer) Close() error { return w.Stop() }

func (w *Writer) Health() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.started || w.closed {
		return errors.New("writer not running")
	}
	if w.breaker.State() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Stats 写入成功、失败、丢弃数。
type Stats struct {
	Written int64
	Failed  int64
	Dropped int64
	Queued  int
}

func (w *Writer) Stats() Stats {
	return Stats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
		Queued:  len(w.queue),
	}
}
