package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"candle-engine/market"
)

// Monitor Prometheus 指标收集器，同时实现各组件的 Observer 接口
type Monitor struct {
	registry *prometheus.Registry

	// 行情接入
	tradesNormalized *prometheus.CounterVec
	tradesRejected   *prometheus.CounterVec
	publishErrors    *prometheus.CounterVec
	feedConnected    prometheus.Gauge
	feedReconnects   prometheus.Counter

	// 聚合
	tradesApplied   *prometheus.CounterVec
	tradesLate      *prometheus.CounterVec
	candlesComplete *prometheus.CounterVec
	tradeLatency    prometheus.Histogram
	snapshots       prometheus.Counter

	// 持久化
	persisted *prometheus.CounterVec

	// 图表网关
	chartClients prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
	Addr      string `yaml:"addr"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "candle",
		Subsystem: "engine",
		Addr:      ":9100",
	}
}

// New 创建新的 Monitor 实例，使用独立 registry
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		tradesNormalized: counterVec("trades_normalized_total", "标准化并发布的成交数", "symbol"),
		tradesRejected:   counterVec("trades_rejected_total", "被拒绝的成交数", "stage", "reason"),
		publishErrors:    counterVec("bus_publish_errors_total", "总线发布失败数", "topic"),
		feedConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "feed_connected",
			Help:      "行情连接状态（1=已连接）",
		}),
		feedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "feed_reconnects_total",
			Help:      "行情断线重连次数",
		}),

		tradesApplied:   counterVec("trades_applied_total", "进入聚合的成交数", "symbol"),
		tradesLate:      counterVec("trades_late_total", "因迟到被忽略的成交（按周期）", "symbol", "timeframe"),
		candlesComplete: counterVec("candles_completed_total", "闭合的 K 线数", "timeframe"),
		tradeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "trade_processing_seconds",
			Help:      "单笔成交聚合耗时（秒）",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "snapshots_emitted_total",
			Help:      "广播的快照事件数",
		}),

		persisted: counterVec("persist_total", "持久化结果", "kind", "result"),

		chartClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "chart_clients",
			Help:      "图表 websocket 连接数",
		}),
	}
}

// Registry 返回底层 registry
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// Handler /metrics 处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// market.Observer

func (m *Monitor) TradeApplied(tr market.Trade, elapsed time.Duration) {
	m.tradesApplied.WithLabelValues(tr.Symbol).Inc()
	m.tradeLatency.Observe(elapsed.Seconds())
}

func (m *Monitor) TradeRejected(reason string) {
	m.tradesRejected.WithLabelValues("aggregate", reason).Inc()
}

func (m *Monitor) TradeLate(symbol string, iv market.Interval) {
	m.tradesLate.WithLabelValues(symbol, iv.Label()).Inc()
}

func (m *Monitor) CandleCompleted(c market.Candle) {
	m.candlesComplete.WithLabelValues(c.Interval.Label()).Inc()
}

// SnapshotEmitted 作为 Broadcaster 的 emit 回调
func (m *Monitor) SnapshotEmitted(market.CandleEvent) {
	m.snapshots.Inc()
}

// 行情接入

func (m *Monitor) TradeNormalized(symbol string) {
	m.tradesNormalized.WithLabelValues(symbol).Inc()
}

func (m *Monitor) NormalizeRejected(reason string) {
	m.tradesRejected.WithLabelValues("normalize", reason).Inc()
}

func (m *Monitor) PublishFailed(topic string) {
	m.publishErrors.WithLabelValues(topic).Inc()
}

func (m *Monitor) FeedConnected() {
	m.feedConnected.Set(1)
}

func (m *Monitor) FeedDisconnected() {
	m.feedConnected.Set(0)
	m.feedReconnects.Inc()
}

// store.Observer

func (m *Monitor) PersistSucceeded(kind string) { m.persisted.WithLabelValues(kind, "ok").Inc() }
func (m *Monitor) PersistFailed(kind string)    { m.persisted.WithLabelValues(kind, "failed").Inc() }
func (m *Monitor) PersistDropped(kind string)   { m.persisted.WithLabelValues(kind, "dropped").Inc() }

// ChartClients 图表连接数
func (m *Monitor) ChartClients(n int) { m.chartClients.Set(float64(n)) }
