package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"candle-engine/gateway"
	"candle-engine/infrastructure/alert"
	"candle-engine/infrastructure/bus"
	"candle-engine/infrastructure/logger"
	"candle-engine/infrastructure/monitor"
	"candle-engine/infrastructure/timescale"
	"candle-engine/internal/store"
	"candle-engine/market"
	"candle-engine/sim"
)

const (
	RoleIngest    = "ingest"
	RoleAggregate = "aggregate"
	RoleServe     = "serve"

	FeedBinance = "binance"
	FeedSim     = "sim"
)

// AppConfig holds the main runtime configuration.
// Persist=false 时不连接数据库：不落盘，历史 API 返回 503。
type AppConfig struct {
	Env        string           `yaml:"env"`
	Roles      []string         `yaml:"roles"`
	Logger     logger.Config    `yaml:"logger"`
	Feed       FeedConfig       `yaml:"feed"`
	Market     MarketConfig     `yaml:"market"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Topics     TopicsConfig     `yaml:"topics"`
	Bus        bus.Config       `yaml:"bus"`
	Persist    bool             `yaml:"persist"`
	Timescale  timescale.Config `yaml:"timescale"`
	Store      store.Config     `yaml:"store"`
	Monitor    monitor.Config   `yaml:"monitor"`
	Alert      alert.Config     `yaml:"alert"`
	API        APIConfig        `yaml:"api"`
	Reload     ReloadConfig     `yaml:"reload"`
}

// FeedConfig 行情源：binance 真实 ws 或 sim 随机游走。
type FeedConfig struct {
	Driver         string        `yaml:"driver"`
	Endpoint       string        `yaml:"endpoint"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Sim            SimConfig     `yaml:"sim"`
}

type SimConfig struct {
	StartPrice float64       `yaml:"start_price"`
	Step       float64       `yaml:"step"`
	Decimals   int32         `yaml:"decimals"`
	Interval   time.Duration `yaml:"interval"`
	Seed       int64         `yaml:"seed"`
}

// MarketConfig 价格精度、合成价差与 K 线周期。
type MarketConfig struct {
	PriceScale int32    `yaml:"price_scale"`
	SpreadPct  float64  `yaml:"spread_pct"`
	Intervals  []string `yaml:"intervals"`
}

type AggregatorConfig struct {
	// FinalizeIdleAfter 0 表示不主动闭合空闲 K 线
	FinalizeIdleAfter time.Duration `yaml:"finalize_idle_after"`
	SweepEvery        time.Duration `yaml:"sweep_every"`
}

type BroadcastConfig struct {
	Period time.Duration `yaml:"period"`
	Pairs  []PairConfig  `yaml:"pairs"`
}

type PairConfig struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

type TopicsConfig struct {
	Trades    string `yaml:"trades"`
	Snapshot  string `yaml:"snapshot"`
	Completed string `yaml:"completed"`
}

type APIConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ReloadConfig 配置热更新；PollInterval>0 时轮询 mtime。
type ReloadConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Debounce     time.Duration `yaml:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default 返回全部默认值；Load 在其上覆盖 YAML。
func Default() AppConfig {
	simCfg := sim.DefaultConfig()
	return AppConfig{
		Env:    "dev",
		Roles:  []string{RoleIngest, RoleAggregate, RoleServe},
		Logger: logger.DefaultConfig(),
		Feed: FeedConfig{
			Driver:         FeedBinance,
			Endpoint:       gateway.BinanceSpotWSEndpoint,
			Symbols:        []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			ReconnectDelay: gateway.DefaultReconnectDelay,
			ReadTimeout:    gateway.DefaultReadTimeout,
			Sim: SimConfig{
				StartPrice: simCfg.StartPrice,
				Step:       simCfg.Step,
				Decimals:   simCfg.Decimals,
				Interval:   simCfg.Interval,
				Seed:       simCfg.Seed,
			},
		},
		Market: MarketConfig{
			PriceScale: market.DefaultPriceScale,
			SpreadPct:  2,
			Intervals:  []string{"30s", "1m", "5m", "1h"},
		},
		Aggregator: AggregatorConfig{SweepEvery: time.Second},
		Broadcast:  BroadcastConfig{Period: market.DefaultBroadcastPeriod},
		Topics: TopicsConfig{
			Trades:    "trades",
			Snapshot:  "candles.snapshot",
			Completed: "completed_candles",
		},
		Bus:       bus.DefaultConfig(),
		Persist:   true,
		Timescale: timescale.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Alert:     alert.DefaultConfig(),
		API:       APIConfig{Addr: ":3001", ShutdownTimeout: 5 * time.Second},
		Reload:    ReloadConfig{Enabled: true, Debounce: 200 * time.Millisecond},
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Intervals 解析后的周期，已排序去重。
func (c AppConfig) Intervals() ([]market.Interval, error) {
	return market.ParseIntervals(c.Market.Intervals)
}

// Pairs 广播列表。
func (c AppConfig) Pairs() []market.Pair {
	out := make([]market.Pair, 0, len(c.Broadcast.Pairs))
	for _, p := range c.Broadcast.Pairs {
		out = append(out, market.Pair{Symbol: p.Symbol, Timeframe: p.Timeframe})
	}
	return out
}

// HasRole 是否启用某个角色。
func (c AppConfig) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SimConfig 转换为 sim.Config。
func (c AppConfig) SimConfig() sim.Config {
	return sim.Config{
		Symbols:    c.Feed.Symbols,
		StartPrice: c.Feed.Sim.StartPrice,
		Step:       c.Feed.Sim.Step,
		MaxQty:     1,
		Decimals:   c.Feed.Sim.Decimals,
		Interval:   c.Feed.Sim.Interval,
		Seed:       c.Feed.Sim.Seed,
	}
}

// Validate ensures required fields are present and consistent.
func Validate(cfg AppConfig) error {
	if len(cfg.Roles) == 0 {
		return errors.New("roles is required")
	}
	for _, r := range cfg.Roles {
		switch r {
		case RoleIngest, RoleAggregate, RoleServe:
		default:
			return fmt.Errorf("unknown role %q", r)
		}
	}
	if cfg.Market.PriceScale < 0 || cfg.Market.PriceScale > market.MaxPriceScale {
		return fmt.Errorf("market.price_scale must be within [0,%d]", market.MaxPriceScale)
	}
	if cfg.Market.SpreadPct < 0 || cfg.Market.SpreadPct >= 100 {
		return errors.New("market.spread_pct must be within [0,100)")
	}
	intervals, err := cfg.Intervals()
	if err != nil {
		return fmt.Errorf("market.intervals: %w", err)
	}
	if len(intervals) == 0 {
		return errors.New("market.intervals is required")
	}
	configured := make(map[market.Interval]struct{}, len(intervals))
	for _, iv := range intervals {
		configured[iv] = struct{}{}
	}
	for _, p := range cfg.Broadcast.Pairs {
		if p.Symbol == "" {
			return errors.New("broadcast.pairs: symbol is required")
		}
		iv, err := market.ParseInterval(p.Timeframe)
		if err != nil {
			return fmt.Errorf("broadcast.pairs %s: %w", p.Symbol, err)
		}
		if _, ok := configured[iv]; !ok {
			return fmt.Errorf("broadcast.pairs %s: timeframe %s not in market.intervals", p.Symbol, iv.Label())
		}
	}
	if cfg.Broadcast.Period < 0 {
		return errors.New("broadcast.period must be >= 0")
	}
	if cfg.Aggregator.FinalizeIdleAfter < 0 {
		return errors.New("aggregator.finalize_idle_after must be >= 0")
	}
	if cfg.Topics.Trades == "" || cfg.Topics.Snapshot == "" || cfg.Topics.Completed == "" {
		return errors.New("topics.trades/snapshot/completed are required")
	}
	switch cfg.Bus.Driver {
	case bus.DriverRedis, bus.DriverKafka, bus.DriverMemory:
	default:
		return fmt.Errorf("unknown bus.driver %q", cfg.Bus.Driver)
	}
	mode, err := store.ParseMode(string(cfg.Store.Mode))
	if err != nil {
		return fmt.Errorf("store.mode: %w", err)
	}
	// 历史接口只读 candles 表
	if cfg.Persist && cfg.HasRole(RoleServe) && mode == store.ModeTrades {
		return errors.New("store.mode trades never writes candles; the serve role needs candles or both")
	}
	if cfg.HasRole(RoleIngest) {
		switch cfg.Feed.Driver {
		case FeedBinance, FeedSim:
		default:
			return fmt.Errorf("unknown feed.driver %q", cfg.Feed.Driver)
		}
		if len(cfg.Feed.Symbols) == 0 {
			return errors.New("feed.symbols is required for the ingest role")
		}
	}
	if cfg.Reload.Debounce < 0 || cfg.Reload.PollInterval < 0 {
		return errors.New("reload.debounce/poll_interval must be >= 0")
	}
	if cfg.HasRole(RoleServe) && cfg.API.Addr == "" {
		return errors.New("api.addr is required for the serve role")
	}
	return nil
}
