package container

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"candle-engine/config"
	"candle-engine/gateway"
	"candle-engine/infrastructure/alert"
	"candle-engine/infrastructure/bus"
	"candle-engine/infrastructure/logger"
	"candle-engine/infrastructure/monitor"
	"candle-engine/infrastructure/timescale"
	"candle-engine/infrastructure/timescale/candle"
	"candle-engine/infrastructure/timescale/tick"
	"candle-engine/internal/api"
	"candle-engine/internal/chartgw"
	hotreload "candle-engine/internal/config"
	"candle-engine/internal/store"
	"candle-engine/market"
	"candle-engine/sim"
)

// Container 依赖注入容器，按角色（ingest/aggregate/serve）组装组件并管理生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager
	bus     bus.Bus
	db      *timescale.Client

	// ingest
	spread     *market.PercentSpread
	normalizer *gateway.Normalizer

	// aggregate
	aggregator  *market.Aggregator
	service     *market.Service
	broadcaster *market.Broadcaster
	writer      *store.Writer

	// serve
	hub       *chartgw.Hub
	apiServer *httpServerComponent

	reloader *hotreload.HotReloader

	// 生命周期管理
	lifecycle *LifecycleManager
	errs      chan error
}

// New 加载配置创建 Container；roles 非空时覆盖配置中的角色。
func New(configPath string, roles []string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if len(roles) > 0 {
		cfg.Roles = roles
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid roles: %w", err)
		}
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置；configPath 为空时不启用热更新。
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
		errs:       make(chan error, 8),
	}
}

// ParseRoles 解析 "ingest,aggregate" 形式的角色列表。
func ParseRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(ctx); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildStorage(ctx); err != nil {
		return fmt.Errorf("build storage failed: %w", err)
	}
	if c.cfg.HasRole(config.RoleAggregate) {
		if err := c.buildAggregate(); err != nil {
			return fmt.Errorf("build aggregate failed: %w", err)
		}
	}
	if c.cfg.HasRole(config.RoleServe) {
		if err := c.buildServe(); err != nil {
			return fmt.Errorf("build serve failed: %w", err)
		}
	}
	if c.cfg.HasRole(config.RoleIngest) {
		if err := c.buildIngest(); err != nil {
			return fmt.Errorf("build ingest failed: %w", err)
		}
	}
	if err := c.buildHotReload(); err != nil {
		return fmt.Errorf("build hot reload failed: %w", err)
	}
	c.registerMetricsServer()

	c.logger.Info("container built",
		zap.Strings("roles", c.cfg.Roles),
		zap.Int("components", c.lifecycle.Len()))
	return nil
}

func (c *Container) buildInfrastructure(ctx context.Context) error {
	var err error
	c.logger, err = logger.New(c.cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(c.cfg.Monitor)

	if c.cfg.Alert.Enabled {
		channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
		if c.cfg.Alert.WebhookURL != "" {
			channels = append(channels, alert.NewWebhookChannel("webhook", c.cfg.Alert.WebhookURL))
		}
		c.alerts = alert.NewManager(channels, c.cfg.Alert.ThrottleInterval)
	}

	c.bus, err = bus.New(ctx, c.cfg.Bus, c.logger.Logger)
	if err != nil {
		return fmt.Errorf("connect bus failed: %w", err)
	}
	c.lifecycle.Register(funcComponent{name: "bus", stop: c.bus.Close})

	c.logger.Info("infrastructure built", zap.String("bus", c.cfg.Bus.Driver))
	return nil
}

func (c *Container) buildStorage(ctx context.Context) error {
	needDB := c.cfg.HasRole(config.RoleAggregate) || c.cfg.HasRole(config.RoleServe)
	if !c.cfg.Persist || !needDB {
		return nil
	}
	db, err := timescale.NewClient(ctx, c.cfg.Timescale)
	if err != nil {
		return err
	}
	c.db = db
	c.lifecycle.Register(funcComponent{name: "timescale", stop: func() error { db.Close(); return nil }})
	return nil
}

func (c *Container) buildAggregate() error {
	intervals, err := c.cfg.Intervals()
	if err != nil {
		return err
	}
	c.aggregator, err = market.NewAggregator(intervals)
	if err != nil {
		return err
	}

	var recorder market.Recorder
	if c.db != nil {
		c.writer = store.NewWriter(c.cfg.Store, tick.NewRepository(c.db), candle.NewRepository(c.db), c.logger)
		c.writer.SetObserver(c.monitor)
		if c.alerts != nil {
			c.writer.SetAlerter(c.alerts)
		}
		c.lifecycle.Register(c.writer)
		recorder = c.writer
	}

	completed := market.NewPublisher(c.bus, c.cfg.Topics.Completed)
	c.service = market.NewService(c.aggregator, completed, recorder)
	c.service.SetObserver(engineObserver{m: c.monitor, log: c.logger})
	c.service.SetErrorListener(serviceErrorLogger(c.logger))

	var trades bus.Subscription
	c.lifecycle.Register(&runnerComponent{
		name: "trade_consumer",
		// 订阅失败是致命错误，直接让 Start 失败
		prepare: func(ctx context.Context) error {
			sub, err := c.bus.Subscribe(ctx, c.cfg.Topics.Trades)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", c.cfg.Topics.Trades, err)
			}
			trades = sub
			return nil
		},
		run: func(ctx context.Context) error {
			defer trades.Close()
			if err := c.service.Run(ctx, trades.Messages()); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("trade subscription closed")
		},
		logger: c.logger,
		errs:   c.errs,
	})

	if grace := c.cfg.Aggregator.FinalizeIdleAfter; grace > 0 {
		c.lifecycle.Register(&runnerComponent{
			name: "idle_sweeper",
			run: func(ctx context.Context) error {
				return c.service.RunIdleSweeper(ctx, c.cfg.Aggregator.SweepEvery, grace)
			},
			logger: c.logger,
			errs:   c.errs,
		})
	}

	snapshots := market.NewPublisher(c.bus, c.cfg.Topics.Snapshot)
	c.broadcaster = market.NewBroadcaster(c.aggregator, snapshots, c.cfg.Broadcast.Period)
	if err := c.broadcaster.SetPairs(c.cfg.Pairs()); err != nil {
		return err
	}
	c.broadcaster.SetEmitListener(c.monitor.SnapshotEmitted)
	c.broadcaster.SetErrorListener(broadcastErrorLogger(c.logger))
	c.lifecycle.Register(&runnerComponent{
		name:   "broadcaster",
		run:    c.broadcaster.Run,
		logger: c.logger,
		errs:   c.errs,
	})

	c.logger.Info("aggregate role built",
		zap.Int("intervals", len(intervals)),
		zap.Int("pairs", len(c.broadcaster.Pairs())),
		zap.Bool("persist", c.writer != nil))
	return nil
}

func (c *Container) buildServe() error {
	intervals, err := c.cfg.Intervals()
	if err != nil {
		return err
	}

	c.hub = chartgw.NewHub(intervals, c.logger)
	c.hub.SetObserver(c.monitor)
	topics := chartgw.Topics{
		Trades:    c.cfg.Topics.Trades,
		Snapshot:  c.cfg.Topics.Snapshot,
		Completed: c.cfg.Topics.Completed,
	}
	c.lifecycle.Register(&runnerComponent{
		name:   "chart_relay",
		run:    func(ctx context.Context) error { return c.hub.Relay(ctx, c.bus, topics) },
		logger: c.logger,
		errs:   c.errs,
	})

	var reader api.CandleReader
	if c.db != nil {
		reader = candle.NewRepository(c.db)
	}
	handler := api.NewHandler(reader, intervals, c.cfg.Market.PriceScale, c.logger)
	if c.db != nil {
		handler.AddHealthCheck("timescale", dbHealth{db: c.db})
	}
	if c.writer != nil {
		handler.AddHealthCheck("store", c.writer)
	}
	c.apiServer = &httpServerComponent{
		name: "api_server",
		handler: handler.Router(map[string]http.Handler{
			"/ws": chartgw.NewServer(c.hub),
		}),
		addr:            c.cfg.API.Addr,
		shutdownTimeout: c.cfg.API.ShutdownTimeout,
		logger:          c.logger,
	}
	c.lifecycle.Register(c.apiServer)
	return nil
}

func (c *Container) buildIngest() error {
	var err error
	c.spread, err = market.NewPercentSpread(c.cfg.Market.SpreadPct)
	if err != nil {
		return err
	}
	publisher := market.NewPublisher(c.bus, c.cfg.Topics.Trades)
	c.normalizer = gateway.NewNormalizer(c.cfg.Market.PriceScale, c.spread, publisher, c.logger)
	c.normalizer.SetObserver(c.monitor)

	var run func(ctx context.Context) error
	switch c.cfg.Feed.Driver {
	case config.FeedSim:
		gen, err := sim.NewGenerator(c.cfg.SimConfig())
		if err != nil {
			return err
		}
		run = func(ctx context.Context) error { return gen.Run(ctx, c.normalizer) }
	default:
		stream := gateway.NewBinanceStream(c.cfg.Feed.Endpoint, c.cfg.Feed.Symbols, c.logger)
		stream.ReconnectDelay = c.cfg.Feed.ReconnectDelay
		stream.ReadTimeout = c.cfg.Feed.ReadTimeout
		stream.SetObserver(c.monitor)
		if c.alerts != nil {
			stream.SetAlerter(c.alerts)
		}
		run = func(ctx context.Context) error { return stream.Run(ctx, c.normalizer) }
	}
	c.lifecycle.Register(&runnerComponent{
		name:   "feed",
		run:    run,
		logger: c.logger,
		errs:   c.errs,
	})

	c.logger.Info("ingest role built",
		zap.String("feed", c.cfg.Feed.Driver),
		zap.Strings("symbols", c.cfg.Feed.Symbols))
	return nil
}

func (c *Container) buildHotReload() error {
	if c.configPath == "" || !c.cfg.Reload.Enabled || (c.spread == nil && c.broadcaster == nil) {
		return nil
	}
	r, err := hotreload.NewHotReloader(c.configPath, hotreload.HotReloadConfig{
		Enabled:      true,
		Debounce:     c.cfg.Reload.Debounce,
		PollInterval: c.cfg.Reload.PollInterval,
	}, c.logger)
	if err != nil {
		return err
	}
	if c.spread != nil {
		r.RegisterApplier("spread", hotreload.SpreadApplier{Spread: c.spread})
	}
	if c.broadcaster != nil {
		r.RegisterApplier("pairs", hotreload.PairsApplier{
			Broadcaster: c.broadcaster,
			Intervals:   c.aggregator.Intervals(),
		})
	}
	c.reloader = r
	c.lifecycle.Register(r)
	return nil
}

func (c *Container) registerMetricsServer() {
	if c.monitor == nil || c.cfg.Monitor.Addr == "" {
		return
	}
	c.lifecycle.Register(&httpServerComponent{
		name:    "metrics_server",
		handler: c.monitor.Handler(),
		addr:    c.cfg.Monitor.Addr,
		logger:  c.logger,
	})
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.logger.Info("container stopped")
	_ = c.logger.Close()
	return err
}

// Errors 运行期致命错误（组件意外退出）。
func (c *Container) Errors() <-chan error { return c.errs }

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) Config() config.AppConfig { return *c.cfg }

type dbHealth struct{ db *timescale.Client }

func (h dbHealth) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.db.Ping(ctx)
}
