package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appconfig "candle-engine/config"
	"candle-engine/infrastructure/logger"
	"candle-engine/market"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool
	// Debounce 连续写入事件合并为一次重载
	Debounce     time.Duration
	// PollInterval >0 时改为轮询 mtime，不使用 fsnotify
	PollInterval time.Duration
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:  true,
		Debounce: 200 * time.Millisecond,
	}
}

// Applier 把新配置中可热更新的部分应用到运行中的组件。
type Applier interface {
	Apply(cfg appconfig.AppConfig) error
}

// ApplierFunc 函数适配器
type ApplierFunc func(cfg appconfig.AppConfig) error

func (f ApplierFunc) Apply(cfg appconfig.AppConfig) error { return f(cfg) }

// SpreadApplier 更新合成买卖价差百分比。
type SpreadApplier struct {
	Spread *market.PercentSpread
}

func (a SpreadApplier) Apply(cfg appconfig.AppConfig) error {
	return a.Spread.SetPercent(cfg.Market.SpreadPct)
}

// PairsApplier 替换快照广播列表。
// Intervals 是运行中 Aggregator 的周期；market.intervals 不支持热更新，
// 引用其他周期的交易对会被拒绝，广播列表保持不变。
type PairsApplier struct {
	Broadcaster *market.Broadcaster
	Intervals   []market.Interval
}

func (a PairsApplier) Apply(cfg appconfig.AppConfig) error {
	pairs := cfg.Pairs()
	if len(a.Intervals) > 0 {
		running := make(map[market.Interval]struct{}, len(a.Intervals))
		for _, iv := range a.Intervals {
			running[iv] = struct{}{}
		}
		for _, p := range pairs {
			iv, err := market.ParseInterval(p.Timeframe)
			if err != nil {
				return fmt.Errorf("broadcast pair %s: %w", p.Symbol, err)
			}
			if _, ok := running[iv]; !ok {
				return fmt.Errorf("broadcast pair %s %s: timeframe not aggregated, restart to change market.intervals", p.Symbol, iv.Label())
			}
		}
	}
	return a.Broadcaster.SetPairs(pairs)
}

// HotReloader 监听配置文件所在目录（编辑器通常以 rename 方式保存），
// 文件变化时重新加载、校验并依次调用 Applier。校验失败保留旧配置。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	load       func(path string) (appconfig.AppConfig, error)
	log        *logger.Logger

	watcher *fsnotify.Watcher

	mu         sync.RWMutex
	appliers   map[string]Applier
	order      []string
	lastReload time.Time
	lastErr    error

	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	if log == nil {
		log = logger.NewNop()
	}
	var watcher *fsnotify.Watcher
	if cfg.PollInterval <= 0 {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		watcher = w
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultHotReloadConfig().Debounce
	}
	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		load:       func(path string) (appconfig.AppConfig, error) { return appconfig.LoadWithEnvOverrides(path) },
		log:        log,
		watcher:    watcher,
		appliers:   make(map[string]Applier),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterApplier 注册参数应用器，按注册顺序调用；同名覆盖。
func (h *HotReloader) RegisterApplier(name string, a Applier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.appliers[name]; !ok {
		h.order = append(h.order, name)
	}
	h.appliers[name] = a
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}
	if h.watcher == nil {
		h.mu.Lock()
		h.started = true
		h.mu.Unlock()
		go h.poll(ctx)
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if started {
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
		}
	}
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Close()
}

// Health 最近一次重载失败时返回错误。
func (h *HotReloader) Health() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(h.config.Debounce)
			}
		case <-debounce:
			debounce = nil
			_ = h.Reload()
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.LogError(err, map[string]interface{}{"component": "hot_reload"})
		}
	}
}

func (h *HotReloader) poll(ctx context.Context) {
	defer close(h.doneChan)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.stopChan:
			cancel()
		case <-pctx.Done():
		}
	}()

	w := appconfig.Watcher{
		Path:     h.configPath,
		Interval: h.config.PollInterval,
		LastMod:  appconfig.ModTime(h.configPath),
	}
	_ = w.Start(pctx, func(cfg appconfig.AppConfig, err error) {
		_ = h.handleLoaded(cfg, err)
	})
}

// Reload 立即重新加载并应用配置。
func (h *HotReloader) Reload() error {
	return h.handleLoaded(h.load(h.configPath))
}

func (h *HotReloader) handleLoaded(cfg appconfig.AppConfig, err error) error {
	if err == nil {
		err = h.apply(cfg)
	}

	h.mu.Lock()
	h.lastErr = err
	if err == nil {
		h.lastReload = time.Now()
	}
	h.mu.Unlock()

	if err != nil {
		h.log.LogConfig("config_reload_failed", map[string]interface{}{
			"path":  h.configPath,
			"error": err.Error(),
		})
		return err
	}
	h.log.LogConfig("config_reloaded", map[string]interface{}{
		"path":       h.configPath,
		"spread_pct": cfg.Market.SpreadPct,
		"pairs":      len(cfg.Broadcast.Pairs),
	})
	return nil
}

func (h *HotReloader) apply(cfg appconfig.AppConfig) error {
	h.mu.RLock()
	names := append([]string(nil), h.order...)
	appliers := make([]Applier, 0, len(names))
	for _, n := range names {
		appliers = append(appliers, h.appliers[n])
	}
	h.mu.RUnlock()

	var errs []error
	for i, a := range appliers {
		if err := a.Apply(cfg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
		}
	}
	return errors.Join(errs...)
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}
