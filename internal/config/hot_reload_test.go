package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "candle-engine/config"
	"candle-engine/market"
)

const baseYAML = `
roles: [aggregate]
bus:
  driver: memory
market:
  spread_pct: 0.5
  intervals: [1m, 5m]
broadcast:
  pairs:
    - {symbol: BTCUSDT, timeframe: 1m}
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type nopSnapshots struct{}

func (nopSnapshots) Snapshot(string, market.Interval) (market.Candle, bool) {
	return market.Candle{}, false
}

type nopSink struct{}

func (nopSink) Emit(context.Context, market.CandleEvent) error { return nil }

func TestHotReloaderReloadAppliesSpreadAndPairs(t *testing.T) {
	path := writeConfig(t, t.TempDir(), baseYAML)
	spread, err := market.NewPercentSpread(0.5)
	require.NoError(t, err)
	b := market.NewBroadcaster(nopSnapshots{}, nopSink{}, 0)

	r, err := NewHotReloader(path, DefaultHotReloadConfig(), nil)
	require.NoError(t, err)
	defer r.Stop()
	r.RegisterApplier("spread", SpreadApplier{Spread: spread})
	r.RegisterApplier("pairs", PairsApplier{Broadcaster: b, Intervals: []market.Interval{market.Interval1m, market.Interval5m}})

	writeConfig(t, filepath.Dir(path), strings.Replace(baseYAML, "spread_pct: 0.5", "spread_pct: 2", 1)+
		"    - {symbol: ETHUSDT, timeframe: 5m}\n")
	require.NoError(t, r.Reload())

	assert.Equal(t, 2.0, spread.Percent())
	assert.Equal(t, []market.Pair{
		{Symbol: "BTCUSDT", Timeframe: "1m"},
		{Symbol: "ETHUSDT", Timeframe: "5m"},
	}, b.Pairs())
	assert.False(t, r.GetLastReloadTime().IsZero())
	assert.NoError(t, r.Health())
}

func TestHotReloaderRejectsPairsOutsideRunningIntervals(t *testing.T) {
	path := writeConfig(t, t.TempDir(), baseYAML)
	b := market.NewBroadcaster(nopSnapshots{}, nopSink{}, 0)
	require.NoError(t, b.SetPairs([]market.Pair{{Symbol: "BTCUSDT", Timeframe: "1m"}}))

	r, err := NewHotReloader(path, DefaultHotReloadConfig(), nil)
	require.NoError(t, err)
	defer r.Stop()
	r.RegisterApplier("pairs", PairsApplier{Broadcaster: b, Intervals: []market.Interval{market.Interval1m, market.Interval5m}})

	// 新文件本身合法，但运行中的 Aggregator 没有 15m
	writeConfig(t, filepath.Dir(path), strings.Replace(baseYAML, "intervals: [1m, 5m]", "intervals: [1m, 5m, 15m]", 1)+
		"    - {symbol: ETHUSDT, timeframe: 15m}\n")
	err = r.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT 15m")
	assert.Equal(t, []market.Pair{{Symbol: "BTCUSDT", Timeframe: "1m"}}, b.Pairs())
}

func TestHotReloaderKeepsOldConfigOnInvalidFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), baseYAML)
	spread, _ := market.NewPercentSpread(0.5)

	r, err := NewHotReloader(path, DefaultHotReloadConfig(), nil)
	require.NoError(t, err)
	defer r.Stop()
	r.RegisterApplier("spread", SpreadApplier{Spread: spread})

	writeConfig(t, filepath.Dir(path), strings.Replace(baseYAML, "spread_pct: 0.5", "spread_pct: 150", 1))
	assert.Error(t, r.Reload())
	assert.Equal(t, 0.5, spread.Percent())
	assert.Error(t, r.Health())
}

func TestHotReloaderAggregatesApplierErrors(t *testing.T) {
	path := writeConfig(t, t.TempDir(), baseYAML)
	r, err := NewHotReloader(path, DefaultHotReloadConfig(), nil)
	require.NoError(t, err)
	defer r.Stop()

	called := 0
	r.RegisterApplier("bad", ApplierFunc(func(appconfig.AppConfig) error { return errors.New("nope") }))
	r.RegisterApplier("good", ApplierFunc(func(appconfig.AppConfig) error { called++; return nil }))

	err = r.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: nope")
	assert.Equal(t, 1, called)
}

func TestHotReloaderWatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseYAML)
	spread, _ := market.NewPercentSpread(0.5)

	cfg := DefaultHotReloadConfig()
	cfg.Debounce = 20 * time.Millisecond
	r, err := NewHotReloader(path, cfg, nil)
	require.NoError(t, err)
	r.RegisterApplier("spread", SpreadApplier{Spread: spread})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	// 同目录其他文件不触发
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o644))
	writeConfig(t, dir, strings.Replace(baseYAML, "spread_pct: 0.5", "spread_pct: 3", 1))

	deadline := time.Now().Add(3 * time.Second)
	for spread.Percent() != 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 3.0, spread.Percent())
}

func TestHotReloaderDisabled(t *testing.T) {
	path := writeConfig(t, t.TempDir(), baseYAML)
	r, err := NewHotReloader(path, HotReloadConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	assert.NoError(t, r.Stop())
}

func TestHotReloaderPollMode(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseYAML)
	spread, _ := market.NewPercentSpread(0.5)

	cfg := DefaultHotReloadConfig()
	cfg.PollInterval = 10 * time.Millisecond
	r, err := NewHotReloader(path, cfg, nil)
	require.NoError(t, err)
	r.RegisterApplier("spread", SpreadApplier{Spread: spread})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	writeConfig(t, dir, strings.Replace(baseYAML, "spread_pct: 0.5", "spread_pct: 4", 1))
	// 部分文件系统 mtime 精度较粗，显式推后
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	deadline := time.Now().Add(3 * time.Second)
	for spread.Percent() != 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 4.0, spread.Percent())
	assert.NoError(t, r.Stop())
}
