package container

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-engine/config"
	"candle-engine/infrastructure/bus"
	"candle-engine/market"
)

func simConfig(roles ...string) config.AppConfig {
	cfg := config.Default()
	cfg.Roles = roles
	cfg.Logger.Level = "error"
	cfg.Feed.Driver = config.FeedSim
	cfg.Feed.Symbols = []string{"BTCUSDT"}
	cfg.Feed.Sim.Interval = 5 * time.Millisecond
	cfg.Bus.Driver = bus.DriverMemory
	cfg.Persist = false
	cfg.Broadcast.Period = 20 * time.Millisecond
	cfg.Broadcast.Pairs = []config.PairConfig{{Symbol: "BTCUSDT", Timeframe: "30s"}}
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Monitor.Addr = "127.0.0.1:0"
	return cfg
}

func TestContainerRunsAllRolesInProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewWithConfig(simConfig(config.RoleIngest, config.RoleAggregate, config.RoleServe), "")
	require.NoError(t, c.Build(ctx))

	snapshots, err := c.bus.Subscribe(ctx, c.cfg.Topics.Snapshot)
	require.NoError(t, err)
	defer snapshots.Close()

	require.NoError(t, c.Start(ctx))

	select {
	case payload := <-snapshots.Messages():
		var ev market.CandleEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, "BTCUSDT", ev.Symbol)
		assert.Equal(t, "30s", ev.Timeframe)
		assert.Equal(t, market.SourceSnapshot, ev.Source)
		assert.True(t, ev.Low <= ev.Open && ev.Open <= ev.High)
	case <-time.After(3 * time.Second):
		t.Fatalf("no snapshot broadcast")
	}

	base := "http://" + c.apiServer.Addr()
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// 未启用持久化时历史接口不可用
	resp, err = http.Get(base + "/api/candles/BTCUSDT/30s")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.NoError(t, c.HealthCheck())
	require.NoError(t, c.Stop())
}

func TestContainerIngestRoleOnly(t *testing.T) {
	c := NewWithConfig(simConfig(config.RoleIngest), "")
	require.NoError(t, c.Build(context.Background()))
	defer c.lifecycle.StopAll()

	assert.NotNil(t, c.normalizer)
	assert.Nil(t, c.aggregator)
	assert.Nil(t, c.hub)
	assert.Nil(t, c.writer)
	assert.Nil(t, c.reloader)
}

func TestNewAppliesRoleOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  driver: sim\nbus:\n  driver: memory\npersist: false\n"), 0o644))

	c, err := New(path, []string{config.RoleAggregate})
	require.NoError(t, err)
	assert.Equal(t, []string{config.RoleAggregate}, c.Config().Roles)

	_, err = New(path, []string{"trader"})
	assert.Error(t, err)
}

func TestParseRoles(t *testing.T) {
	assert.Equal(t, []string{"ingest", "serve"}, ParseRoles(" ingest, ,serve "))
	assert.Nil(t, ParseRoles(""))
}
