package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"candle-engine/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	roles := flag.String("roles", "", "覆盖配置中的角色，逗号分隔：ingest,aggregate,serve")
	flag.Parse()

	c, err := container.New(*cfgPath, container.ParseRoles(*roles))
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Build(ctx); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	lg := c.Logger()

	if err := c.Start(ctx); err != nil {
		lg.LogError(err, map[string]interface{}{"action": "start"})
		_ = c.Stop()
		os.Exit(1)
	}
	notify(lg.Logger, daemon.SdNotifyReady)
	go watchdog(ctx, lg.Logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		lg.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-c.Errors():
		lg.LogError(err, map[string]interface{}{"action": "run"})
		exitCode = 1
	}

	notify(lg.Logger, daemon.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		log.Printf("停止失败: %v", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}

// notify 非 systemd 环境下 SdNotify 返回 false，忽略即可。
func notify(lg *zap.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		lg.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}

// watchdog 在设置了 WATCHDOG_USEC 时按一半间隔发送心跳。
func watchdog(ctx context.Context, lg *zap.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notify(lg, daemon.SdNotifyWatchdog)
		}
	}
}
