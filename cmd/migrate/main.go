package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"candle-engine/config"
	"candle-engine/infrastructure/logger"
	"candle-engine/infrastructure/timescale"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	hypertables := flag.Bool("hypertables", true, "创建 timescaledb hypertable（普通 PostgreSQL 上设为 false）")
	timeout := flag.Duration("timeout", time.Minute, "迁移超时")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := timescale.NewClient(ctx, cfg.Timescale)
	if err != nil {
		lg.LogError(err, map[string]interface{}{"action": "connect"})
		log.Fatalf("连接数据库失败: %v", err)
	}
	defer db.Close()

	applied, err := timescale.Migrate(ctx, db, *hypertables)
	if err != nil {
		lg.LogError(err, map[string]interface{}{"action": "migrate", "applied": applied})
		log.Fatalf("迁移失败: %v", err)
	}
	lg.Info("migrations applied",
		zap.Strings("files", applied),
		zap.String("database", cfg.Timescale.Database))
}
