package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"candle-engine/internal/store"
)

// envOverrides CANDLE_* 环境变量；空值不覆盖 YAML。
type envOverrides struct {
	Env           string   `env:"CANDLE_ENV"`
	Roles         []string `env:"CANDLE_ROLES" envSeparator:","`
	LogLevel      string   `env:"CANDLE_LOG_LEVEL"`
	FeedDriver    string   `env:"CANDLE_FEED_DRIVER"`
	FeedEndpoint  string   `env:"CANDLE_FEED_ENDPOINT"`
	FeedSymbols   []string `env:"CANDLE_FEED_SYMBOLS" envSeparator:","`
	SpreadPct     string   `env:"CANDLE_SPREAD_PCT"`
	BusDriver     string   `env:"CANDLE_BUS_DRIVER"`
	RedisAddr     string   `env:"CANDLE_REDIS_ADDR"`
	RedisPassword string   `env:"CANDLE_REDIS_PASSWORD"`
	KafkaBrokers  []string `env:"CANDLE_KAFKA_BROKERS" envSeparator:","`
	DBHost        string   `env:"CANDLE_DB_HOST"`
	DBPort        string   `env:"CANDLE_DB_PORT"`
	DBName        string   `env:"CANDLE_DB_NAME"`
	DBUser        string   `env:"CANDLE_DB_USER"`
	DBPassword    string   `env:"CANDLE_DB_PASSWORD"`
	StoreMode     string   `env:"CANDLE_STORE_MODE"`
	APIAddr       string   `env:"CANDLE_API_ADDR"`
	MetricsAddr   string   `env:"CANDLE_METRICS_ADDR"`
	WebhookURL    string   `env:"CANDLE_ALERT_WEBHOOK_URL"`
}

// LoadWithEnvOverrides loads config, then .env files (if present) and CANDLE_* env vars.
func LoadWithEnvOverrides(path string, dotenv ...string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := loadDotEnv(dotenv...); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// loadDotEnv 不覆盖已存在的环境变量；默认文件 .env 不存在时忽略。
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setString(&cfg.Env, o.Env)
	if len(o.Roles) > 0 {
		cfg.Roles = trimAll(o.Roles)
	}
	setString(&cfg.Logger.Level, o.LogLevel)
	setString(&cfg.Feed.Driver, o.FeedDriver)
	setString(&cfg.Feed.Endpoint, o.FeedEndpoint)
	if len(o.FeedSymbols) > 0 {
		cfg.Feed.Symbols = trimAll(o.FeedSymbols)
	}
	if o.SpreadPct != "" {
		v, err := strconv.ParseFloat(o.SpreadPct, 64)
		if err != nil {
			return fmt.Errorf("CANDLE_SPREAD_PCT: %w", err)
		}
		cfg.Market.SpreadPct = v
	}
	setString(&cfg.Bus.Driver, o.BusDriver)
	setString(&cfg.Bus.Redis.Addr, o.RedisAddr)
	setString(&cfg.Bus.Redis.Password, o.RedisPassword)
	if len(o.KafkaBrokers) > 0 {
		cfg.Bus.Kafka.Brokers = trimAll(o.KafkaBrokers)
	}
	setString(&cfg.Timescale.Host, o.DBHost)
	if o.DBPort != "" {
		v, err := strconv.Atoi(o.DBPort)
		if err != nil {
			return fmt.Errorf("CANDLE_DB_PORT: %w", err)
		}
		cfg.Timescale.Port = v
	}
	setString(&cfg.Timescale.Database, o.DBName)
	setString(&cfg.Timescale.User, o.DBUser)
	setString(&cfg.Timescale.Password, o.DBPassword)
	if o.StoreMode != "" {
		cfg.Store.Mode = store.Mode(o.StoreMode)
	}
	setString(&cfg.API.Addr, o.APIAddr)
	setString(&cfg.Monitor.Addr, o.MetricsAddr)
	setString(&cfg.Alert.WebhookURL, o.WebhookURL)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
