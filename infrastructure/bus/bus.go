// Package bus 提供 trade/candle topic 的发布订阅抽象及 redis、kafka、内存三种实现。
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrClosed 总线已关闭。
var ErrClosed = errors.New("bus closed")

// Bus 发布/订阅接口。Publish 不做重试。
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription 一个 topic 的订阅；ctx 取消或 Close 后 Messages 关闭。
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

const (
	DriverRedis  = "redis"
	DriverKafka  = "kafka"
	DriverMemory = "memory"
)

type Config struct {
	Driver string      `yaml:"driver"`
	Buffer int         `yaml:"buffer"`
	Redis  RedisConfig `yaml:"redis"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	GroupID      string        `yaml:"group_id"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// DefaultConfig 默认本地 redis。
func DefaultConfig() Config {
	return Config{
		Driver: DriverRedis,
		Buffer: 1024,
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			GroupID:      "candle-engine",
			BatchTimeout: 10 * time.Millisecond,
			RetryDelay:   time.Second,
		},
	}
}

// New 按 driver 创建总线。
func New(ctx context.Context, cfg Config, log *zap.Logger) (Bus, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Driver {
	case DriverRedis, "":
		return NewRedisBus(ctx, cfg.Redis, cfg.Buffer, log)
	case DriverKafka:
		return NewKafkaBus(cfg.Kafka, cfg.Buffer, log)
	case DriverMemory:
		return NewMemoryBus(cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

func bufferOrDefault(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}
