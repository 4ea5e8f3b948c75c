package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaBus 使用 kafka topic；按 symbol 作为 key 写入以保证单 symbol 有序。
// 每个 topic 使用 "<group_id>.<topic>" 消费组。
type KafkaBus struct {
	cfg    KafkaConfig
	buffer int
	log    *zap.Logger

	writer    messageWriter
	newReader func(topic string) messageReader

	mu     sync.Mutex
	closed bool
}

func NewKafkaBus(cfg KafkaConfig, buffer int, log *zap.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka bus requires at least one broker")
	}
	if log == nil {
		log = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	b := &KafkaBus{cfg: cfg, buffer: bufferOrDefault(buffer), log: log, writer: writer}
	b.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID + "." + topic,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		})
	}
	return b, nil
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.PublishKey(ctx, topic, "", payload)
}

func (b *KafkaBus) PublishKey(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	msg := kafka.Message{Topic: topic, Value: payload}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSub{
		reader: b.newReader(topic),
		out:    make(chan []byte, b.buffer),
		cancel: cancel,
	}
	retry := b.cfg.RetryDelay
	if retry <= 0 {
		retry = time.Second
	}
	go sub.pump(subCtx, retry, b.log.With(zap.String("topic", topic)))
	return sub, nil
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.writer.Close()
}

type kafkaSub struct {
	reader messageReader
	out    chan []byte
	cancel context.CancelFunc
}

func (s *kafkaSub) Messages() <-chan []byte { return s.out }

func (s *kafkaSub) Close() error {
	s.cancel()
	return nil
}

func (s *kafkaSub) pump(ctx context.Context, retry time.Duration, log *zap.Logger) {
	defer close(s.out)
	defer func() {
		if err := s.reader.Close(); err != nil {
			log.Warn("kafka reader close failed", zap.Error(err))
		}
	}()
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Warn("kafka read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			continue
		}
		select {
		case s.out <- m.Value:
		case <-ctx.Done():
			return
		}
	}
}
