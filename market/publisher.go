package market

import (
	"context"
	"encoding/json"
	"fmt"
)

// TopicPublisher 消息总线的发布端。
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// KeyedPublisher 支持按 key 分区的总线（如 kafka），同一 symbol 保序。
type KeyedPublisher interface {
	PublishKey(ctx context.Context, topic, key string, payload []byte) error
}

// Publisher 把领域事件编码为 JSON 投递到指定 topic。
type Publisher struct {
	bus   TopicPublisher
	topic string
}

func NewPublisher(bus TopicPublisher, topic string) *Publisher {
	return &Publisher{bus: bus, topic: topic}
}

func (p *Publisher) Topic() string { return p.topic }

// Emit 实现 EventSink。
func (p *Publisher) Emit(ctx context.Context, ev CandleEvent) error {
	return p.publish(ctx, ev.Symbol, ev)
}

// PublishTrade 发布一笔标准化成交。
func (p *Publisher) PublishTrade(ctx context.Context, tr Trade) error {
	return p.publish(ctx, tr.Symbol, tr)
}

func (p *Publisher) publish(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", p.topic, err)
	}
	if kp, ok := p.bus.(KeyedPublisher); ok {
		return kp.PublishKey(ctx, p.topic, key, payload)
	}
	return p.bus.Publish(ctx, p.topic, payload)
}
