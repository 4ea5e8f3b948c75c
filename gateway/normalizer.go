package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"candle-engine/infrastructure/logger"
	"candle-engine/market"
)

// TradePublisher 标准化成交的发布端（market.Publisher）。
type TradePublisher interface {
	PublishTrade(ctx context.Context, tr market.Trade) error
	Topic() string
}

// NormalizeObserver 标准化计数回调。
type NormalizeObserver interface {
	TradeNormalized(symbol string)
	NormalizeRejected(reason string)
	PublishFailed(topic string)
}

// Normalizer 把交易所原始成交转换为定点整数价格的 Trade 并发布。
// 发布失败只记录，不重试。
type Normalizer struct {
	scale    int32
	spread   market.SpreadModel
	pub      TradePublisher
	observer NormalizeObserver
	log      *logger.Logger
}

func NewNormalizer(scale int32, spread market.SpreadModel, pub TradePublisher, log *logger.Logger) *Normalizer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Normalizer{
		scale:    scale,
		spread:   spread,
		pub:      pub,
		observer: nopNormalizeObserver{},
		log:      log,
	}
}

func (n *Normalizer) SetObserver(o NormalizeObserver) {
	if o == nil {
		o = nopNormalizeObserver{}
	}
	n.observer = o
}

// Normalize 解析并转换一条原始消息。ok=false 且 err=nil 表示非成交消息，直接忽略。
func (n *Normalizer) Normalize(raw []byte) (market.Trade, bool, error) {
	ev, ok, err := ParseTrade(raw)
	if err != nil || !ok {
		return market.Trade{}, false, err
	}
	price, err := market.PriceToInteger(ev.Price, n.scale)
	if err != nil {
		return market.Trade{}, false, err
	}
	qty, err := decimal.NewFromString(ev.Quantity)
	if err != nil {
		return market.Trade{}, false, fmt.Errorf("%w: quantity %q", market.ErrInvalidTrade, ev.Quantity)
	}
	if ev.TradeTime <= 0 {
		return market.Trade{}, false, fmt.Errorf("%w: missing trade time", market.ErrInvalidTrade)
	}
	tr := market.Trade{
		Symbol:    ev.Symbol,
		Price:     price,
		Quantity:  qty.InexactFloat64(),
		Timestamp: ev.TradeTime,
	}
	if n.spread != nil {
		tr.Bid, tr.Ask = n.spread.Quote(price)
	}
	if err := tr.Validate(); err != nil {
		return market.Trade{}, false, err
	}
	return tr, true, nil
}

// Handle 标准化并发布一条消息。
func (n *Normalizer) Handle(ctx context.Context, raw []byte) error {
	tr, ok, err := n.Normalize(raw)
	if err != nil {
		reason := rejectReason(err)
		n.observer.NormalizeRejected(reason)
		n.log.LogTrade("trade_rejected", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
		return err
	}
	if !ok {
		return nil
	}
	if err := n.pub.PublishTrade(ctx, tr); err != nil {
		n.observer.PublishFailed(n.pub.Topic())
		n.log.LogTrade("trade_publish_failed", map[string]interface{}{
			"symbol": tr.Symbol,
			"topic":  n.pub.Topic(),
			"error":  err.Error(),
		})
		return err
	}
	n.observer.TradeNormalized(tr.Symbol)
	return nil
}

// OnRawMessage 实现 WSHandler；错误已在 Handle 内记录。
func (n *Normalizer) OnRawMessage(ctx context.Context, msg []byte) {
	_ = n.Handle(ctx, msg)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, market.ErrInvalidPrice):
		return "price"
	case errors.Is(err, market.ErrInvalidTrade):
		return "invalid"
	default:
		return "decode"
	}
}

type nopNormalizeObserver struct{}

func (nopNormalizeObserver) TradeNormalized(string)   {}
func (nopNormalizeObserver) NormalizeRejected(string) {}
func (nopNormalizeObserver) PublishFailed(string)     {}
