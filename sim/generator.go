package sim

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Handler 与 gateway.WSHandler 同形，sim 可直接替换真实行情源。
type Handler interface {
	OnRawMessage(ctx context.Context, msg []byte)
}

// Config 随机游走参数。
type Config struct {
	Symbols    []string
	StartPrice float64
	// Step 单步相对波动上限，如 0.001 = 10bps
	Step     float64
	MaxQty   float64
	Decimals int32
	Interval time.Duration
	Seed     int64
}

func DefaultConfig() Config {
	return Config{
		Symbols:    []string{"BTCUSDT"},
		StartPrice: 100,
		Step:       0.001,
		MaxQty:     1,
		Decimals:   2,
		Interval:   100 * time.Millisecond,
		Seed:       1,
	}
}

type combined struct {
	Stream string      `json:"stream"`
	Data   tradeRecord `json:"data"`
}

type tradeRecord struct {
	EventType  string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"t"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
	Ignore     bool   `json:"M"`
}

// Generator 为每个 symbol 生成 binance 格式的 @trade 消息，用于离线联调。
type Generator struct {
	cfg Config

	mu     sync.Mutex
	rnd    *rand.Rand
	prices map[string]float64
	nextID int64
}

func NewGenerator(cfg Config) (*Generator, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("sim: no symbols")
	}
	if cfg.StartPrice <= 0 {
		return nil, errors.New("sim: start price must be positive")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxQty <= 0 {
		cfg.MaxQty = 1
	}
	prices := make(map[string]float64, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		prices[strings.ToUpper(s)] = cfg.StartPrice
	}
	return &Generator{
		cfg:    cfg,
		rnd:    rand.New(rand.NewSource(cfg.Seed)),
		prices: prices,
	}, nil
}

// Next 每个 symbol 走一步，返回对应消息。
func (g *Generator) Next(now time.Time) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([][]byte, 0, len(g.cfg.Symbols))
	for _, s := range g.cfg.Symbols {
		sym := strings.ToUpper(s)
		p := g.prices[sym] * (1 + (g.rnd.Float64()*2-1)*g.cfg.Step)
		minTick := decimal.New(1, -g.cfg.Decimals).InexactFloat64()
		if p < minTick {
			p = minTick
		}
		g.prices[sym] = p
		g.nextID++

		qty := g.rnd.Float64() * g.cfg.MaxQty
		ts := now.UnixMilli()
		msg := combined{
			Stream: strings.ToLower(sym) + "@trade",
			Data: tradeRecord{
				EventType:  "trade",
				EventTime:  ts,
				Symbol:     sym,
				TradeID:    g.nextID,
				Price:      decimal.NewFromFloat(p).StringFixed(g.cfg.Decimals),
				Quantity:   decimal.NewFromFloat(qty).StringFixed(4),
				TradeTime:  ts,
				BuyerMaker: g.rnd.Intn(2) == 0,
				Ignore:     true,
			},
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Run 按 Interval 持续生成，直到 ctx 取消。
func (g *Generator) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, msg := range g.Next(now) {
				h.OnRawMessage(ctx, msg)
			}
		}
	}
}
