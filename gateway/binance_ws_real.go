package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"candle-engine/infrastructure/logger"
)

const (
	BinanceSpotWSEndpoint = "wss://stream.binance.com:9443"

	DefaultReconnectDelay = 3 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// FeedObserver 连接状态回调。
type FeedObserver interface {
	FeedConnected()
	FeedDisconnected()
}

// FeedAlerter 断线告警。
type FeedAlerter interface {
	SendWarning(message string, fields map[string]interface{}) error
}

// BinanceStream 订阅 <symbol>@trade combined stream，断线后按固定间隔重连，直到 ctx 取消。
type BinanceStream struct {
	Endpoint       string
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration

	symbols  []string
	log      *logger.Logger
	observer FeedObserver
	alerter  FeedAlerter

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewBinanceStream(endpoint string, symbols []string, log *logger.Logger) *BinanceStream {
	if endpoint == "" {
		endpoint = BinanceSpotWSEndpoint
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BinanceStream{
		Endpoint:       endpoint,
		Dialer:         websocket.DefaultDialer,
		ReconnectDelay: DefaultReconnectDelay,
		ReadTimeout:    DefaultReadTimeout,
		symbols:        symbols,
		log:            log,
	}
}

func (b *BinanceStream) SetObserver(o FeedObserver) { b.observer = o }

func (b *BinanceStream) SetAlerter(a FeedAlerter) { b.alerter = a }

// URL 构建 combined stream 地址，例如 /stream?streams=btcusdt@trade/ethusdt@trade。
func (b *BinanceStream) URL() (string, error) {
	if len(b.symbols) == 0 {
		return "", errors.New("no symbols subscribed")
	}
	u, err := url.Parse(b.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", b.Endpoint, err)
	}
	streams := make([]string, 0, len(b.symbols))
	for _, s := range b.symbols {
		if s == "" {
			return "", errors.New("empty symbol")
		}
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	u.Path = "/stream"
	// '@' 和 '/' 在 query 中合法，不做转义
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// Run 阻塞运行，ctx 取消后返回 ctx.Err()。
func (b *BinanceStream) Run(ctx context.Context, handler WSHandler) error {
	wsURL, err := b.URL()
	if err != nil {
		return err
	}
	delay := b.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.runOnce(ctx, wsURL, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.disconnected(wsURL, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Close 断开当前连接，Run 会按重连间隔重新建立。
func (b *BinanceStream) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func (b *BinanceStream) runOnce(ctx context.Context, wsURL string, handler WSHandler) error {
	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		_ = conn.Close()
	}()

	if b.observer != nil {
		b.observer.FeedConnected()
	}
	b.log.LogFeed("feed_connected", map[string]interface{}{"url": wsURL})

	// ctx 取消时关闭连接，让 ReadMessage 返回
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	timeout := b.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	// 服务端 ping 时续期并回 pong
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		if handler != nil {
			handler.OnRawMessage(ctx, msg)
		}
	}
}

func (b *BinanceStream) disconnected(wsURL string, err error) {
	if b.observer != nil {
		b.observer.FeedDisconnected()
	}
	msg := "closed"
	if err != nil {
		msg = err.Error()
	}
	b.log.LogFeed("feed_disconnected", map[string]interface{}{
		"url":   wsURL,
		"error": msg,
	})
	if b.alerter != nil {
		_ = b.alerter.SendWarning("trade feed disconnected", map[string]interface{}{
			"url":   wsURL,
			"error": msg,
		})
	}
}
