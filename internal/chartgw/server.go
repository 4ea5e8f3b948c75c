package chartgw

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"candle-engine/infrastructure/bus"
)

// Server 把 HTTP 升级为 websocket 并交给 Hub。
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewServer(h *Hub) *Server {
	return &Server{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 图表页面与网关不同源
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.log.Debug("chart upgrade failed", zap.Error(err))
		return
	}
	c := newClient(conn, s.hub)
	s.hub.Register(c)
	c.Start()
}

// Subscriber 总线订阅端。
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (bus.Subscription, error)
}

// Topics 需要转发的总线 topic；空字符串表示不转发。
type Topics struct {
	Trades    string
	Snapshot  string
	Completed string
}

// Relay 订阅总线并把消息推给已订阅的客户端。ctx 取消后返回 ctx.Err()；
// 任一订阅在 ctx 取消前被关闭（总线断开）时返回错误，由上层决定重启。
func (h *Hub) Relay(ctx context.Context, sub Subscriber, topics Topics) error {
	type route struct {
		topic string
		fn    func([]byte) error
	}
	var routes []route
	if topics.Snapshot != "" {
		routes = append(routes, route{topics.Snapshot, h.BroadcastCandle})
	}
	if topics.Completed != "" && topics.Completed != topics.Snapshot {
		routes = append(routes, route{topics.Completed, h.BroadcastCandle})
	}
	if topics.Trades != "" {
		routes = append(routes, route{topics.Trades, h.BroadcastTrade})
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subs := make([]bus.Subscription, 0, len(routes))
	defer func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}()
	for _, r := range routes {
		s, err := sub.Subscribe(rctx, r.topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", r.topic, err)
		}
		subs = append(subs, s)
	}

	errCh := make(chan error, len(routes))
	var wg sync.WaitGroup
	for i, r := range routes {
		wg.Add(1)
		go func(topic string, msgs <-chan []byte, fn func([]byte) error) {
			defer wg.Done()
			for {
				select {
				case <-rctx.Done():
					return
				case payload, ok := <-msgs:
					if !ok {
						if ctx.Err() == nil && rctx.Err() == nil {
							errCh <- fmt.Errorf("chart relay: subscription %s closed", topic)
						}
						return
					}
					if err := fn(payload); err != nil {
						h.log.Warn("chart relay skip message", zap.String("topic", topic), zap.Error(err))
					}
				}
			}
		}(r.topic, subs[i].Messages(), r.fn)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		h.log.Error("chart relay stopped", zap.Error(err))
	}
	cancel()
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
