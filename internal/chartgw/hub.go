package chartgw

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"candle-engine/infrastructure/logger"
	"candle-engine/market"
)

// Client hub 视角下的连接。
type Client interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// ClientObserver 连接数回调（监控）。
type ClientObserver interface {
	ChartClients(n int)
}

type subKey struct {
	symbol   string
	interval market.Interval
}

type clientState struct {
	candles map[subKey]struct{}
	trades  map[string]struct{}
}

// Hub 维护订阅关系，只把客户端订阅过的 K 线/成交推给它。
type Hub struct {
	intervals map[market.Interval]struct{}
	log       *logger.Logger
	observer  ClientObserver

	mu        sync.RWMutex
	clients   map[Client]*clientState
	candleSub map[subKey]map[Client]struct{}
	tradeSub  map[string]map[Client]struct{}
}

// NewHub intervals 为可订阅的周期，空表示不限制。
func NewHub(intervals []market.Interval, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	allowed := make(map[market.Interval]struct{}, len(intervals))
	for _, iv := range intervals {
		allowed[iv] = struct{}{}
	}
	return &Hub{
		intervals: allowed,
		log:       log,
		clients:   make(map[Client]*clientState),
		candleSub: make(map[subKey]map[Client]struct{}),
		tradeSub:  make(map[string]map[Client]struct{}),
	}
}

func (h *Hub) SetObserver(o ClientObserver) { h.observer = o }

func (h *Hub) Register(c Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.clients[c] = &clientState{
			candles: make(map[subKey]struct{}),
			trades:  make(map[string]struct{}),
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.reportClients(n)
}

// Unregister 清理订阅并关闭连接发送队列。
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	st, ok := h.clients[c]
	if ok {
		for k := range st.candles {
			removeClient(h.candleSub, k, c)
		}
		for s := range st.trades {
			removeClient(h.tradeSub, s, c)
		}
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.Close()
		h.reportClients(n)
	}
}

// Clients 当前连接数。
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleCommand 处理一条上行命令，应答 ack 或 error。
func (h *Hub) HandleCommand(c Client, req Request) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		h.sendError(c, req.ID, "symbol required")
		return
	}
	switch req.Action {
	case ActionSubscribeCandles, ActionUnsubscribeCandles:
		iv, err := h.interval(req.Timeframe)
		if err != nil {
			h.sendError(c, req.ID, err.Error())
			return
		}
		key := subKey{symbol: symbol, interval: iv}
		if req.Action == ActionSubscribeCandles {
			h.subscribeCandles(c, key)
		} else {
			h.unsubscribeCandles(c, key)
		}
		h.sendAck(c, req.ID, fmt.Sprintf("%s %s %s", req.Action, symbol, iv.Label()))
	case ActionSubscribeTrades:
		h.subscribeTrades(c, symbol)
		h.sendAck(c, req.ID, fmt.Sprintf("%s %s", req.Action, symbol))
	case ActionUnsubscribeTrades:
		h.unsubscribeTrades(c, symbol)
		h.sendAck(c, req.ID, fmt.Sprintf("%s %s", req.Action, symbol))
	default:
		h.sendError(c, req.ID, "unknown action: "+req.Action)
	}
}

// BroadcastCandle 转发 CandleEvent（snapshot 与 completed 两种来源）。
func (h *Hub) BroadcastCandle(payload []byte) error {
	var ev market.CandleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode candle event: %w", err)
	}
	iv, err := market.ParseInterval(ev.Timeframe)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{Type: TypeCandleSnapshot, Data: payload})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.candleSub[subKey{symbol: ev.Symbol, interval: iv}] {
		c.SendBytes(msg)
	}
	return nil
}

// BroadcastTrade 转发标准化成交。
func (h *Hub) BroadcastTrade(payload []byte) error {
	tr, err := market.DecodeTrade(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{Type: TypeLiveTrade, Data: payload})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.tradeSub[tr.Symbol] {
		c.SendBytes(msg)
	}
	return nil
}

func (h *Hub) interval(tf string) (market.Interval, error) {
	iv, err := market.ParseInterval(tf)
	if err != nil {
		return 0, err
	}
	if len(h.intervals) > 0 {
		if _, ok := h.intervals[iv]; !ok {
			return 0, fmt.Errorf("timeframe %s not configured", iv.Label())
		}
	}
	return iv, nil
}

func (h *Hub) subscribeCandles(c Client, key subKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(c)
	st.candles[key] = struct{}{}
	addClient(h.candleSub, key, c)
}

func (h *Hub) unsubscribeCandles(c Client, key subKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.clients[c]; ok {
		delete(st.candles, key)
	}
	removeClient(h.candleSub, key, c)
}

func (h *Hub) subscribeTrades(c Client, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(c)
	st.trades[symbol] = struct{}{}
	addClient(h.tradeSub, symbol, c)
}

func (h *Hub) unsubscribeTrades(c Client, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.clients[c]; ok {
		delete(st.trades, symbol)
	}
	removeClient(h.tradeSub, symbol, c)
}

// state 调用方持有写锁；未 Register 的客户端自动登记。
func (h *Hub) state(c Client) *clientState {
	st, ok := h.clients[c]
	if !ok {
		st = &clientState{
			candles: make(map[subKey]struct{}),
			trades:  make(map[string]struct{}),
		}
		h.clients[c] = st
	}
	return st
}

func (h *Hub) reportClients(n int) {
	if h.observer != nil {
		h.observer.ChartClients(n)
	}
	h.log.Debug("chart clients", zap.Int("count", n))
}

func (h *Hub) sendAck(c Client, id, msg string) {
	c.SendJSON(Envelope{Type: TypeAck, ID: id, Message: msg})
}

func (h *Hub) sendError(c Client, id, msg string) {
	c.SendJSON(Envelope{Type: TypeError, ID: id, Message: msg})
}

func addClient[K comparable](m map[K]map[Client]struct{}, k K, c Client) {
	set, ok := m[k]
	if !ok {
		set = make(map[Client]struct{})
		m[k] = set
	}
	set[c] = struct{}{}
}

func removeClient[K comparable](m map[K]map[Client]struct{}, k K, c Client) {
	set, ok := m[k]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m, k)
	}
}
