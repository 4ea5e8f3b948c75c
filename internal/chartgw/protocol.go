package chartgw

import "encoding/json"

const (
	ActionSubscribeCandles   = "subscribe-candles"
	ActionUnsubscribeCandles = "unsubscribe-candles"
	ActionSubscribeTrades    = "subscribe-trades"
	ActionUnsubscribeTrades  = "unsubscribe-trades"
)

// 下行消息类型
const (
	TypeCandleSnapshot = "candle-snapshot"
	TypeLiveTrade      = "live-trade"
	TypeAck            = "ack"
	TypeError          = "error"
)

// Request 客户端上行命令。
type Request struct {
	Action    string `json:"action"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe,omitempty"`
	ID        string `json:"id,omitempty"`
}

// Envelope 下行消息；data 为总线上的原始 JSON。
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
