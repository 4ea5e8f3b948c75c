package gateway

import (
	"encoding/json"
	"fmt"
)

// CombinedMessage 对应 binance combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// TradeEvent <symbol>@trade 消息。大小写不同的 key 必须全部声明，
// 否则 encoding/json 的大小写不敏感匹配会把 "t" 写进 "T"。
type TradeEvent struct {
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

// ParseTrade 解析 combined 或裸 trade 消息。非 trade 事件（订阅确认、其他 stream）返回 ok=false。
func ParseTrade(raw []byte) (TradeEvent, bool, error) {
	var msg CombinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return TradeEvent{}, false, fmt.Errorf("decode ws message: %w", err)
	}
	payload := []byte(raw)
	if len(msg.Data) > 0 {
		payload = msg.Data
	}
	var ev TradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TradeEvent{}, false, fmt.Errorf("decode trade event: %w", err)
	}
	if ev.EventType != "trade" {
		return TradeEvent{}, false, nil
	}
	return ev, true, nil
}
