package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"candle_completed": {
		Event:    "candle_completed",
		Required: []string{"symbol", "timeframe", "time", "close"},
	},
	"trade_rejected": {
		Event:    "trade_rejected",
		Required: []string{"reason", "error"},
	},
	"trade_late": {
		Event:    "trade_late",
		Required: []string{"symbol", "timeframe"},
	},
	"trade_publish_failed": {
		Event:    "trade_publish_failed",
		Required: []string{"symbol", "topic", "error"},
	},
	"persist_failed": {
		Event:    "persist_failed",
		Required: []string{"kind", "error"},
	},
	"persist_dropped": {
		Event:    "persist_dropped",
		Required: []string{"kind"},
	},
	"feed_connected": {
		Event:    "feed_connected",
		Required: []string{"url"},
	},
	"feed_disconnected": {
		Event:    "feed_disconnected",
		Required: []string{"url", "error"},
	},
	"config_reloaded": {
		Event:    "config_reloaded",
		Required: []string{"path"},
	},
	"config_reload_failed": {
		Event:    "config_reload_failed",
		Required: []string{"path", "error"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
