package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"candle-engine/infrastructure/logger"
	"candle-engine/infrastructure/timescale/candle"
	"candle-engine/market"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultLimit        = 100
	MaxLimit            = 1000
	ServiceName         = "candle-engine"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// CandleReader 历史 K 线读取端（timescale candle 仓储）。
type CandleReader interface {
	Recent(ctx context.Context, symbol, timeframe string, limit int) ([]*candle.Candle, error)
}

// HealthChecker 参与 /healthz 的组件。
type HealthChecker interface {
	Health() error
}

// Handler 历史 K 线查询与健康检查。
type Handler struct {
	reader    CandleReader
	intervals map[market.Interval]struct{}
	scale     int32
	checks    map[string]HealthChecker
	log       *logger.Logger
}

func NewHandler(reader CandleReader, intervals []market.Interval, scale int32, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	allowed := make(map[market.Interval]struct{}, len(intervals))
	for _, iv := range intervals {
		allowed[iv] = struct{}{}
	}
	return &Handler{
		reader:    reader,
		intervals: allowed,
		scale:     scale,
		checks:    make(map[string]HealthChecker),
		log:       log,
	}
}

// AddHealthCheck 注册健康检查项。
func (h *Handler) AddHealthCheck(name string, c HealthChecker) {
	h.checks[name] = c
}

// Router 组装路由；extra 中的 handler（如 /ws、/metrics）挂在同一个 engine 上。
func (h *Handler) Router(extra map[string]http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(zapLoggerMiddleware(h.log))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/api/candles/:symbol/:timeframe", h.GetCandles)
	r.GET("/healthz", h.Health)
	for path, handler := range extra {
		r.GET(path, gin.WrapH(handler))
	}
	return r
}
