package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"candle-engine/market"
)

type candleJSON struct {
	Time   int64   `json:"time"`
	Open   string  `json:"open"`
	High   string  `json:"high"`
	Low    string  `json:"low"`
	Close  string  `json:"close"`
	Volume float64 `json:"volume"`
	Trades int64   `json:"trades"`
}

type candlesResponse struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Candles   []candleJSON `json:"candles"`
}

// GetCandles GET /api/candles/:symbol/:timeframe?limit=N，按时间倒序返回。
func (h *Handler) GetCandles(c *gin.Context) {
	if h.reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		h.handleValidationError(c, errors.New("symbol required"))
		return
	}
	iv, err := h.interval(c.Param("timeframe"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	rows, err := h.reader.Recent(ctx, symbol, iv.Label(), limit)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := candlesResponse{Symbol: symbol, Timeframe: iv.Label(), Candles: make([]candleJSON, 0, len(rows))}
	for _, r := range rows {
		resp.Candles = append(resp.Candles, candleJSON{
			Time:   r.Time.UnixMilli(),
			Open:   market.IntegerToPrice(r.Open, h.scale),
			High:   market.IntegerToPrice(r.High, h.scale),
			Low:    market.IntegerToPrice(r.Low, h.scale),
			Close:  market.IntegerToPrice(r.Close, h.scale),
			Volume: r.Volume,
			Trades: r.Trades,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Health GET /healthz；任一检查失败返回 503。
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, hc := range h.checks {
		if err := hc.Health(); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "OK"
	if status != http.StatusOK {
		state = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"service":   ServiceName,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) interval(tf string) (market.Interval, error) {
	iv, err := market.ParseInterval(tf)
	if err != nil {
		return 0, err
	}
	if _, ok := h.intervals[iv]; !ok {
		return 0, fmt.Errorf("timeframe %s not configured", iv.Label())
	}
	return iv, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", s)
	}
	if n > MaxLimit {
		n = MaxLimit
	}
	return n, nil
}

func (h *Handler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)
	if requestID == "" {
		requestID = "unknown"
	}
	h.log.LogError(err, map[string]interface{}{
		"request_id":  requestID,
		"method":      c.Request.Method,
		"path":        c.Request.URL.Path,
		"status_code": statusCode,
	})
	c.JSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestID,
	})
}

func (h *Handler) handleValidationError(c *gin.Context, err error) {
	h.handleError(c, err, http.StatusBadRequest, err.Error())
}
