package market

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultPriceScale 默认小数位数。
	DefaultPriceScale int32 = 8
	// MaxPriceScale int64 能容纳的最大精度。
	MaxPriceScale int32 = 18
)

// ErrInvalidPrice 价格字符串无法无损转换为定点整数。
var ErrInvalidPrice = errors.New("invalid price")

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

// PriceToInteger 把十进制字符串按 scale 放大为整数，不经过 float。
// 小数位多于 scale 时返回 ErrInvalidPrice，不做截断。
func PriceToInteger(s string, scale int32) (int64, error) {
	if scale < 0 || scale > MaxPriceScale {
		return 0, fmt.Errorf("%w: scale %d out of range", ErrInvalidPrice, scale)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidPrice, s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative %q", ErrInvalidPrice, s)
	}
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidPrice, s, scale)
	}
	if shifted.GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%w: %q overflows at scale %d", ErrInvalidPrice, s, scale)
	}
	return shifted.IntPart(), nil
}

// IntegerToPrice 是 PriceToInteger 的逆运算，去掉多余的尾零。
func IntegerToPrice(v int64, scale int32) string {
	return IntegerToDecimal(v, scale).String()
}

// IntegerToDecimal 返回定点整数对应的 decimal 值。
func IntegerToDecimal(v int64, scale int32) decimal.Decimal {
	return decimal.New(v, -scale)
}
