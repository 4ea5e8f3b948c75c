package market

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// SpreadModel 为成交价合成买一/卖一报价。
type SpreadModel interface {
	Quote(price int64) (bid, ask int64)
}

var twoHundred = decimal.NewFromInt(200)

// PercentSpread 按百分比对称地在成交价两侧展开价差。
type PercentSpread struct {
	mu  sync.RWMutex
	pct decimal.Decimal
}

func NewPercentSpread(pct float64) (*PercentSpread, error) {
	s := &PercentSpread{}
	if err := s.SetPercent(pct); err != nil {
		return nil, err
	}
	return s, nil
}

// SetPercent 热更新价差百分比。
func (s *PercentSpread) SetPercent(pct float64) error {
	if pct < 0 || pct >= 100 {
		return fmt.Errorf("spread percent must be in [0,100), got %v", pct)
	}
	s.mu.Lock()
	s.pct = decimal.NewFromFloat(pct)
	s.mu.Unlock()
	return nil
}

func (s *PercentSpread) Percent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pct.InexactFloat64()
}

// Quote bid = p - p*pct/200, ask = p + p*pct/200，四舍五入到整数刻度。
func (s *PercentSpread) Quote(price int64) (int64, int64) {
	s.mu.RLock()
	pct := s.pct
	s.mu.RUnlock()

	p := decimal.NewFromInt(price)
	half := p.Mul(pct).Div(twoHundred)
	return p.Sub(half).Round(0).IntPart(), p.Add(half).Round(0).IntPart()
}
