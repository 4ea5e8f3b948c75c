package store

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen 熔断期间写入直接失败，不访问数据库。
var ErrCircuitOpen = errors.New("persistence circuit open")

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断配置；Threshold<=0 表示关闭熔断。
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`       // 连续失败次数
	Timeout   time.Duration `yaml:"timeout"`         // 打开状态持续时间
	HalfOpen  int           `yaml:"half_open_tries"` // 半开状态连续成功多少次后关闭
}

// breaker 数据库不可用时避免每条记录都等到 WriteTimeout。
type breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       State
	consecutive int
	successes   int
	openedAt    time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpen <= 0 {
		cfg.HalfOpen = 1
	}
	return &breaker{cfg: cfg, now: time.Now}
}

func (b *breaker) enabled() bool { return b.cfg.Threshold > 0 }

// allow 打开状态且未到期时返回 ErrCircuitOpen；到期后转为半开放行。
func (b *breaker) allow() error {
	if !b.enabled() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.Timeout {
		return ErrCircuitOpen
	}
	b.state = StateHalfOpen
	b.successes = 0
	return nil
}

// record 记录一次写入结果，返回状态是否发生变化及新状态。
func (b *breaker) record(err error) (bool, State) {
	if !b.enabled() {
		return false, StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.state
	if err != nil {
		b.consecutive++
		b.successes = 0
		switch b.state {
		case StateClosed:
			if b.consecutive >= b.cfg.Threshold {
				b.open()
			}
		case StateHalfOpen:
			b.open()
		}
		return b.state != prev, b.state
	}

	b.consecutive = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.HalfOpen {
			b.state = StateClosed
			b.successes = 0
		}
	}
	return b.state != prev, b.state
}

func (b *breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
