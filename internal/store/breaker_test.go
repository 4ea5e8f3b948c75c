package store

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerStateTransitions(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBreaker(BreakerConfig{Threshold: 3, Timeout: time.Second, HalfOpen: 2})
	b.now = func() time.Time { return now }

	boom := errors.New("db down")
	b.record(boom)
	b.record(boom)
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED before threshold, got %s", b.State())
	}
	changed, state := b.record(boom)
	if !changed || state != StateOpen {
		t.Fatalf("expected OPEN after threshold, got %s changed=%v", state, changed)
	}
	if err := b.allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(time.Second)
	if err := b.allow(); err != nil {
		t.Fatalf("expected half-open trial, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", b.State())
	}

	// 半开状态下失败立即重新打开
	if changed, state := b.record(boom); !changed || state != StateOpen {
		t.Fatalf("expected reopen, got %s", state)
	}

	now = now.Add(time.Second)
	_ = b.allow()
	b.record(nil)
	if b.State() != StateHalfOpen {
		t.Fatalf("one success should not close, got %s", b.State())
	}
	if changed, state := b.record(nil); !changed || state != StateClosed {
		t.Fatalf("expected CLOSED, got %s", state)
	}
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	b := newBreaker(BreakerConfig{Threshold: 2})
	boom := errors.New("db down")
	b.record(boom)
	b.record(nil)
	b.record(boom)
	if b.State() != StateClosed {
		t.Fatalf("non-consecutive failures opened the breaker")
	}
}

func TestBreakerDisabled(t *testing.T) {
	b := newBreaker(BreakerConfig{})
	for i := 0; i < 10; i++ {
		if changed, _ := b.record(errors.New("x")); changed {
			t.Fatalf("disabled breaker changed state")
		}
	}
	if err := b.allow(); err != nil {
		t.Fatalf("disabled breaker rejected: %v", err)
	}
}
