package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	b := NewMemoryBus(4)
	ctx := context.Background()
	s1, err := b.Subscribe(ctx, "trades")
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, "trades")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "completed_candles")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "trades", []byte("x")))
	assert.Equal(t, []byte("x"), recv(t, s1.Messages()))
	assert.Equal(t, []byte("x"), recv(t, s2.Messages()))
	assert.Len(t, other.Messages(), 0)
}

func TestMemoryBusDropsWhenFull(t *testing.T) {
	b := NewMemoryBus(1)
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "t", []byte("1")))
	require.NoError(t, b.Publish(ctx, "t", []byte("2")))
	assert.Equal(t, int64(1), b.Dropped())
	assert.Equal(t, []byte("1"), recv(t, sub.Messages()))
}

func TestMemoryBusSubscriptionEndsWithContext(t *testing.T) {
	b := NewMemoryBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	require.NoError(t, b.Publish(context.Background(), "t", []byte("late")))
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryBus(1)
	sub, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.True(t, errors.Is(b.Publish(context.Background(), "t", nil), ErrClosed))
	_, err = b.Subscribe(context.Background(), "t")
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, sub.Close())
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "carrier-pigeon"}, nil)
	assert.Error(t, err)

	b, err := New(context.Background(), Config{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBus{}, b)
}
