package bus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu     sync.Mutex
	queue  []kafka.Message
	errs   []error
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return kafka.Message{}, io.EOF
		}
		if len(r.errs) > 0 {
			err := r.errs[0]
			r.errs = r.errs[1:]
			r.mu.Unlock()
			return kafka.Message{}, err
		}
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func newFakeKafkaBus(t *testing.T, reader *fakeReader) (*KafkaBus, *fakeWriter) {
	t.Helper()
	b, err := NewKafkaBus(KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "test", RetryDelay: time.Millisecond}, 4, zap.NewNop())
	require.NoError(t, err)
	w := &fakeWriter{}
	b.writer = w
	b.newReader = func(string) messageReader { return reader }
	return b, w
}

func TestKafkaBusPublishKeyed(t *testing.T) {
	b, w := newFakeKafkaBus(t, &fakeReader{})
	ctx := context.Background()

	require.NoError(t, b.PublishKey(ctx, "trades", "BTCUSDT", []byte("a")))
	require.NoError(t, b.Publish(ctx, "completed_candles", []byte("b")))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "trades", w.msgs[0].Topic)
	assert.Equal(t, []byte("BTCUSDT"), w.msgs[0].Key)
	assert.Nil(t, w.msgs[1].Key)

	w.err = errors.New("broker down")
	assert.Error(t, b.Publish(ctx, "trades", []byte("c")))

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, "trades", nil), ErrClosed)
}

func TestKafkaBusSubscribeRetriesReadErrors(t *testing.T) {
	reader := &fakeReader{
		errs:  []error{errors.New("rebalance")},
		queue: []kafka.Message{{Value: []byte("one")}, {Value: []byte("two")}},
	}
	b, _ := newFakeKafkaBus(t, reader)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "trades")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), recv(t, sub.Messages()))
	assert.Equal(t, []byte("two"), recv(t, sub.Messages()))

	require.NoError(t, sub.Close())
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Messages():
			if !ok {
				reader.mu.Lock()
				defer reader.mu.Unlock()
				assert.True(t, reader.closed)
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed")
		}
	}
}

func TestNewKafkaBusRequiresBrokers(t *testing.T) {
	_, err := NewKafkaBus(KafkaConfig{}, 0, nil)
	assert.Error(t, err)
}
