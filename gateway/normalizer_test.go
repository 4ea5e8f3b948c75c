package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-engine/infrastructure/bus"
	"candle-engine/market"
)

type fakePublisher struct {
	mu     sync.Mutex
	trades []market.Trade
	err    error
}

func (p *fakePublisher) PublishTrade(_ context.Context, tr market.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.trades = append(p.trades, tr)
	return nil
}

func (p *fakePublisher) Topic() string { return "trades" }

type countingNormalizeObserver struct {
	normalized int
	rejected   map[string]int
	failed     int
}

func (o *countingNormalizeObserver) TradeNormalized(string) { o.normalized++ }
func (o *countingNormalizeObserver) NormalizeRejected(reason string) {
	if o.rejected == nil {
		o.rejected = map[string]int{}
	}
	o.rejected[reason]++
}
func (o *countingNormalizeObserver) PublishFailed(string) { o.failed++ }

const btcTrade = `{"stream":"btcusdt@trade","data":{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":1,"p":"67321.45","q":"0.5","T":1700000000099,"m":false,"M":true}}`

func TestNormalizeScalesPriceAndQuotes(t *testing.T) {
	spread, err := market.NewPercentSpread(2)
	require.NoError(t, err)
	n := NewNormalizer(2, spread, &fakePublisher{}, nil)

	tr, ok, err := n.Normalize([]byte(btcTrade))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, int64(6732145), tr.Price)
	assert.Equal(t, int64(1700000000099), tr.Timestamp)
	assert.InDelta(t, 0.5, tr.Quantity, 1e-12)
	// 6732145 * 2 / 200 = 67321.45
	assert.Equal(t, int64(6664824), tr.Bid)
	assert.Equal(t, int64(6799466), tr.Ask)
}

func TestNormalizeRejectsTooManyDecimals(t *testing.T) {
	n := NewNormalizer(1, nil, &fakePublisher{}, nil)
	_, ok, err := n.Normalize([]byte(btcTrade))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, market.ErrInvalidPrice))
}

func TestNormalizeIgnoresNoise(t *testing.T) {
	n := NewNormalizer(8, nil, &fakePublisher{}, nil)
	_, ok, err := n.Normalize([]byte(`{"result":null,"id":1}`))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalizeRejectsMissingTradeTime(t *testing.T) {
	n := NewNormalizer(8, nil, &fakePublisher{}, nil)
	_, _, err := n.Normalize([]byte(`{"e":"trade","s":"BTCUSDT","p":"1","q":"1"}`))
	assert.True(t, errors.Is(err, market.ErrInvalidTrade))
}

func TestHandlePublishesAndCounts(t *testing.T) {
	pub := &fakePublisher{}
	obs := &countingNormalizeObserver{}
	n := NewNormalizer(8, nil, pub, nil)
	n.SetObserver(obs)

	require.NoError(t, n.Handle(context.Background(), []byte(btcTrade)))
	require.NoError(t, n.Handle(context.Background(), []byte(`{"result":null,"id":1}`)))
	assert.Error(t, n.Handle(context.Background(), []byte(`{"e":"trade","s":"BTCUSDT","p":"-1","q":"1","T":1}`)))
	assert.Error(t, n.Handle(context.Background(), []byte(`garbage`)))

	assert.Len(t, pub.trades, 1)
	assert.Equal(t, 1, obs.normalized)
	assert.Equal(t, 1, obs.rejected["price"])
	assert.Equal(t, 1, obs.rejected["decode"])
}

func TestHandlePublishFailureIsNotRetried(t *testing.T) {
	pub := &fakePublisher{err: errors.New("bus down")}
	obs := &countingNormalizeObserver{}
	n := NewNormalizer(8, nil, pub, nil)
	n.SetObserver(obs)

	err := n.Handle(context.Background(), []byte(btcTrade))
	assert.Error(t, err)
	assert.Equal(t, 1, obs.failed)
	assert.Equal(t, 0, obs.normalized)
}

func TestNormalizerPublishesToBus(t *testing.T) {
	mb := bus.NewMemoryBus(8)
	defer mb.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := mb.Subscribe(ctx, "trades")
	require.NoError(t, err)

	n := NewNormalizer(2, nil, market.NewPublisher(mb, "trades"), nil)
	n.OnRawMessage(ctx, []byte(btcTrade))

	payload := <-sub.Messages()
	tr, err := market.DecodeTrade(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(6732145), tr.Price)
	assert.Equal(t, "BTCUSDT", tr.Symbol)
}
