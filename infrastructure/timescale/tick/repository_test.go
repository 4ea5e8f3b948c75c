package tick

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"candle-engine/infrastructure/timescale/mock"
	"candle-engine/market"
)

func TestTick_Store(t *testing.T) {
	now := time.UnixMilli(1700000000000).UTC()
	testCases := []struct {
		name     string
		mockFn   func(testData *Tick, m *mock.MockDBClient)
		assertFn func(t *testing.T, err error)
	}{
		{
			name: "success",
			mockFn: func(testData *Tick, m *mock.MockDBClient) {
				m.EXPECT().Exec(gomock.Any(), insertTick,
					testData.Time, testData.Symbol, testData.Price, testData.Bid, testData.Ask, testData.Quantity,
				).Return(nil)
			},
			assertFn: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "error - exec fails",
			mockFn: func(testData *Tick, m *mock.MockDBClient) {
				m.EXPECT().Exec(gomock.Any(), insertTick,
					gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
				).Return(errors.New("connection reset"))
			},
			assertFn: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "connection reset")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mock.NewMockDBClient(ctrl)
			testData := &Tick{Time: now, Symbol: "BTCUSDT", Price: 100, Bid: 99, Ask: 101, Quantity: 0.25}
			tc.mockFn(testData, client)

			err := NewRepository(client).Store(context.Background(), testData)
			tc.assertFn(t, err)
		})
	}
}

func TestTick_StoreBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockDBClient(ctrl)
	repo := NewRepository(client)

	assert.NoError(t, repo.StoreBatch(context.Background(), nil))

	client.EXPECT().CopyFrom(gomock.Any(), pgx.Identifier{"ticks"}, columns, gomock.Any()).Return(int64(2), nil)
	err := repo.StoreBatch(context.Background(), []*Tick{{Symbol: "A"}, {Symbol: "B"}})
	assert.NoError(t, err)

	client.EXPECT().CopyFrom(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), errors.New("copy failed"))
	assert.Error(t, repo.StoreBatch(context.Background(), []*Tick{{Symbol: "A"}}))
}

func TestFromTrade(t *testing.T) {
	tk := FromTrade(market.Trade{Symbol: "BTCUSDT", Price: 100, Bid: 99, Ask: 101, Quantity: 2, Timestamp: 30000})
	assert.Equal(t, time.UnixMilli(30000).UTC(), tk.Time)
	assert.Equal(t, int64(101), tk.Ask)
}
