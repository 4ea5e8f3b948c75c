package candle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"candle-engine/infrastructure/timescale/mock"
	"candle-engine/market"
)

func TestCandle_Store(t *testing.T) {
	c := FromMarket(market.Candle{
		Symbol: "BTCUSDT", Interval: market.Interval30s, BucketStart: 0,
		Open: 100, High: 105, Low: 95, Close: 95, Volume: 3, Trades: 3,
	})
	testCases := []struct {
		name     string
		mockFn   func(m *mock.MockDBClient)
		assertFn func(t *testing.T, err error)
	}{
		{
			name: "success",
			mockFn: func(m *mock.MockDBClient) {
				m.EXPECT().Exec(gomock.Any(), upsertCandle,
					c.Time, "BTCUSDT", "30s", int64(100), int64(105), int64(95), int64(95), 3.0, int64(3),
				).Return(nil)
			},
			assertFn: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "error - exec fails",
			mockFn: func(m *mock.MockDBClient) {
				m.EXPECT().Exec(gomock.Any(), upsertCandle,
					gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
					gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
				).Return(errors.New("deadlock"))
			},
			assertFn: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "store candle BTCUSDT 30s")
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mock.NewMockDBClient(ctrl)
			tc.mockFn(client)
			tc.assertFn(t, NewRepository(client).Store(context.Background(), c))
		})
	}
}

func TestCandle_Recent(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockDBClient(ctrl)
	rows := mock.NewMockRows(ctrl)

	times := []time.Time{time.UnixMilli(60000).UTC(), time.UnixMilli(30000).UTC()}
	client.EXPECT().Query(gomock.Any(), selectRecent, "BTCUSDT", "30s", 2).Return(rows, nil)
	gomock.InOrder(
		rows.EXPECT().Next().Return(true),
		rows.EXPECT().Scan(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
			gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(fillRow(times[0], 110)),
		rows.EXPECT().Next().Return(true),
		rows.EXPECT().Scan(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
			gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(fillRow(times[1], 95)),
		rows.EXPECT().Next().Return(false),
	)
	rows.EXPECT().Err().Return(nil)
	rows.EXPECT().Close()

	got, err := NewRepository(client).Recent(context.Background(), "BTCUSDT", "30s", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, times[0], got[0].Time)
	assert.Equal(t, int64(110), got[0].Close)
	assert.Equal(t, int64(95), got[1].Close)
}

func TestCandle_RecentQueryError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockDBClient(ctrl)
	client.EXPECT().Query(gomock.Any(), selectRecent, "BTCUSDT", "1m", 100).Return(nil, errors.New("timeout"))

	_, err := NewRepository(client).Recent(context.Background(), "BTCUSDT", "1m", 100)
	assert.Error(t, err)
}

func fillRow(ts time.Time, closePrice int64) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*time.Time) = ts
		*dest[1].(*string) = "BTCUSDT"
		*dest[2].(*string) = "30s"
		*dest[3].(*int64) = 100
		*dest[4].(*int64) = 120
		*dest[5].(*int64) = 90
		*dest[6].(*int64) = closePrice
		*dest[7].(*float64) = 1
		*dest[8].(*int64) = 1
		return nil
	}
}
