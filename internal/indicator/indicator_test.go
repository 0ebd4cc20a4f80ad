package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobot/internal/domain"
)

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestSMA(t *testing.T) {
	t.Parallel()
	got, err := SMA([]float64{100, 1, 2, 3, 4}, 4)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 1e-9)

	_, err = SMA([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)

	_, err = SMA([]float64{1, 2}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestRSI(t *testing.T) {
	t.Parallel()

	got, err := RSI(ramp(20, 100, 1), 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got, "no losses saturates at 100")

	got, err = RSI(flat(20, 50), 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got, "flat series has zero average loss")

	got, err = RSI(ramp(20, 100, -1), 14)
	require.NoError(t, err)
	assert.InDelta(t, 0, got, 1e-9)

	// alternating +2 / -1 over 14 changes: gains 14, losses 7
	prices := []float64{100}
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			prices = append(prices, prices[len(prices)-1]+2)
		} else {
			prices = append(prices, prices[len(prices)-1]-1)
		}
	}
	got, err = RSI(prices, 14)
	require.NoError(t, err)
	assert.InDelta(t, 100-100/(1+2.0), got, 1e-9)

	_, err = RSI(ramp(14, 1, 1), 14)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestEMASeries(t *testing.T) {
	t.Parallel()
	s := EMASeries([]float64{10, 20, 30}, 3)
	require.Len(t, s, 3)
	assert.Equal(t, 10.0, s[0], "seeded with first price")
	assert.InDelta(t, 15, s[1], 1e-9)
	assert.InDelta(t, 22.5, s[2], 1e-9)

	assert.Nil(t, EMASeries(nil, 3))

	v, err := EMA([]float64{10, 20, 30}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 22.5, v, 1e-9)
}

func TestMACD(t *testing.T) {
	t.Parallel()

	res, err := MACD(flat(40, 100), 12, 26, 9)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.MACD, 1e-9)
	assert.InDelta(t, 0, res.Histogram, 1e-9)

	res, err = MACD(ramp(60, 100, 1), 12, 26, 9)
	require.NoError(t, err)
	assert.Greater(t, res.MACD, 0.0, "fast EMA leads in an uptrend")
	assert.InDelta(t, res.MACD-res.Signal, res.Histogram, 1e-12)

	_, err = MACD(ramp(10, 1, 1), 12, 26, 9)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)

	_, err = MACD(ramp(60, 1, 1), 26, 12, 9)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestBollingerFlat(t *testing.T) {
	t.Parallel()
	b, err := Bollinger(flat(25, 42), 20, 2)
	require.NoError(t, err)
	assert.InDelta(t, 42, b.Middle, 1e-9)
	assert.InDelta(t, 42, b.Upper, 1e-9)
	assert.InDelta(t, 42, b.Lower, 1e-9)
}

func TestBollingerWidth(t *testing.T) {
	t.Parallel()
	prices := append(flat(10, 90), flat(10, 110)...)
	b, err := Bollinger(prices, 20, 2)
	require.NoError(t, err)
	assert.InDelta(t, 100, b.Middle, 1e-9)
	assert.InDelta(t, 120, b.Upper, 1e-6)
	assert.InDelta(t, 80, b.Lower, 1e-6)
}

func TestMeanStd(t *testing.T) {
	t.Parallel()
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5, mean, 1e-9)
	assert.InDelta(t, 2, std, 1e-9)

	mean, std = MeanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
	assert.False(t, math.IsNaN(std))
}

func TestCloses(t *testing.T) {
	t.Parallel()
	candles := []domain.Candle{{Close: 1, Volume: 10}, {Close: 2, Volume: 20}}
	assert.Equal(t, []float64{1, 2}, Closes(candles))
	assert.Equal(t, []float64{10, 20}, Volumes(candles))
}
