// Package indicator computes the technical indicators used by the built-in
// strategies. Every function works on a price series ordered oldest first
// and reports the value at the most recent point.
package indicator

import (
	"fmt"
	"math"

	"github.com/thrasher-corp/gct-ta/indicators"

	"cryptobot/internal/domain"
)

// Closes extracts the close prices of candles.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volumes of candles.
func Volumes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func need(prices []float64, n int, name string) error {
	if n <= 0 {
		return fmt.Errorf("%w: %s period %d", domain.ErrInvalidConfiguration, name, n)
	}
	if len(prices) < n {
		return fmt.Errorf("%s(%d) over %d prices: %w", name, n, len(prices), domain.ErrInsufficientHistory)
	}
	return nil
}

// SMA returns the simple moving average of the last period prices.
func SMA(prices []float64, period int) (float64, error) {
	if err := need(prices, period, "sma"); err != nil {
		return 0, err
	}
	out := indicators.SMA(prices[len(prices)-period:], period)
	return out[len(out)-1], nil
}

// RSI returns the relative strength index over the last period price
// changes, using simple averages of gains and losses. A window without
// losses yields 100.
func RSI(prices []float64, period int) (float64, error) {
	if err := need(prices, period+1, "rsi"); err != nil {
		return 0, err
	}

	var gains, losses float64
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// EMASeries returns the exponential moving average at every point of prices,
// seeded with the first price and smoothed by k = 2/(period+1).
func EMASeries(prices []float64, period int) []float64 {
	if len(prices) == 0 || period <= 0 {
		return nil
	}
	k := 2 / (float64(period) + 1)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

// EMA returns the last value of EMASeries.
func EMA(prices []float64, period int) (float64, error) {
	if err := need(prices, 1, "ema"); err != nil {
		return 0, err
	}
	if period <= 0 {
		return 0, fmt.Errorf("%w: ema period %d", domain.ErrInvalidConfiguration, period)
	}
	s := EMASeries(prices, period)
	return s[len(s)-1], nil
}

// MACDResult holds the latest MACD line, signal line and histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the fast/slow EMA difference, its signal EMA, and the
// histogram at the last price.
func MACD(prices []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return MACDResult{}, fmt.Errorf("%w: macd periods %d/%d/%d", domain.ErrInvalidConfiguration, fast, slow, signal)
	}
	if err := need(prices, slow, "macd"); err != nil {
		return MACDResult{}, err
	}

	fastEMA := EMASeries(prices, fast)
	slowEMA := EMASeries(prices, slow)
	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMASeries(line, signal)

	last := len(prices) - 1
	return MACDResult{
		MACD:      line[last],
		Signal:    sig[last],
		Histogram: line[last] - sig[last],
	}, nil
}

// Bands are Bollinger bands at the last price.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger returns the period SMA of prices with bands width standard
// deviations above and below.
func Bollinger(prices []float64, period int, width float64) (Bands, error) {
	if err := need(prices, period, "bollinger"); err != nil {
		return Bands{}, err
	}
	if width <= 0 {
		return Bands{}, fmt.Errorf("%w: bollinger width %v", domain.ErrInvalidConfiguration, width)
	}
	window := prices[len(prices)-period:]
	if period == 1 {
		return Bands{Upper: window[0], Middle: window[0], Lower: window[0]}, nil
	}
	upper, middle, lower := indicators.BBANDS(window, period, width, width, indicators.Sma)
	last := len(window) - 1
	return Bands{Upper: upper[last], Middle: middle[last], Lower: lower[last]}, nil
}

// MeanStd returns the mean and population standard deviation of xs.
func MeanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		d := x - mean
		v += d * d
	}
	return mean, math.Sqrt(v / float64(len(xs)))
}
