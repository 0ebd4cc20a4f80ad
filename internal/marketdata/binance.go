package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"cryptobot/internal/domain"
	"cryptobot/internal/util"
)

// KlinesPageLimit is the maximum number of klines Binance returns per
// request.
const KlinesPageLimit = 1000

// rateLimitedCode is Binance's "too many requests" error code.
const rateLimitedCode = -1003

// BinanceOptions configures a BinanceSource.
type BinanceOptions struct {
	APIKey    string
	APISecret string
	// BaseURL overrides the REST endpoint, e.g. for the testnet.
	BaseURL string
	// RateLimitPerMin paces requests; <= 0 disables pacing.
	RateLimitPerMin int
	// MaxPages bounds the number of 1000-kline requests per load. The
	// default of 1 truncates longer ranges.
	MaxPages int
	// Retries is the number of attempts per request (default 3).
	Retries    int
	RetryDelay time.Duration
}

// Compile-time interface check.
var _ Source = (*BinanceSource)(nil)

// BinanceSource loads klines from the Binance spot REST API.
type BinanceSource struct {
	client     *binance.Client
	limiter    *util.RateLimiter
	maxPages   int
	retries    int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewBinanceSource creates a BinanceSource. Kline requests are public, so
// the API key pair may be empty.
func NewBinanceSource(opts BinanceOptions) *BinanceSource {
	client := binance.NewClient(opts.APIKey, opts.APISecret)
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &BinanceSource{
		client:     client,
		limiter:    util.NewRateLimiter(opts.RateLimitPerMin),
		maxPages:   opts.MaxPages,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		log:        slog.Default().With("source", "binance"),
	}
}

// LoadCandles fetches klines page by page starting at start until end is
// reached, a short page is returned or MaxPages is exhausted.
func (b *BinanceSource) LoadCandles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	symbol = domain.NormalizeSymbol(symbol)
	wrap := func(err error) error {
		return &DataSourceError{Symbol: symbol, Timeframe: tf, Err: err}
	}
	if tf.Duration() == 0 {
		return nil, wrap(fmt.Errorf("%w: unsupported timeframe %q", domain.ErrInvalidConfiguration, tf))
	}
	if end.Before(start) {
		return nil, wrap(fmt.Errorf("%w: end %s before start %s", domain.ErrInvalidConfiguration, end, start))
	}

	var candles []domain.Candle
	from := start.UnixMilli()
	for page := 0; page < b.maxPages; page++ {
		klines, err := b.fetchPage(ctx, symbol, tf, from, end.UnixMilli())
		if err != nil {
			return nil, wrap(err)
		}
		for _, k := range klines {
			c, err := klineToCandle(symbol, k)
			if err != nil {
				return nil, wrap(err)
			}
			candles = append(candles, c)
		}

		if len(klines) < KlinesPageLimit {
			return candles, nil
		}
		from = klines[len(klines)-1].OpenTime + 1
		if from > end.UnixMilli() {
			return candles, nil
		}
	}

	b.log.Warn("kline range truncated",
		"symbol", symbol,
		"timeframe", string(tf),
		"candles", len(candles),
		"max_pages", b.maxPages,
	)
	return candles, nil
}

func (b *BinanceSource) fetchPage(ctx context.Context, symbol string, tf domain.Timeframe, from, to int64) ([]*binance.Kline, error) {
	var klines []*binance.Kline
	err := util.Retry(ctx, b.retries, b.retryDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		klines, err = b.client.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			StartTime(from).
			EndTime(to).
			Limit(KlinesPageLimit).
			Do(ctx)
		if err == nil {
			return nil
		}

		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code != rateLimitedCode {
			return util.Permanent(err)
		}
		b.log.Debug("kline request failed, retrying", "symbol", symbol, "error", err)
		return err
	})
	return klines, err
}

func klineToCandle(symbol string, k *binance.Kline) (domain.Candle, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var vals [5]float64
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("parsing kline at %d: %w", k.OpenTime, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return domain.Candle{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
