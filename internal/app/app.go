// Package app wires configuration, storage, market data and the engine into
// the components shared by the cryptobot binaries.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cryptobot/internal/config"
	"cryptobot/internal/engine"
	"cryptobot/internal/marketdata"
	"cryptobot/internal/store"
	"cryptobot/internal/util"
)

// Components holds the wired dependencies of a binary.
type Components struct {
	Config  *config.Config
	Logger  *slog.Logger
	Candles *store.ParquetStore
	Runs    *store.SQLiteStore
	Binance *marketdata.BinanceSource
	Engine  *engine.Engine
}

// Setup loads .env and the configuration at cfgPath, installs the default
// logger writing to logOut, opens the stores and builds the engine.
func Setup(cfgPath string, logOut io.Writer) (*Components, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := util.NewLoggerTo(logOut, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	c := &Components{
		Config:  cfg,
		Logger:  logger,
		Candles: store.NewParquetStore(cfg.Storage.DataDir),
		Runs:    runs,
		Binance: NewBinanceSource(cfg.Binance),
	}

	var primary marketdata.Source = c.Binance
	if cfg.Binance.CacheCandles {
		primary = marketdata.NewCachedSource(c.Binance, c.Candles)
	}
	loader := marketdata.NewLoader(primary, marketdata.NewSyntheticSource(cfg.Backtest.SyntheticSeed))
	c.Engine = engine.New(loader, runs, cfg.Backtest.Config, cfg.Backtest.Workers).
		WithSyntheticFallback(cfg.Backtest.AllowSynthetic)
	return c, nil
}

// NewBinanceSource builds the kline source from its configuration section.
func NewBinanceSource(cfg config.Binance) *marketdata.BinanceSource {
	return marketdata.NewBinanceSource(marketdata.BinanceOptions{
		APIKey:          cfg.APIKey,
		APISecret:       cfg.APISecret,
		BaseURL:         cfg.BaseURL,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxPages:        cfg.MaxPages,
	})
}

// Close releases the stores.
func (c *Components) Close() error {
	var errs []error
	if c.Runs != nil {
		errs = append(errs, c.Runs.Close())
	}
	return errors.Join(errs...)
}
