package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cryptobot/internal/backtest"
)

// DefaultFile is used when CRYPTOBOT_CONFIG is unset.
const DefaultFile = "config/cryptobot.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for cryptobot.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Binance  Binance        `yaml:"binance"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Gather   GatherConfig   `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Binance holds credentials and limits for the public kline API. Keys are
// optional; klines are served without authentication.
type Binance struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	// MaxPages caps the kline requests per load. Zero means a single page.
	MaxPages int `yaml:"max_pages"`
	// CacheCandles routes loads through the parquet candle store.
	CacheCandles bool `yaml:"cache_candles"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig holds the engine defaults applied to requests that leave
// them unset.
type BacktestConfig struct {
	backtest.Config `yaml:",inline"`

	AllowSynthetic bool   `yaml:"allow_synthetic"`
	SyntheticSeed  uint64 `yaml:"synthetic_seed"`
	Workers        int    `yaml:"workers"`
}

// GatherConfig controls the kline backfill job.
type GatherConfig struct {
	Symbols    []string `yaml:"symbols"`
	Timeframe  string   `yaml:"timeframe"`
	StartDate  string   `yaml:"start_date"`
	MaxWorkers int      `yaml:"max_workers"`
}

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/cryptobot.db",
		},
		Server: Server{
			Host:     "127.0.0.1",
			Port:     8080,
			GRPCPort: 9090,
		},
		Binance: Binance{
			BaseURL:         "https://api.binance.com",
			RateLimitPerMin: 1200,
			MaxPages:        1,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Backtest: BacktestConfig{
			Config: backtest.Config{
				InitialBalance:       10000,
				FeeRate:              0.001,
				PositionSizeFraction: backtest.DefaultPositionSizeFraction,
				HistoryWindow:        backtest.DefaultHistoryWindow,
			},
			SyntheticSeed: 42,
			Workers:       4,
		},
		Gather: GatherConfig{
			Symbols:    []string{"BTCUSDT", "ETHUSDT"},
			Timeframe:  "1h",
			StartDate:  "2023-01-01",
			MaxWorkers: 4,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// DefaultPath returns $CRYPTOBOT_CONFIG, or DefaultFile when it is unset.
func DefaultPath() string {
	if v := os.Getenv("CRYPTOBOT_CONFIG"); v != "" {
		return v
	}
	return DefaultFile
}

// LoadEnvFile loads KEY=VALUE pairs from the given .env files (".env" when
// none are named) into the process environment without overriding variables
// that are already set. Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at the given path on top of
// Default(), and then applies environment variable overrides. An empty
// path skips the file. A missing file at DefaultFile is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && path == DefaultFile:
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Binance.APISecret = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Binance.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("CRYPTOBOT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRYPTOBOT_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("CRYPTOBOT_SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		cfg.Gather.Symbols = symbols
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns host:grpc_port for the gRPC listener.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }
