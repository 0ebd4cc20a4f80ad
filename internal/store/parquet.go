package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"cryptobot/internal/domain"
)

// Compile-time interface check.
var _ CandleStore = (*ParquetStore)(nil)

// ParquetStore implements CandleStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CandleRecord is the Parquet schema for candle data.
type CandleRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // open time, Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func toRecord(c domain.Candle) CandleRecord {
	return CandleRecord{
		Symbol:    c.Symbol,
		Timestamp: c.Timestamp.UnixMilli(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

func (r CandleRecord) candle() domain.Candle {
	return domain.Candle{
		Symbol:    r.Symbol,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// ---------------------------------------------------------------------------
// CandleStore implementation
// ---------------------------------------------------------------------------

// WriteCandles writes candles to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/candles/<timeframe>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteCandles(_ context.Context, tf domain.Timeframe, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]CandleRecord)
	for _, c := range candles {
		sym := domain.NormalizeSymbol(c.Symbol)
		if sym == "" {
			return fmt.Errorf("candle at %s has no symbol", c.Timestamp)
		}
		c.Symbol = sym
		k := key{symbol: sym, year: c.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], toRecord(c))
	}

	for k, records := range groups {
		path := s.candlePath(k.symbol, tf, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing %s candles for %s/%d: %w", tf, k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadCandles reads candles from the year files overlapping [start, end].
func (s *ParquetStore) ReadCandles(_ context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	symbol = domain.NormalizeSymbol(symbol)
	var candles []domain.Candle
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.candlePath(symbol, tf, year)

		records, err := readParquetFile[CandleRecord](path)
		if err != nil {
			// No file for this year.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if !ts.Before(start) && !ts.After(end) {
				candles = append(candles, r.candle())
			}
		}
	}
	return candles, nil
}

// ListSymbols lists all symbols that have candles at the given timeframe.
func (s *ParquetStore) ListSymbols(_ context.Context, tf domain.Timeframe) ([]string, error) {
	dir := filepath.Join(s.DataDir, "candles", string(tf))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LatestTimestamp reads the newest year file of symbol and returns its last
// open time.
func (s *ParquetStore) LatestTimestamp(_ context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error) {
	dir := filepath.Join(s.DataDir, "candles", string(tf), domain.NormalizeSymbol(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	latestYear := -1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSuffix(name, ".parquet"))
		if err == nil && year > latestYear {
			latestYear = year
		}
	}
	if latestYear < 0 {
		return time.Time{}, false, nil
	}

	records, err := readParquetFile[CandleRecord](filepath.Join(dir, fmt.Sprintf("%d.parquet", latestYear)))
	if err != nil {
		return time.Time{}, false, err
	}
	if len(records) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(records[len(records)-1].Timestamp).UTC(), true, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/candles/<timeframe>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) candlePath(symbol string, tf domain.Timeframe, year int) string {
	return filepath.Join(s.DataDir, "candles", string(tf), strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates candle records by (symbol, timestamp),
// preferring new records over existing ones. Results are sorted by
// timestamp.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
