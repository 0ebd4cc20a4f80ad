package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cryptobot/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.candlePath("BTCUSDT", domain.Timeframe1h, 2024)
	want := filepath.Join("/data", "candles", "1h", "BTCUSDT", "2024.parquet")
	if got != want {
		t.Errorf("candlePath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func hourlyCandles(symbol string, start time.Time, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c - 1,
			High:      c + 2,
			Low:       c - 2,
			Close:     c,
			Volume:    float64(10 * (i + 1)),
		}
	}
	return out
}

func TestParquetStoreWriteReadCandles(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := hourlyCandles("BTC/USDT", start, 42000, 42100, 42050)

	if err := ps.WriteCandles(ctx, domain.Timeframe1h, candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	got, err := ps.ReadCandles(ctx, "BTCUSDT", domain.Timeframe1h, start, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadCandles returned %d candles, want 3", len(got))
	}
	if got[0].Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want %q", got[0].Symbol, "BTCUSDT")
	}
	if !got[1].Timestamp.Equal(start.Add(time.Hour)) {
		t.Errorf("Timestamp = %v, want %v", got[1].Timestamp, start.Add(time.Hour))
	}
	if got[2].Close != 42050 || got[2].Volume != 30 {
		t.Errorf("candle[2] = %+v, want close 42050 volume 30", got[2])
	}

	// Range filtering is inclusive on both ends.
	got, err = ps.ReadCandles(ctx, "btcusdt", domain.Timeframe1h, start.Add(time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ReadCandles single point returned %d candles, want 1", len(got))
	}

	// A different timeframe is a different dataset.
	got, err = ps.ReadCandles(ctx, "BTCUSDT", domain.Timeframe1d, start, start.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadCandles(1d) returned %d candles, want 0", len(got))
	}
}

func TestParquetStoreMerge(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := ps.WriteCandles(ctx, domain.Timeframe1h, hourlyCandles("ETHUSDT", start, 3000, 3010)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Overlaps the second candle and adds a third.
	if err := ps.WriteCandles(ctx, domain.Timeframe1h, hourlyCandles("ETHUSDT", start.Add(time.Hour), 3011, 3020)); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := ps.ReadCandles(ctx, "ETHUSDT", domain.Timeframe1h, start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("after merge got %d candles, want 3", len(got))
	}
	if got[1].Close != 3011 {
		t.Errorf("merged candle close = %v, want newer value 3011", got[1].Close)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("candles not ascending at %d", i)
		}
	}
}

func TestParquetStoreAcrossYears(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	start := time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC)
	if err := ps.WriteCandles(ctx, domain.Timeframe1h, hourlyCandles("SOLUSDT", start, 100, 101, 102, 103)); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	got, err := ps.ReadCandles(ctx, "SOLUSDT", domain.Timeframe1h, start, start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("ReadCandles across years returned %d candles, want 4", len(got))
	}

	latest, ok, err := ps.LatestTimestamp(ctx, "SOLUSDT", domain.Timeframe1h)
	if err != nil || !ok {
		t.Fatalf("LatestTimestamp = %v, %v, %v", latest, ok, err)
	}
	if want := start.Add(3 * time.Hour); !latest.Equal(want) {
		t.Errorf("LatestTimestamp = %v, want %v", latest, want)
	}
}

func TestParquetStoreEmpty(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	symbols, err := ps.ListSymbols(ctx, domain.Timeframe1h)
	if err != nil || len(symbols) != 0 {
		t.Errorf("ListSymbols on empty store = %v, %v", symbols, err)
	}
	_, ok, err := ps.LatestTimestamp(ctx, "BTCUSDT", domain.Timeframe1h)
	if err != nil || ok {
		t.Errorf("LatestTimestamp on empty store = %v, %v", ok, err)
	}
	if err := ps.WriteCandles(ctx, domain.Timeframe1h, nil); err != nil {
		t.Errorf("WriteCandles(nil) = %v", err)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, sym := range []string{"ETHUSDT", "BTCUSDT"} {
		if err := ps.WriteCandles(ctx, domain.Timeframe4h, hourlyCandles(sym, start, 1)); err != nil {
			t.Fatalf("WriteCandles(%s): %v", sym, err)
		}
	}
	symbols, err := ps.ListSymbols(ctx, domain.Timeframe4h)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("ListSymbols = %v, want [BTCUSDT ETHUSDT]", symbols)
	}
}

// ---------------------------------------------------------------------------
// SQLiteStore
// ---------------------------------------------------------------------------

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(created time.Time) *domain.BacktestRun {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return &domain.BacktestRun{
		Symbol:         "BTCUSDT",
		Timeframe:      domain.Timeframe1h,
		Strategy:       domain.StrategySpec{Kind: "grid", Params: map[string]float64{"grid-spacing": 0.02}},
		Start:          start,
		End:            start.Add(72 * time.Hour),
		DataKind:       domain.DataReal,
		CandleCount:    72,
		InitialBalance: 10000,
		FinalBalance:   10150,
		FeeRate:        0.001,
		Settings: domain.SimulationSettings{
			PositionSizeFraction: 0.95,
			HistoryWindow:        100,
			StopLoss:             0.05,
		},
		Metrics:           domain.Metrics{TotalTrades: 2, WinningTrades: 1, LosingTrades: 1, NetProfit: 150, WinRate: 50},
		MaxEquityDrawdown: 3.5,
		Signals:           domain.SignalCounts{Buy: 2, Sell: 1, Hold: 69},
		Trades: []domain.Trade{
			{EntryTime: start.Add(time.Hour), ExitTime: start.Add(5 * time.Hour), EntryPrice: 42000, ExitPrice: 43000,
				Quantity: 0.2, Side: domain.SideBuy, Profit: 183, ProfitPercent: 2.18, Fees: 17, ExitReason: domain.ExitSignal},
			{EntryTime: start.Add(10 * time.Hour), ExitTime: start.Add(71 * time.Hour), EntryPrice: 43000, ExitPrice: 42900,
				Quantity: 0.2, Side: domain.SideBuy, Profit: -33, ProfitPercent: -0.38, Fees: 17, ExitReason: domain.ExitEndOfData},
		},
		CreatedAt: created,
	}
}

func TestSQLiteStoreSaveGetRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run := sampleRun(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("SaveRun did not assign an ID")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Symbol != run.Symbol || got.Timeframe != run.Timeframe {
		t.Errorf("GetRun = %s/%s, want %s/%s", got.Symbol, got.Timeframe, run.Symbol, run.Timeframe)
	}
	if got.Strategy.Kind != "grid" || got.Strategy.Params["grid-spacing"] != 0.02 {
		t.Errorf("Strategy = %+v", got.Strategy)
	}
	if got.Metrics != run.Metrics {
		t.Errorf("Metrics = %+v, want %+v", got.Metrics, run.Metrics)
	}
	if got.Settings != run.Settings {
		t.Errorf("Settings = %+v, want %+v", got.Settings, run.Settings)
	}
	if got.MaxEquityDrawdown != 3.5 || got.Signals != run.Signals {
		t.Errorf("equity drawdown/signals = %v/%+v, want 3.5/%+v", got.MaxEquityDrawdown, got.Signals, run.Signals)
	}
	if !got.Start.Equal(run.Start) || !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("times = %v/%v, want %v/%v", got.Start, got.CreatedAt, run.Start, run.CreatedAt)
	}
	if len(got.Trades) != 2 {
		t.Fatalf("GetRun returned %d trades, want 2", len(got.Trades))
	}
	if got.Trades[1].ExitReason != domain.ExitEndOfData || got.Trades[1].Profit != -33 {
		t.Errorf("trade[1] = %+v", got.Trades[1])
	}
	if got.Synthetic {
		t.Error("real run decoded as synthetic")
	}
}

func TestSQLiteStoreMigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`CREATE TABLE runs (
		id TEXT PRIMARY KEY, symbol TEXT NOT NULL, timeframe TEXT NOT NULL,
		strategy_kind TEXT NOT NULL, strategy_params TEXT NOT NULL,
		start_ms INTEGER NOT NULL, end_ms INTEGER NOT NULL, data_kind TEXT NOT NULL,
		candle_count INTEGER NOT NULL, initial_balance REAL NOT NULL, final_balance REAL NOT NULL,
		fee_rate REAL NOT NULL, metrics TEXT NOT NULL, created_ms INTEGER NOT NULL);
	INSERT INTO runs VALUES ('old', 'BTCUSDT', '1h', 'dca', '{}', 0, 3600000, 'real', 1,
		100, 100, 0.001, '{}', 0);`)
	db.Close()
	if err != nil {
		t.Fatalf("creating old schema: %v", err)
	}

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	got, err := s.GetRun(context.Background(), "old")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Settings != (domain.SimulationSettings{}) || got.MaxEquityDrawdown != 0 || got.Signals != (domain.SignalCounts{}) {
		t.Errorf("old run = %+v/%v/%+v, want zero values", got.Settings, got.MaxEquityDrawdown, got.Signals)
	}

	run := sampleRun(time.Now())
	if err := s.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun after migration: %v", err)
	}
}

func TestSQLiteStoreGetRunNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := sampleRun(base.Add(time.Duration(i) * time.Hour))
		run.ID = []string{"a", "b", "c"}[i]
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun(%s): %v", run.ID, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns order = %s,%s, want c,b", runs[0].ID, runs[1].ID)
	}
	if runs[0].Trades != nil {
		t.Error("ListRuns should not load trades")
	}

	trades, err := s.ListTrades(ctx, "a")
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("ListTrades returned %d trades, want 2", len(trades))
	}
}

func TestSQLiteStoreDuplicateID(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run := sampleRun(time.Now())
	run.ID = "dup"
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(ctx, run); err == nil {
		t.Error("SaveRun with duplicate ID should fail")
	}

	trades, err := s.ListTrades(ctx, "dup")
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("failed insert left %d trades, want 2", len(trades))
	}
}
