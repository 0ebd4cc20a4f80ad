package cryptobot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/backtests", func(w http.ResponseWriter, r *http.Request) {
		var req BacktestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Strategy.Kind != "dca" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid configuration: unknown strategy"})
			return
		}
		if req.FeeRate == nil || *req.FeeRate != 0 {
			t.Errorf("FeeRate = %v, want explicit 0", req.FeeRate)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Run{ID: "run-1", Symbol: req.Symbol, Trades: []Trade{{Profit: 2}}})
	})
	mux.HandleFunc("GET /api/v1/backtests/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "run-1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
			return
		}
		json.NewEncoder(w).Encode(Run{ID: "run-1"})
	})
	mux.HandleFunc("GET /api/v1/backtests", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("limit = %q, want 2", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"runs": []Run{{ID: "b"}, {ID: "a"}}})
	})
	mux.HandleFunc("POST /api/v1/backtests/batch", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []BatchResult{
			{Index: 0, Run: &Run{ID: "x"}},
			{Index: 1, Error: "boom"},
		}})
	})
	mux.HandleFunc("GET /api/v1/strategies", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"strategies": []Strategy{{Kind: "dca"}, {Kind: "grid"}}})
	})
	mux.HandleFunc("GET /api/v1/backtests/{id}/trades.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Entry Time,Exit Time\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	c := NewClient(newFakeServer(t).URL)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run, err := c.RunBacktest(ctx, BacktestRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     start,
		End:       start.Add(48 * time.Hour),
		Strategy:  StrategySpec{Kind: "dca"},
		FeeRate:   Fee(0),
	})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if run.ID != "run-1" || len(run.Trades) != 1 {
		t.Errorf("run = %+v", run)
	}

	if _, err := c.GetRun(ctx, "run-1"); err != nil {
		t.Errorf("GetRun: %v", err)
	}

	runs, err := c.ListRuns(ctx, 2)
	if err != nil || len(runs) != 2 {
		t.Errorf("ListRuns = %v, %v", runs, err)
	}

	results, err := c.RunBatch(ctx, []BacktestRequest{{}, {}})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if results[0].Run == nil || results[1].Error != "boom" {
		t.Errorf("results = %+v", results)
	}

	strategies, err := c.Strategies(ctx)
	if err != nil || len(strategies) != 2 {
		t.Errorf("Strategies = %v, %v", strategies, err)
	}

	csv, err := c.TradesCSV(ctx, "run-1")
	if err != nil || string(csv) != "Entry Time,Exit Time\n" {
		t.Errorf("TradesCSV = %q, %v", csv, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := NewClient(newFakeServer(t).URL)
	ctx := context.Background()

	_, err := c.GetRun(ctx, "nope")
	if !IsNotFound(err) {
		t.Errorf("GetRun(nope) error = %v, want 404", err)
	}

	_, err = c.RunBacktest(ctx, BacktestRequest{Strategy: StrategySpec{Kind: "hodl"}})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "invalid configuration: unknown strategy" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}
