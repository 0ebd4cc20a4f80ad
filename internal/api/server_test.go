package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"cryptobot/internal/backtest"
	"cryptobot/internal/config"
	"cryptobot/internal/domain"
	"cryptobot/internal/engine"
	"cryptobot/internal/marketdata"
	"cryptobot/internal/report"
	"cryptobot/internal/store"
	"cryptobot/pkg/cryptobot"
)

func init() { gin.SetMode(gin.TestMode) }

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// waveSource serves hourly candles oscillating around 100. DOWNUSDT fails.
var waveSource = marketdata.SourceFunc(func(_ context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	if symbol == "DOWNUSDT" {
		return nil, errors.New("exchange unavailable")
	}
	var out []domain.Candle
	i := 0
	for ts := start; ts.Before(end); ts = ts.Add(tf.Duration()) {
		p := 100 + 10*math.Sin(float64(i)/4)
		out = append(out, domain.Candle{Symbol: symbol, Timestamp: ts, Open: p, High: p, Low: p, Close: p, Volume: 1})
		i++
	}
	return out, nil
})

func newTestServer(t *testing.T) *Server {
	t.Helper()
	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	eng := engine.New(marketdata.NewLoader(waveSource, nil), runs,
		backtest.Config{InitialBalance: 10000, FeeRate: 0.001}, 2)
	return NewServer(config.Server{Host: "127.0.0.1"}, eng, runs)
}

func dcaRequest(symbol string) engine.Request {
	return engine.Request{
		Symbol:     symbol,
		Timeframe:  "1h",
		Start:      t0,
		End:        t0.Add(96 * time.Hour),
		Strategy:   domain.StrategySpec{Kind: "dca", Params: map[string]float64{"interval-hours": 6}},
		TakeProfit: 0.02,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndStrategies(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Strategies []struct {
			Kind     string             `json:"kind"`
			Defaults map[string]float64 `json:"defaults"`
		} `json:"strategies"`
	}](t, rec)
	require.Len(t, body.Strategies, 5)
	assert.Equal(t, "candlestick", body.Strategies[0].Kind)
}

func TestBacktestLifecycle(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/backtests", dcaRequest("BTCUSDT"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[domain.BacktestRun](t, rec)
	require.NotEmpty(t, run.ID)
	require.NotEmpty(t, run.Trades)
	assert.False(t, run.Synthetic)
	assert.InDelta(t, run.FinalBalance-run.InitialBalance, run.Metrics.NetProfit, 1e-6)

	rec = do(t, h, http.MethodGet, "/api/v1/backtests/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.BacktestRun](t, rec)
	assert.Equal(t, run.ID, got.ID)
	assert.Len(t, got.Trades, len(run.Trades))
	assert.Equal(t, run.Signals, got.Signals)
	assert.Equal(t, run.CandleCount, got.Signals.Buy+got.Signals.Sell+got.Signals.Hold)
	assert.Equal(t, backtest.DefaultHistoryWindow, got.Settings.HistoryWindow)
	assert.InDelta(t, run.MaxEquityDrawdown, got.MaxEquityDrawdown, 1e-12)

	sdkRun := decode[cryptobot.Run](t, rec)
	assert.Equal(t, run.MaxEquityDrawdown, sdkRun.MaxEquityDrawdown)
	assert.Equal(t, run.Signals.Buy, sdkRun.Signals.Buy)
	assert.Equal(t, run.Settings.PositionSizeFraction, sdkRun.Settings.PositionSizeFraction)

	rec = do(t, h, http.MethodGet, "/api/v1/backtests?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Runs []domain.BacktestRun `json:"runs"`
	}](t, rec)
	require.Len(t, list.Runs, 1)

	rec = do(t, h, http.MethodGet, "/api/v1/backtests/"+run.ID+"/trades.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, report.TradesCSVHeader, strings.Split(lines[0], ","))
	assert.Len(t, lines, len(run.Trades)+1)

	rec = do(t, h, http.MethodGet, "/api/v1/backtests/"+run.ID+"/chart.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t).Handler()

	bad := dcaRequest("BTCUSDT")
	bad.Strategy.Kind = "martingale"

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown strategy", http.MethodPost, "/api/v1/backtests", bad, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/backtests", "not an object", http.StatusBadRequest},
		{"data source", http.MethodPost, "/api/v1/backtests", dcaRequest("DOWNUSDT"), http.StatusBadGateway},
		{"unknown run", http.MethodGet, "/api/v1/backtests/missing", nil, http.StatusNotFound},
		{"unknown run csv", http.MethodGet, "/api/v1/backtests/missing/trades.csv", nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/v1/backtests?limit=x", nil, http.StatusBadRequest},
		{"empty batch", http.MethodPost, "/api/v1/backtests/batch", BatchRequest{}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			body := decode[map[string]string](t, rec)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBatch(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/backtests/batch", BatchRequest{Requests: []engine.Request{
		dcaRequest("BTCUSDT"),
		dcaRequest("DOWNUSDT"),
		dcaRequest("ETHUSDT"),
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[struct {
		Results []struct {
			Index int                 `json:"index"`
			Run   *domain.BacktestRun `json:"run"`
			Error string              `json:"error"`
		} `json:"results"`
	}](t, rec)
	require.Len(t, body.Results, 3)
	assert.NotNil(t, body.Results[0].Run)
	assert.Nil(t, body.Results[1].Run)
	assert.Contains(t, body.Results[1].Error, "exchange unavailable")
	assert.Equal(t, "ETHUSDT", body.Results[2].Run.Symbol)
	assert.Equal(t, 2, body.Results[2].Index)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestBacktestStream(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/backtests"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(dcaRequest("BTCUSDT")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	trades := 0
	for {
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == EventTrade {
			require.NotNil(t, ev.Trade)
			trades++
			continue
		}
		require.Equal(t, EventResult, ev.Type, ev.Error)
		require.NotNil(t, ev.Run)
		assert.Equal(t, len(ev.Run.Trades), trades)
		assert.Positive(t, trades)
		break
	}
}

func TestBacktestStreamError(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/backtests"), nil)
	require.NoError(t, err)
	defer conn.Close()

	req := dcaRequest("BTCUSDT")
	req.Timeframe = "13m"
	require.NoError(t, conn.WriteJSON(req))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, http.StatusBadRequest, ev.Status)
}

func TestRunFeed(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs"), nil)
	require.NoError(t, err)
	defer conn.Close()

	events := make(chan Event, 16)
	go func() {
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	run := &domain.BacktestRun{ID: "feed-test", Symbol: "BTCUSDT", Trades: []domain.Trade{{Profit: 1}}}
	// The handler registers the client asynchronously after the upgrade.
	for attempt := 0; attempt < 100; attempt++ {
		s.Hub().PublishRun(run)
		select {
		case ev := <-events:
			assert.Equal(t, EventRun, ev.Type)
			require.NotNil(t, ev.Run)
			assert.Equal(t, "feed-test", ev.Run.ID)
			assert.Empty(t, ev.Run.Trades)
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("no run event received")
}

func dialBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.GRPCServer().Serve(lis) }()
	t.Cleanup(s.GRPCServer().Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRunFeedWithoutHub(t *testing.T) {
	s := newTestServer(t)
	s.Hub().joinWait = 50 * time.Millisecond

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	expectRejected := func() {
		t.Helper()
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs"), nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	}

	// Never started.
	expectRejected()

	// Stopped.
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Hub().Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped
	expectRejected()
}

func TestGRPCRun(t *testing.T) {
	conn := dialBufconn(t, newTestServer(t))
	ctx := context.Background()

	in, err := ToStruct(dcaRequest("BTC-USDT"))
	require.NoError(t, err)
	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, RunMethod, in, out))

	var run domain.BacktestRun
	require.NoError(t, FromStruct(out, &run))
	assert.Equal(t, "BTCUSDT", run.Symbol)
	assert.NotEmpty(t, run.ID)
	assert.NotEmpty(t, run.Trades)

	bad := dcaRequest("BTCUSDT")
	bad.End = bad.Start
	in, err = ToStruct(bad)
	require.NoError(t, err)
	err = conn.Invoke(ctx, RunMethod, in, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	in, err = ToStruct(dcaRequest("DOWNUSDT"))
	require.NoError(t, err)
	err = conn.Invoke(ctx, RunMethod, in, new(structpb.Struct))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPCStream(t *testing.T) {
	conn := dialBufconn(t, newTestServer(t))
	ctx := context.Background()

	cs, err := conn.NewStream(ctx, &BacktesterServiceDesc.Streams[0], StreamMethod)
	require.NoError(t, err)
	in, err := ToStruct(dcaRequest("ETHUSDT"))
	require.NoError(t, err)
	require.NoError(t, cs.SendMsg(in))
	require.NoError(t, cs.CloseSend())

	var events []Event
	for {
		msg := new(structpb.Struct)
		err := cs.RecvMsg(msg)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var ev Event
		require.NoError(t, FromStruct(msg, &ev))
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventResult, last.Type)
	assert.Len(t, events[:len(events)-1], len(last.Run.Trades))
}

func TestGRPCHealth(t *testing.T) {
	conn := dialBufconn(t, newTestServer(t))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: BacktesterServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestListenAndServeStops(t *testing.T) {
	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer runs.Close()
	eng := engine.New(marketdata.NewLoader(waveSource, nil), runs, backtest.Config{InitialBalance: 1000}, 1)
	s := NewServer(config.Server{Host: "127.0.0.1", Port: 0}, eng, runs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
