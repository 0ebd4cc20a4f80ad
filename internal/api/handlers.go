package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cryptobot/internal/domain"
	"cryptobot/internal/engine"
	"cryptobot/internal/marketdata"
	"cryptobot/internal/report"
	"cryptobot/internal/strategy/builtins"
)

// MaxBatchSize bounds the requests accepted by one batch call.
const MaxBatchSize = 100

// BatchRequest is the body of POST /api/v1/backtests/batch.
type BatchRequest struct {
	Requests []engine.Request `json:"requests"`
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/api/v1")
	v1.GET("/strategies", s.handleStrategies)
	v1.POST("/backtests", s.handleRunBacktest)
	v1.POST("/backtests/batch", s.handleRunBatch)
	v1.GET("/backtests", s.handleListRuns)
	v1.GET("/backtests/:id", s.handleGetRun)
	v1.GET("/backtests/:id/trades.csv", s.handleTradesCSV)
	v1.GET("/backtests/:id/chart.png", s.handleChart)

	r.GET("/ws/backtests", s.handleBacktestStream)
	r.GET("/ws/runs", s.handleRunFeed)
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
	}
}

// statusFor maps an engine or store error onto an HTTP status.
func statusFor(err error) int {
	var dsErr *marketdata.DataSourceError
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &dsErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": builtins.Registry().List()})
}

func (s *Server) handleRunBacktest(c *gin.Context) {
	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "decoding request: %v", err)
		return
	}
	run, err := s.engine.Run(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.hub.PublishRun(run)
	c.JSON(http.StatusCreated, run)
}

func (s *Server) handleRunBatch(c *gin.Context) {
	var body BatchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "decoding request: %v", err)
		return
	}
	switch n := len(body.Requests); {
	case n == 0:
		badRequest(c, "batch has no requests")
		return
	case n > MaxBatchSize:
		badRequest(c, "batch has %d requests, limit is %d", n, MaxBatchSize)
		return
	}

	results := s.engine.RunBatch(c.Request.Context(), body.Requests)
	for _, res := range results {
		if res.Run != nil {
			s.hub.PublishRun(res.Run)
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "invalid limit %q", v)
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if runs == nil {
		runs = []domain.BacktestRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) lookupRun(c *gin.Context) (*domain.BacktestRun, bool) {
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return run, true
}

func (s *Server) handleGetRun(c *gin.Context) {
	if run, ok := s.lookupRun(c); ok {
		c.JSON(http.StatusOK, run)
	}
}

func (s *Server) handleTradesCSV(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteTradesCSV(&buf, run.Trades); err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="backtest-%s-trades.csv"`, run.ID))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) handleChart(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteEquityChart(&buf, run); err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
