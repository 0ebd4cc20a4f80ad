// Package api exposes the backtest engine over HTTP (gin), WebSocket and
// gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cryptobot/internal/config"
	"cryptobot/internal/engine"
	"cryptobot/internal/store"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	engine   *engine.Engine
	runs     store.RunStore
	hub      *Hub
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	router *gin.Engine
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a Server for the given engine and run store. A zero
// GRPCPort disables the gRPC listener.
func NewServer(cfg config.Server, eng *engine.Engine, runs store.RunStore) *Server {
	s := &Server{
		engine:   eng,
		runs:     runs,
		hub:      NewHub(),
		httpAddr: cfg.Addr(),
		log:      slog.Default().With("component", "api"),
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = cfg.GRPCAddr()
	}
	s.router = s.routes()

	s.grpc = grpc.NewServer()
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	RegisterBacktesterServer(s.grpc, NewBacktesterService(eng, s.hub))
	s.health.SetServingStatus(BacktesterServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Handler returns the HTTP handler serving the REST and WebSocket routes.
func (s *Server) Handler() http.Handler { return s.router }

// GRPCServer returns the gRPC server with the backtester and health
// services registered.
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

// Hub returns the broadcaster of completed runs.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. Cancellation triggers a
// graceful shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	s.http = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("http listening", "addr", s.httpAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = s.http.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		go func() {
			s.log.Info("grpc listening", "addr", s.grpcAddr)
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	s.log.Info("api stopped")
	return err
}
