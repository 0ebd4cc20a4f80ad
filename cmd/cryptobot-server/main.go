package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"cryptobot/internal/api"
	"cryptobot/internal/app"
	"cryptobot/internal/config"
)

func main() {
	c, err := app.Setup(config.DefaultPath(), os.Stdout)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer c.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(c.Config.Server, c.Engine, c.Runs)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting cryptobot-server",
		"http", c.Config.Server.Addr(),
		"grpc", c.Config.Server.GRPCAddr(),
		"dataDir", c.Config.Storage.DataDir,
		"syntheticFallback", c.Config.Backtest.AllowSynthetic,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
