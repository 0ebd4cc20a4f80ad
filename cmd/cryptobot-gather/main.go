package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cryptobot/internal/app"
	"cryptobot/internal/config"
	"cryptobot/internal/gather/binance"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated symbols, overriding gather.symbols")
	timeframe := flag.String("timeframe", "", "kline timeframe, overriding gather.timeframe")
	flag.Parse()

	c, err := app.Setup(config.DefaultPath(), os.Stdout)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer c.Close()

	gc := c.Config.Gather
	if *symbols != "" {
		gc.Symbols = strings.Split(*symbols, ",")
	}
	if *timeframe != "" {
		gc.Timeframe = *timeframe
	}

	gatherer, err := binance.NewKlineGatherer(c.Binance, c.Candles, gc.Symbols, gc.Timeframe, gc.StartDate, gc.MaxWorkers)
	if err != nil {
		log.Fatalf("invalid gather config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting cryptobot-gather", "gatherer", gatherer.Name(), "symbols", gc.Symbols, "dataDir", c.Config.Storage.DataDir)
	if err := gatherer.Run(ctx); err != nil {
		slog.Error("gather failed", "error", err)
		os.Exit(1)
	}
}
