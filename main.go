package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/dnldd/backtester/service"
	"github.com/rs/zerolog/log"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Error().Err(err).Msg("loading config")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backtesterCfg := service.BacktesterConfig{
		DataPath:       cfg.DataPath,
		Exchange:       cfg.Exchange,
		BinanceDataURL: cfg.BinanceDataURL,
		SettingsPath:   cfg.SettingsPath,
		Ingest:         cfg.Ingest,
		Schedule:       cfg.Schedule,
		DBEndpoint:     cfg.DBEndpoint,
		DBUser:         cfg.DBUser,
		DBPass:         cfg.DBPass,
		BinanceKey:     cfg.BinanceKey,
		BinanceSecret:  cfg.BinanceSecret,
		Cancel:         cancel,
	}
	backtester, err := service.NewBacktester(ctx, &backtesterCfg)
	if err != nil {
		log.Error().Err(err).Msg("creating backtester service")
		os.Exit(1)
	}

	go handleTermination(ctx, cancel)

	err = backtester.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("running backtester service")
		os.Exit(1)
	}
}
