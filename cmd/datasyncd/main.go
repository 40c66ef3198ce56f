package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/datasyncd/internal/app"
	"codeberg.org/mutker/datasyncd/internal/config"
	"codeberg.org/mutker/datasyncd/internal/logger"
	"codeberg.org/mutker/datasyncd/internal/pid"
	"codeberg.org/mutker/datasyncd/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run carries the whole daemon lifecycle so deferred cleanup (pidfile,
// telemetry) fires on every exit path. A non-nil return means startup
// failed; a main-loop fault still shuts down cleanly and exits zero.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return err
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.ErrorWithCode(err).Msg("Another instance appears to be running")
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Debug().Err(err).Msg("Failed to remove PID file")
		}
	}()

	tel, err := telemetry.NewService(telemetry.Config{
		Enabled: cfg.Telemetry,
		DBPath:  cfg.TelemetryDB,
	})
	if err != nil {
		logger.ErrorWithCode(err).Msg("Failed to initialize telemetry")
		return err
	}
	defer tel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	runner, err := app.New(ctx, cfg, tel)
	if err != nil {
		logger.ErrorWithCode(err).Msg("Initialization failed")
		return err
	}

	if err := runner.Run(ctx); err != nil {
		logger.ErrorWithCode(err).Msg("Error in main loop")
	}

	if err := runner.Shutdown(shutdownGrace); err != nil {
		logger.Warn().Err(err).Msg("Shutdown finished with faults")
	}

	logger.Info().Msg("Exiting...")

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
