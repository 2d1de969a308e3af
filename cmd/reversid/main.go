// reversid - the Reversi match server.
//
// reversid hosts concurrent two-player Reversi matches over a custom
// binary TCP protocol, records finished matches to SQLite, exposes a
// read-only admin API, and optionally publishes lifecycle telemetry
// via MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ivans-csu/super-cow-powers/internal/api"
	"github.com/ivans-csu/super-cow-powers/internal/config"
	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/history"
	"github.com/ivans-csu/super-cow-powers/internal/server"
	"github.com/ivans-csu/super-cow-powers/internal/telemetry"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

const (
	AppName    = "reversid"
	AppVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to configuration file")
	port := flag.Int("port", 0, "override the configured listen port")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	if err := util.InitLogger(util.DefaultLogConfig(AppName)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting reversid")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Reconfigure logging now that the config is known.
	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
		App:        AppName,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	matchServer := server.New(cfg.Server, bus)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.NewStore(cfg.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open match history, recording disabled")
		} else {
			store.Attach(bus)
			defer store.Close()
		}
	}

	var publisher *telemetry.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = telemetry.NewPublisher(cfg.MQTT, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.Server.Port).Msg("starting match server")
		if err := matchServer.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("match server: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, matchServer.Registry(), store, cfg.Logging.Level)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting admin API")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("admin API failed (non-fatal)")
			}
		}()
	}

	if publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := publisher.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown")
	cancel()
	matchServer.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	bus.Stop()
	log.Info().Msg("reversid stopped")
}
