// reversi - the interactive Reversi match client.
//
// reversi connects to a reversid server, negotiates the protocol, and
// drives a match from the terminal: matchmaking or direct joins, move
// entry, and live board updates pushed by the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ivans-csu/super-cow-powers/internal/cli"
	"github.com/ivans-csu/super-cow-powers/internal/client"
	"github.com/ivans-csu/super-cow-powers/internal/config"
	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

const (
	AppName    = "reversi"
	AppVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to configuration file")
	serverAddr := flag.String("server", "", "override the configured server address")
	port := flag.Int("port", 0, "override the configured server port")
	userID := flag.Int64("user", 0, "user id to present (0 derives one from the local port)")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	// The terminal is the UI; keep the console free of log noise.
	logCfg := util.DefaultLogConfig(AppName)
	logCfg.Console = false
	if err := util.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *serverAddr != "" {
		cfg.Client.ServerAddr = *serverAddr
	}
	if *port != 0 {
		cfg.Client.Port = *port
	}
	if *userID != 0 {
		cfg.Client.UserID = *userID
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logCfg.Level = cfg.Logging.Level
	logCfg.Directory = cfg.Logging.Directory
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	ui := cli.NewCLI(bus)

	c, err := client.Dial(cfg.Client, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
	ui.Attach(c)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		c.Close()
	}()

	ui.Start(ctx)

	c.Close()
	bus.Stop()

	if err := c.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}
