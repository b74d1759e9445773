package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/pulse/internal/app"
	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/server"
)

var (
	configPath   = flag.String("config", "", "Configuration file path")
	configPathC  = flag.String("c", "", "Configuration file path (shorthand)")
	serverPort   = flag.Int("port", -1, "Status API port (overrides config, 0 disables)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		common.LoadVersionFromFile()
		fmt.Printf("Pulse version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = *configPathC
	}

	a, err := app.NewApp(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	// CLI port override takes priority over config and env.
	if *serverPort >= 0 {
		a.Config.Server.Port = *serverPort
	}

	common.PrintBanner(a.Config, a.Logger)

	// Startup sequence: one catalog refresh to completion, one poll,
	// then the timers.
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if err := a.Scheduler.Start(schedCtx); err != nil {
		a.Logger.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	shutdownChan := make(chan struct{}, 1)

	var srv *server.Server
	if a.Config.Server.Port > 0 {
		srv = server.NewServer(a)
		srv.SetShutdownChannel(shutdownChan)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				a.Logger.Fatal().Err(err).Msg("HTTP server failed")
			}
		}()
	} else {
		a.Logger.Info().Msg("Status API disabled (port 0)")
	}

	a.Logger.Info().Str("version", common.GetVersion()).Msg("Pulse ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		a.Logger.Info().Msg("Shutdown signal received")
	case <-shutdownChan:
		a.Logger.Info().Msg("Shutdown requested via API")
	}

	// Graceful shutdown: abort any in-flight startup work, drain HTTP,
	// then stop the scheduler and close storage.
	schedCancel()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}

	a.Close()
	a.Logger.Info().Msg("Server stopped")
}
