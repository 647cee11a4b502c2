package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/app"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	runOnce     = flag.Bool("once", false, "Run a single indexing pass and exit")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion {
		fmt.Printf("Indago version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	common.InstallCrashHandler("logs")

	// Auto-discover a config file when none was given
	if len(configFiles) == 0 {
		if _, err := os.Stat("indago.toml"); err == nil {
			configFiles = append(configFiles, "indago.toml")
		} else if _, err := os.Stat("deployments/local/indago.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/indago.toml")
		}
	}

	// Load order: defaults -> config files -> env -> CLI flags
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *serverPort, *serverHost)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetFullVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("database", config.Database.Host).
		Str("solr", config.Solr.URL).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	// Single-pass mode for cron-driven deployments: no HTTP surface, no
	// recurring schedule, just one pass and exit.
	if *runOnce {
		passErr := application.Scheduler.RunOnce(context.Background())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		application.Close(ctx)
		cancel()
		if passErr != nil {
			logger.Fatal().Err(passErr).Msg("Indexing pass failed")
			os.Exit(1)
		}
		return
	}

	if config.Scheduler.Enabled {
		if err := application.Scheduler.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start scheduler")
			os.Exit(1)
		}
	} else {
		logger.Warn().Msg("Scheduler disabled, indexing passes run only via POST /api/trigger")
	}

	srv := server.New(application)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
			os.Exit(1)
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := application.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Application shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}
