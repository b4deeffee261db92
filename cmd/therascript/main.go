package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radekstepan/therascript-sub007/internal/app"
	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/server"
)

// configPaths collects repeated -config flags in order
type configPaths []string

func (p *configPaths) String() string {
	return fmt.Sprint(*p)
}

func (p *configPaths) Set(value string) error {
	*p = append(*p, value)
	return nil
}

func main() {
	var configs configPaths
	flag.Var(&configs, "config", "Path to a TOML config file (repeatable, later files override earlier ones)")
	port := flag.Int("port", 0, "Override the configured server port")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	config, err := common.LoadConfig(configs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		config.Server.Port = *port
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start application")
	}

	srv := server.New(application)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Therascript analysis server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Application shutdown failed")
	}
}
