package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codetalcott/fixiplug"
	"github.com/codetalcott/fixiplug/httpapi"
	"github.com/codetalcott/fixiplug/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := fixiplug.Config{
		Features: []string{
			fixiplug.FeatureIntrospection,
			fixiplug.FeatureStateTracker,
			fixiplug.FeatureScheduler,
			fixiplug.FeatureEventLog,
		},
	}
	if *configPath != "" {
		loaded, err := fixiplug.LoadConfig(*configPath)
		if err != nil {
			logger.Initialize("info", false)
			logger.Log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		cfg = loaded
	} else {
		cfg.LogLevel = "info"
		cfg.Listen = ":8000"
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Log

	plug := fixiplug.New(cfg)
	defer plug.Close()

	router := httpapi.NewRouter(plug)
	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	go func() {
		log.Info().Str("listen", cfg.Listen).Str("version", fixiplug.Version).Msg("fixiplug server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
