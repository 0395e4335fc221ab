// Command optiontreed is the option tree server daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optiontree/api"
	"optiontree/config"
	"optiontree/registry"
	"optiontree/service"
)

func main() {
	listen := flag.String("listen", "", "Address to listen on (default: :7480)")
	dataDir := flag.String("data", "", "Data directory (default: ./data)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// flags override env
	cfg := config.FromArgs(*listen, *dataDir)
	if *debug {
		cfg.Debug = true
	}
	logger := cfg.Logger()

	logger.Info("optiontreed starting",
		"listen", cfg.Listen,
		"data", cfg.DataDir,
		"max_open", cfg.MaxOpenMissions,
		"idle_ttl", cfg.IdleTTL,
		"huge_threshold", cfg.HugeThreshold,
		"auth", cfg.AuthEnabled(),
		"version", cfg.Version)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	reg := registry.New(registry.Config{
		DataDir: cfg.DataDir,
		MaxOpen: cfg.MaxOpenMissions,
		IdleTTL: cfg.IdleTTL,
		Logger:  logger,
		Service: service.Options{
			Logger:         logger,
			HugeThreshold:  cfg.HugeThreshold,
			TruncatedCount: cfg.TruncatedCount,
		},
	})
	defer reg.Close()

	mux := api.NewRouter(reg, cfg, logger)
	handler := api.WithDefaults(mux, logger, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	logger.Info("optiontreed listening", "addr", cfg.Listen, "routes", "/{mission}/v1/...")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	logger.Info("optiontreed stopped")
}
