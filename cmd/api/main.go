package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"magnetcatalog/internal/api"
	"magnetcatalog/internal/config"
	"magnetcatalog/internal/logging"
	"magnetcatalog/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to catalog configuration")
	addr := flag.String("addr", "", "HTTP listen address (overrides api.addr)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reader storage.Reader
	switch cfg.API.Source {
	case "db":
		sqlStore, err := storage.NewSQLStore(cfg.DB)
		if err != nil {
			log.Fatalf("failed to initialise sql store: %v", err)
		}
		defer sqlStore.Close()
		reader = sqlStore
	default:
		jsonStore, err := storage.NewJSONStore(cfg.Output.JSONPath)
		if err != nil {
			log.Fatalf("failed to initialise json store: %v", err)
		}
		reader = jsonStore
	}

	mediaDir := ""
	if cfg.Media.Enabled {
		mediaDir = cfg.Media.Directory
	}
	server := api.NewServer(reader, mediaDir, logger)

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	logger.Info("api server listening", "addr", cfg.API.Addr, "source", cfg.API.Source)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("api server stopped")
}
