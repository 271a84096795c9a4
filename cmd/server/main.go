package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/geoannotator/internal/config"
	"github.com/woozymasta/geoannotator/internal/export"
	"github.com/woozymasta/geoannotator/internal/geocode"
	"github.com/woozymasta/geoannotator/internal/logger"
	"github.com/woozymasta/geoannotator/internal/server"
	"github.com/woozymasta/geoannotator/internal/tiles"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// shutdownTimeout bounds how long in-flight requests may run after a termination signal.
const shutdownTimeout = 10 * time.Second

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"     env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	Addr       string `short:"a" long:"addr"       env:"LISTEN_ADDRESS" description:"Address to listen on"       default:"0.0.0.0"`
	Port       int    `short:"p" long:"port"       env:"LISTEN_PORT"    description:"Port to listen on"          default:"8080"`
	ExportDir  string `short:"o" long:"export-dir" env:"EXPORT_DIR"     description:"Directory for export files (overrides config)"`
	CacheDir   string `long:"tile-cache"           env:"TILE_CACHE_DIR" description:"Tile cache directory (overrides config)"`
}

func main() {
	// .env is optional, values only fill unset variables
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.ExportDir != "" {
		cfg.Export.Dir = opts.ExportDir
	}
	if opts.CacheDir != "" {
		cfg.Tiles.CacheDir = opts.CacheDir
	}

	tileClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: cfg.Tiles.Concurrency,
		},
		Timeout: cfg.Tiles.Timeout,
	}
	fetcher, err := tiles.NewFetcher(tileClient, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tile fetcher")
	}

	srvCtx, err := server.NewServerContext(cfg, geocode.New(cfg.Geocoder), export.New(cfg.Export.Dir), fetcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", listenAddr).Msg("Failed to listen")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", listenAddr).
		Int("layers", len(cfg.Layers)).
		Float64("lat", cfg.View.Lat).
		Float64("lon", cfg.View.Lon).
		Msg("Web server started")

	if err := serve(ctx, srv, ln, shutdownTimeout); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Server stopped")
}

// serve runs srv on ln until ctx is done, then shuts it down and returns once
// in-flight requests have completed or timeout expires.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Received termination signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
