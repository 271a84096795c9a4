package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/woozymasta/geoannotator/internal/config"
	"github.com/woozymasta/geoannotator/internal/geocode"
	"github.com/woozymasta/geoannotator/internal/logger"
	"github.com/woozymasta/geoannotator/internal/tiles"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile  string   `short:"c" long:"config"      env:"CONFIG_FILE"  description:"Path to configuration file" default:"config.yaml"`
	Place       string   `short:"q" long:"place"       description:"Place name to geocode and prefetch around"`
	BBox        string   `short:"b" long:"bbox"        description:"Bounding box as min_lon,min_lat,max_lon,max_lat"`
	Radius      float64  `short:"r" long:"radius"      description:"Radius in meters around the place" default:"2000"`
	Layers      []string `short:"l" long:"layer"       env:"LIMIT_LAYERS" description:"Limit prefetch to specific layer names"`
	MinZoom     int      `long:"min-zoom"              description:"Lowest zoom level to fetch" default:"0"`
	MaxZoom     int      `short:"z" long:"max-zoom"    env:"ZOOM_LIMIT"   description:"Highest zoom level to fetch" default:"15"`
	Concurrency int      `short:"p" long:"concurrency" env:"CONCURRENCY"  description:"Concurrency (overrides config)"`
	Force       bool     `short:"f" long:"force"       description:"Force overwrite of cached tiles"`
}

func main() {
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = cfg.Tiles.Concurrency
	}
	if opts.MinZoom < 0 || opts.MinZoom > opts.MaxZoom {
		log.Fatal().Int("min", opts.MinZoom).Int("max", opts.MaxZoom).Msg("Invalid zoom range")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bound, err := resolveBound(ctx, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve area")
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
		Timeout: cfg.Tiles.Timeout,
	}

	fetcher, err := tiles.NewFetcher(client, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tile fetcher")
	}

	// Filter layers if limit is set
	layersToProcess := cfg.Layers
	if len(opts.Layers) > 0 {
		layersToProcess = make([]config.Layer, 0, len(opts.Layers))
		seen := make(map[string]bool)

		for _, name := range opts.Layers {
			layer, ok := cfg.Layer(name)
			if !ok {
				log.Error().
					Str("name", name).
					Msg("Layer specified in --layer not found in configuration")
				continue
			}
			if seen[layer.Name] {
				continue
			}
			seen[layer.Name] = true
			layersToProcess = append(layersToProcess, layer)
		}
	}

	log.Info().
		Int("layers_total", len(cfg.Layers)).
		Int("layers_queued", len(layersToProcess)).
		Str("bound", formatBound(bound)).
		Msg("Starting loader")

	for _, layer := range layersToProcess {
		maxZoom := min(opts.MaxZoom, layer.MaxZoom)
		coords, err := tiles.Covering(bound, opts.MinZoom, maxZoom)
		if err != nil {
			log.Fatal().Err(err).Str("layer", layer.Name).Msg("Area too large, narrow the bbox or lower --max-zoom")
		}

		if _, err := fetcher.Prefetch(ctx, layer, coords, opts.Concurrency, opts.Force); err != nil {
			log.Error().Err(err).Str("layer", layer.Name).Msg("Prefetch interrupted")
			os.Exit(1)
		}
	}

	log.Info().Msg("Loader finished successfully")
}

// resolveBound returns the area to prefetch from --bbox or a geocoded --place.
func resolveBound(ctx context.Context, cfg *config.Config, opts Options) (orb.Bound, error) {
	if opts.BBox != "" {
		return parseBBox(opts.BBox)
	}
	if opts.Place == "" {
		return orb.Bound{}, fmt.Errorf("either --place or --bbox is required")
	}

	searchCtx, cancel := context.WithTimeout(ctx, cfg.Geocoder.Timeout+time.Second)
	defer cancel()

	results := geocode.New(cfg.Geocoder).Search(searchCtx, opts.Place)
	if len(results) == 0 {
		return orb.Bound{}, fmt.Errorf("no results for %q", opts.Place)
	}

	first := results[0]
	log.Info().
		Str("place", first.DisplayName).
		Float64("lat", first.Lat).
		Float64("lon", first.Lon).
		Msg("Place resolved")

	return orbgeo.NewBoundAroundPoint(orb.Point{first.Lon, first.Lat}, opts.Radius), nil
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox needs 4 comma separated values, got %d", len(parts))
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %d: %w", i, err)
		}
		v[i] = f
	}

	if v[0] >= v[2] || v[1] >= v[3] {
		return orb.Bound{}, fmt.Errorf("bbox min must be below max")
	}

	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func formatBound(b orb.Bound) string {
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}
