package server

import (
	"context"
	"net/http"
	"sort"

	"github.com/woozymasta/geoannotator/assets"
	"github.com/woozymasta/geoannotator/internal/config"
	"github.com/woozymasta/geoannotator/internal/export"
	"github.com/woozymasta/geoannotator/internal/geocode"
	"github.com/woozymasta/geoannotator/internal/session"
	"github.com/woozymasta/geoannotator/internal/tiles"

	"github.com/rs/zerolog/log"
)

// Geocoder looks up candidate places for a free-text name.
type Geocoder interface {
	Search(ctx context.Context, placeName string) []geocode.Result
}

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config    *config.Config
	Sessions  *session.Manager
	Geocoder  Geocoder
	Exporter  *export.Exporter
	Tiles     *tiles.Fetcher
	IndexHTML []byte
	Favicon   []byte
}

// NewServerContext initializes the context, orders the layers and renders the page.
func NewServerContext(cfg *config.Config, geocoder Geocoder, exporter *export.Exporter, fetcher *tiles.Fetcher) (*ServerContext, error) {
	log.Info().Int("layers_count", len(cfg.Layers)).Msg("Initializing server context")

	sort.SliceStable(cfg.Layers, func(i, j int) bool {
		idxI, idxJ := 999999, 999999
		if cfg.Layers[i].Index != nil {
			idxI = *cfg.Layers[i].Index
		}
		if cfg.Layers[j].Index != nil {
			idxJ = *cfg.Layers[j].Index
		}
		return idxI < idxJ
	})

	for _, layer := range cfg.Layers {
		log.Debug().
			Str("layer", layer.Name).
			Int("max_zoom", layer.MaxZoom).
			Bool("overlay", layer.Overlay).
			Msg("Layer registered")
	}

	index, err := assets.Page(cfg.Title)
	if err != nil {
		return nil, err
	}
	favicon, err := assets.Favicon()
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("export_dir", exporter.Dir).
		Str("tile_cache", cfg.Tiles.CacheDir).
		Msg("Server context initialized successfully")

	return &ServerContext{
		Config:    cfg,
		Sessions:  session.NewManager(cfg.View, cfg.Session.TTL),
		Geocoder:  geocoder,
		Exporter:  exporter,
		Tiles:     fetcher,
		IndexHTML: index,
		Favicon:   favicon,
	}, nil
}

// Routes returns the HTTP handler serving the page, API and tiles.
func (s *ServerContext) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/config", s.HandleConfig)
	mux.HandleFunc("GET /api/session", s.HandleSession)
	mux.HandleFunc("DELETE /api/session", s.HandleSessionDiscard)
	mux.HandleFunc("GET /api/search", s.HandleSearch)
	mux.HandleFunc("PUT /api/view", s.HandleView)

	mux.HandleFunc("GET /api/annotations", s.HandleAnnotationsList)
	mux.HandleFunc("POST /api/annotations", s.HandleAnnotationsAdd)
	mux.HandleFunc("DELETE /api/annotations", s.HandleAnnotationsClear)
	mux.HandleFunc("PATCH /api/annotations/{id}", s.HandleAnnotationUpdate)
	mux.HandleFunc("DELETE /api/annotations/{id}", s.HandleAnnotationDelete)

	mux.HandleFunc("POST /api/export", s.HandleExport)
	mux.HandleFunc("GET /api/export", s.HandleExportDownload)

	mux.HandleFunc("GET /tiles/{layer}/{z}/{x}/{y}", s.HandleTile)
	mux.HandleFunc("GET /favicon.svg", s.HandleFavicon)
	mux.HandleFunc("GET /{$}", s.HandleIndex)

	return RequestLogger(mux)
}
