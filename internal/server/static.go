package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/woozymasta/geoannotator/internal/tiles"

	"github.com/rs/zerolog/log"
)

const etagCap = 64

// HandleFavicon serves the site favicon.
func (s *ServerContext) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(s.Favicon)
}

// HandleIndex serves the main HTML application.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	etag := fmt.Sprintf(`"%x"`, len(s.IndexHTML))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}

// HandleTile serves a cached imagery tile, fetching it from upstream on a miss.
// Tiles without imagery are answered with a transparent tile.
func (s *ServerContext) HandleTile(w http.ResponseWriter, r *http.Request) {
	if s.Tiles == nil {
		http.NotFound(w, r)
		return
	}

	layer, err := s.Tiles.Layer(r.PathValue("layer"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	coord, err := tiles.ParseCoordinate(r.PathValue("z"), r.PathValue("x"), r.PathValue("y"))
	if err != nil || !coord.Valid(layer.MaxZoom) {
		http.NotFound(w, r)
		return
	}

	path, err := s.Tiles.Ensure(r.Context(), layer, coord, false)
	if err == nil && s.serveFile(w, r, path, "image/webp") {
		return
	}

	if err != nil && !errors.Is(err, tiles.ErrTileNotFound) {
		log.Debug().
			Err(err).
			Str("layer", layer.Name).
			Int("z", coord.Z).
			Int("x", coord.X).
			Int("y", coord.Y).
			Msg("Tile fetch failed, serving transparent tile")
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.Tiles.Transparent())
}

// serveFile tries to serve a file from disk with ETag generation.
// It returns true if the file was found and served (or 304).
func (s *ServerContext) serveFile(w http.ResponseWriter, r *http.Request, path string, contentType string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, info.Size(), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')
	etag := string(buf)

	// check If-None-Match (client sent ETag)
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeFile(w, r, path)
	return true
}
