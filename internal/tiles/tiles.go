// Package tiles proxies and caches imagery tiles as webp.
package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/woozymasta/geoannotator/internal/config"
	"github.com/woozymasta/geoannotator/internal/fileutil"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// tileSize is the edge length of a slippy map tile in pixels.
const tileSize = 256

var (
	// ErrUnknownLayer is returned for layer names missing from the configuration.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrInvalidTile is returned for coordinates outside the tile grid.
	ErrInvalidTile = errors.New("invalid tile coordinate")
	// ErrTileNotFound is returned when the upstream has no usable image for a tile.
	ErrTileNotFound = errors.New("tile not found")
)

// Coordinate represents a specific tile.
type Coordinate struct {
	Z, X, Y int
}

// ParseCoordinate parses path segments into a coordinate. The y segment may carry
// an image extension.
func ParseCoordinate(z, x, y string) (Coordinate, error) {
	if i := strings.IndexByte(y, '.'); i >= 0 {
		y = y[:i]
	}

	zi, errZ := strconv.Atoi(z)
	xi, errX := strconv.Atoi(x)
	yi, errY := strconv.Atoi(y)
	if errZ != nil || errX != nil || errY != nil {
		return Coordinate{}, fmt.Errorf("%w: %s/%s/%s", ErrInvalidTile, z, x, y)
	}

	return Coordinate{Z: zi, X: xi, Y: yi}, nil
}

// Valid reports whether the coordinate lies on the grid for its zoom and maxZoom.
func (c Coordinate) Valid(maxZoom int) bool {
	if c.Z < 0 || c.Z > maxZoom || c.Z > 30 {
		return false
	}
	n := 1 << c.Z
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// Fetcher downloads tiles from layer templates and caches them on disk.
type Fetcher struct {
	client      *http.Client
	layers      map[string]config.Layer
	cacheDir    string
	transparent []byte
	quality     float32
}

// NewFetcher builds a fetcher for the configured layers.
func NewFetcher(client *http.Client, cfg *config.Config) (*Fetcher, error) {
	layers := make(map[string]config.Layer, len(cfg.Layers))
	for _, layer := range cfg.Layers {
		layers[layer.Name] = layer
		for _, alias := range layer.Aliases {
			layers[alias] = layer
		}
	}

	transparent, err := encodeTransparent()
	if err != nil {
		return nil, fmt.Errorf("encode transparent tile: %w", err)
	}

	return &Fetcher{
		client:      client,
		layers:      layers,
		cacheDir:    cfg.Tiles.CacheDir,
		quality:     cfg.Tiles.Quality,
		transparent: transparent,
	}, nil
}

// Layer resolves a layer by name or alias.
func (f *Fetcher) Layer(name string) (config.Layer, error) {
	layer, ok := f.layers[name]
	if !ok {
		return config.Layer{}, fmt.Errorf("%w: %s", ErrUnknownLayer, name)
	}
	return layer, nil
}

// Transparent returns the fallback tile served for areas without imagery.
func (f *Fetcher) Transparent() []byte {
	return f.transparent
}

// Path returns the cache location of a tile.
func (f *Fetcher) Path(layer string, c Coordinate) string {
	return filepath.Join(
		f.cacheDir,
		layer,
		strconv.Itoa(c.Z),
		strconv.Itoa(c.X),
		strconv.Itoa(c.Y)+".webp",
	)
}

// Ensure returns the cache path of a tile, downloading and converting it when missing
// or when force is set.
func (f *Fetcher) Ensure(ctx context.Context, layer config.Layer, c Coordinate, force bool) (string, error) {
	if !c.Valid(layer.MaxZoom) {
		return "", fmt.Errorf("%w: %d/%d/%d", ErrInvalidTile, c.Z, c.X, c.Y)
	}

	outPath := f.Path(layer.Name, c)

	// Check existence if not forcing overwrite
	if !force {
		if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
			return outPath, nil
		}
	}

	url := BuildURL(layer.URL, c)
	img, err := f.download(ctx, url)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: f.quality}); err != nil {
		return "", fmt.Errorf("encode webp: %w", err)
	}

	if err := fileutil.WriteAtomic(outPath, buf.Bytes(), 0644); err != nil {
		return "", err
	}

	log.Trace().
		Str("layer", layer.Name).
		Str("url", url).
		Str("path", outPath).
		Msg("Tile cached")

	return outPath, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrTileNotFound, url, err)
	}

	// Filter out empty/1px tiles often returned by map servers for OOB areas
	if img.Bounds().Dx() <= 1 {
		return nil, fmt.Errorf("%w: empty tile %s", ErrTileNotFound, url)
	}

	return img, nil
}

// BuildURL expands a layer template for a tile.
func BuildURL(tpl string, c Coordinate) string {
	s := strings.ReplaceAll(tpl, "{z}", strconv.Itoa(c.Z))
	s = strings.ReplaceAll(s, "{x}", strconv.Itoa(c.X))
	s = strings.ReplaceAll(s, "{y}", strconv.Itoa(c.Y))

	if strings.Contains(s, "{tms_y}") {
		maxCoord := (1 << c.Z) - 1
		s = strings.ReplaceAll(s, "{tms_y}", strconv.Itoa(maxCoord-c.Y))
	}

	return s
}

func encodeTransparent() ([]byte, error) {
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize))
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
