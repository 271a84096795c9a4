// Package config handles configuration loading and shared data structures.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when the configuration file omits a value.
const (
	DefaultLat           = 37.7749
	DefaultLon           = -122.4194
	DefaultGeocoderURL   = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent     = "geoannotator/1.0"
	DefaultSatelliteURL  = "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}"
	DefaultStreetsURL    = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultMaxZoom       = 18
	DefaultZoom          = 12
	DefaultSearchZoom    = 12
	DefaultGeocodeLimit  = 10
	DefaultTileCacheDir  = "tiles"
	DefaultConcurrency   = 16
	DefaultSessionTTL    = 12 * time.Hour
	DefaultClientTimeout = 15 * time.Second
)

// Config represents the root configuration file structure.
type Config struct {
	Title       string   `yaml:"title,omitempty" json:"title"`
	Attribution string   `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	Layers      []Layer  `yaml:"layers" json:"layers"`
	View        View     `yaml:"view" json:"view"`
	Geocoder    Geocoder `yaml:"geocoder" json:"-"`
	Export      Export   `yaml:"export" json:"-"`
	Tiles       Tiles    `yaml:"tiles" json:"-"`
	Session     Session  `yaml:"session" json:"-"`
}

// Layer represents a single imagery layer proxied by the tile server.
type Layer struct {
	Index *int `yaml:"index,omitempty" json:"index,omitempty"`

	Name        string   `yaml:"name" json:"name"`
	Title       string   `yaml:"title,omitempty" json:"title"`
	URL         string   `yaml:"url" json:"-"` // upstream template with {z}/{x}/{y} or {tms_y}
	Attribution string   `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty" json:"-"`
	MaxZoom     int      `yaml:"max_zoom,omitempty" json:"max_zoom"`
	Overlay     bool     `yaml:"overlay,omitempty" json:"overlay,omitempty"`
	Default     bool     `yaml:"default,omitempty" json:"default,omitempty"`
}

// View is the initial map position of a new session.
type View struct {
	Lat        float64 `yaml:"lat" json:"lat"`
	Lon        float64 `yaml:"lon" json:"lon"`
	Zoom       int     `yaml:"zoom,omitempty" json:"zoom"`
	SearchZoom int     `yaml:"search_zoom,omitempty" json:"search_zoom"`
	MaxZoom    int     `yaml:"max_zoom,omitempty" json:"max_zoom"`
}

// Geocoder configures the place search endpoint.
type Geocoder struct {
	URL       string        `yaml:"url,omitempty"`
	UserAgent string        `yaml:"user_agent,omitempty"`
	Limit     int           `yaml:"limit,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// Export configures where export files are written.
type Export struct {
	Dir string `yaml:"dir,omitempty"`
}

// Tiles configures the imagery cache.
type Tiles struct {
	CacheDir    string        `yaml:"cache_dir,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Quality     float32       `yaml:"quality,omitempty"`
}

// Session configures per-user state lifetime.
type Session struct {
	TTL time.Duration `yaml:"ttl,omitempty"`
}

// Load reads and parses the YAML configuration file from the specified path.
// The file is decoded over Default, so keys it omits keep their default value
// and keys it sets, including a zero view center, are taken as written.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := Config{View: View{Lat: DefaultLat, Lon: DefaultLon}}
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values with defaults. The view center is not touched:
// (0, 0) is a valid position.
func (c *Config) ApplyDefaults() {
	if c.Title == "" {
		c.Title = "Geo Annotator"
	}
	if len(c.Layers) == 0 {
		c.Layers = []Layer{
			{Name: "satellite", Title: "Satellite", URL: DefaultSatelliteURL, Attribution: "Esri", Default: true},
			{Name: "streets", Title: "Streets", URL: DefaultStreetsURL, Attribution: "© OpenStreetMap contributors"},
		}
	}
	if c.View.Zoom <= 0 {
		c.View.Zoom = DefaultZoom
	}
	if c.View.SearchZoom <= 0 {
		c.View.SearchZoom = DefaultSearchZoom
	}
	if c.View.MaxZoom <= 0 {
		c.View.MaxZoom = DefaultMaxZoom
	}

	for i := range c.Layers {
		layer := &c.Layers[i]
		if layer.MaxZoom <= 0 {
			layer.MaxZoom = c.View.MaxZoom
		}
		if layer.Attribution == "" {
			layer.Attribution = c.Attribution
		}
		if layer.Title == "" {
			layer.Title = layer.Name
		}
	}

	if c.Geocoder.URL == "" {
		c.Geocoder.URL = DefaultGeocoderURL
	}
	if c.Geocoder.UserAgent == "" {
		c.Geocoder.UserAgent = DefaultUserAgent
	}
	if c.Geocoder.Limit <= 0 {
		c.Geocoder.Limit = DefaultGeocodeLimit
	}
	if c.Geocoder.Timeout <= 0 {
		c.Geocoder.Timeout = DefaultClientTimeout
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "."
	}
	if c.Tiles.CacheDir == "" {
		c.Tiles.CacheDir = DefaultTileCacheDir
	}
	if c.Tiles.Concurrency <= 0 {
		c.Tiles.Concurrency = DefaultConcurrency
	}
	if c.Tiles.Timeout <= 0 {
		c.Tiles.Timeout = DefaultClientTimeout
	}
	if c.Tiles.Quality <= 0 {
		c.Tiles.Quality = 80
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = DefaultSessionTTL
	}
}

// Validate checks that configuration values are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.View.Lat < -90 || c.View.Lat > 90 {
		errs = append(errs, fmt.Sprintf("view.lat must be within [-90, 90], got %g", c.View.Lat))
	}
	if c.View.Lon < -180 || c.View.Lon > 180 {
		errs = append(errs, fmt.Sprintf("view.lon must be within [-180, 180], got %g", c.View.Lon))
	}
	if c.View.Zoom > c.View.MaxZoom {
		errs = append(errs, fmt.Sprintf("view.zoom %d exceeds view.max_zoom %d", c.View.Zoom, c.View.MaxZoom))
	}

	seen := make(map[string]bool)
	for i, layer := range c.Layers {
		if layer.Name == "" {
			errs = append(errs, fmt.Sprintf("layers[%d].name is required", i))
			continue
		}
		if strings.ContainsAny(layer.Name, `/\.`) {
			errs = append(errs, fmt.Sprintf("layers[%d].name %q must not contain path characters", i, layer.Name))
		}
		if seen[layer.Name] {
			errs = append(errs, fmt.Sprintf("layers[%d].name %q is duplicated", i, layer.Name))
		}
		seen[layer.Name] = true
		if !strings.Contains(layer.URL, "{z}") {
			errs = append(errs, fmt.Sprintf("layers[%d].url must contain {z}", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Layer returns the layer with the given name or alias.
func (c *Config) Layer(name string) (Layer, bool) {
	for _, layer := range c.Layers {
		if layer.Name == name {
			return layer, true
		}
		for _, alias := range layer.Aliases {
			if alias == name {
				return layer, true
			}
		}
	}
	return Layer{}, false
}
