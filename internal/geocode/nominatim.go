// Package geocode resolves place names to coordinates using a Nominatim search endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/woozymasta/geoannotator/internal/config"

	"github.com/rs/zerolog/log"
)

// Result is a single candidate place.
type Result struct {
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// nominatimPlace is the subset of a Nominatim search entry we read.
// Coordinates arrive as strings.
type nominatimPlace struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Client queries a Nominatim compatible search endpoint.
type Client struct {
	HTTP      *http.Client
	Endpoint  string
	UserAgent string
	Limit     int
}

// New builds a client from the geocoder configuration.
func New(cfg config.Geocoder) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: cfg.Timeout},
		Endpoint:  cfg.URL,
		UserAgent: cfg.UserAgent,
		Limit:     cfg.Limit,
	}
}

// Search looks up a place name. Any failure yields an empty result list.
func (c *Client) Search(ctx context.Context, placeName string) []Result {
	placeName = strings.TrimSpace(placeName)
	if placeName == "" {
		return []Result{}
	}

	results, err := c.search(ctx, placeName)
	if err != nil {
		log.Warn().
			Err(err).
			Str("query", placeName).
			Msg("Geocoding failed, returning no results")
		return []Result{}
	}

	log.Debug().
		Str("query", placeName).
		Int("results", len(results)).
		Msg("Geocoding completed")

	return results
}

func (c *Client) search(ctx context.Context, placeName string) ([]Result, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", placeName)
	if c.Limit > 0 {
		params.Set("limit", strconv.Itoa(c.Limit))
	}

	reqURL := fmt.Sprintf("%s?%s", c.Endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, len(places))
	for _, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lon, errLon := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLon != nil {
			log.Trace().
				Str("name", p.DisplayName).
				Str("lat", p.Lat).
				Str("lon", p.Lon).
				Msg("Skipping place with invalid coordinates")
			continue
		}
		results = append(results, Result{DisplayName: p.DisplayName, Lat: lat, Lon: lon})
	}

	return results, nil
}
