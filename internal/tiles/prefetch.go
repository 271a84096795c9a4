package tiles

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/woozymasta/geoannotator/internal/config"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog/log"
)

// MaxPrefetchTiles bounds a single prefetch run.
const MaxPrefetchTiles = 200000

// ErrTooManyTiles is returned when an area covers more than MaxPrefetchTiles tiles.
var ErrTooManyTiles = errors.New("too many tiles")

// Stats summarizes a prefetch run.
type Stats struct {
	Total   int
	Cached  int
	Missing int
	Failed  int
}

// Covering returns every tile intersecting the bound for zoom levels minZoom..maxZoom.
// The tiles are counted before any is allocated; ranges above MaxPrefetchTiles fail
// with ErrTooManyTiles.
func Covering(bound orb.Bound, minZoom, maxZoom int) ([]Coordinate, error) {
	type span struct {
		topLeft, bottomRight maptile.Tile
	}

	spans := make([]span, 0, max(maxZoom-minZoom+1, 0))
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		zoom := maptile.Zoom(z)
		last := uint32(1)<<zoom - 1

		topLeft := maptile.At(orb.Point{bound.Min[0], bound.Max[1]}, zoom)
		bottomRight := maptile.At(orb.Point{bound.Max[0], bound.Min[1]}, zoom)
		bottomRight.X = min(bottomRight.X, last)
		bottomRight.Y = min(bottomRight.Y, last)

		w := int(bottomRight.X) - int(topLeft.X) + 1
		h := int(bottomRight.Y) - int(topLeft.Y) + 1
		if w > 0 && h > 0 {
			total += w * h
		}
		if total > MaxPrefetchTiles {
			return nil, fmt.Errorf("%w: zoom %d..%d needs more than %d tiles",
				ErrTooManyTiles, minZoom, maxZoom, MaxPrefetchTiles)
		}
		spans = append(spans, span{topLeft: topLeft, bottomRight: bottomRight})
	}

	coords := make([]Coordinate, 0, total)
	for _, s := range spans {
		z := int(s.topLeft.Z)
		for x := s.topLeft.X; x <= s.bottomRight.X; x++ {
			for y := s.topLeft.Y; y <= s.bottomRight.Y; y++ {
				coords = append(coords, Coordinate{Z: z, X: int(x), Y: int(y)})
			}
		}
	}
	return coords, nil
}

type result struct {
	err   error
	coord Coordinate
}

// Prefetch fills the cache for the given tiles using a bounded worker pool.
func (f *Fetcher) Prefetch(ctx context.Context, layer config.Layer, coords []Coordinate, concurrency int, force bool) (Stats, error) {
	if len(coords) > MaxPrefetchTiles {
		return Stats{}, fmt.Errorf("%w: prefetch of %d tiles exceeds limit %d", ErrTooManyTiles, len(coords), MaxPrefetchTiles)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	log.Info().
		Str("layer", layer.Name).
		Int("tiles", len(coords)).
		Int("concurrency", concurrency).
		Msg("Starting tile prefetch")

	jobs := make(chan Coordinate, len(coords))
	results := make(chan result, len(coords))

	go func() {
		defer close(jobs)
		for _, c := range coords {
			select {
			case jobs <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				_, err := f.Ensure(ctx, layer, c, force)
				results <- result{coord: c, err: err}
			}
		}()
	}
	wg.Wait()
	close(results)

	stats := Stats{Total: len(coords)}
	for res := range results {
		switch {
		case res.err == nil:
			stats.Cached++
		case errors.Is(res.err, ErrTileNotFound):
			stats.Missing++
		default:
			stats.Failed++
			log.Trace().
				Err(res.err).
				Str("url", BuildURL(layer.URL, res.coord)).
				Msg("Failed to download tile")
		}
	}

	log.Info().
		Str("layer", layer.Name).
		Int("cached", stats.Cached).
		Int("missing", stats.Missing).
		Int("failed", stats.Failed).
		Msg("Tile prefetch finished")

	return stats, ctx.Err()
}
