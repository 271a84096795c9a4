package tiles

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/woozymasta/geoannotator/internal/config"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngTile(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.RGBA{R: 40, G: 120, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// upstream serves a green tile for z=0..2 except y=1 at z=1, which is missing.
func upstream(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	tile := pngTile(t, 256)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasPrefix(r.URL.Path, "/1/") && strings.HasSuffix(r.URL.Path, "/1.png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tile)
	}))
}

func newFetcher(t *testing.T, url string) (*Fetcher, config.Layer) {
	t.Helper()
	cfg := &config.Config{
		Layers: []config.Layer{{Name: "satellite", URL: url + "/{z}/{x}/{y}.png", Aliases: []string{"sat"}, MaxZoom: 2}},
		Tiles:  config.Tiles{CacheDir: t.TempDir()},
	}
	cfg.ApplyDefaults()

	f, err := NewFetcher(http.DefaultClient, cfg)
	require.NoError(t, err)

	layer, err := f.Layer("sat")
	require.NoError(t, err)
	return f, layer
}

func TestBuildURL(t *testing.T) {
	c := Coordinate{Z: 3, X: 5, Y: 1}
	assert.Equal(t, "https://t/3/1/5", BuildURL("https://t/{z}/{y}/{x}", c))
	assert.Equal(t, "https://t/3/5/6.png", BuildURL("https://t/{z}/{x}/{tms_y}.png", c))
}

func TestParseCoordinate(t *testing.T) {
	c, err := ParseCoordinate("4", "3", "7.webp")
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Z: 4, X: 3, Y: 7}, c)

	_, err = ParseCoordinate("a", "3", "7")
	assert.ErrorIs(t, err, ErrInvalidTile)
}

func TestCoordinateValid(t *testing.T) {
	assert.True(t, Coordinate{Z: 1, X: 1, Y: 1}.Valid(18))
	assert.False(t, Coordinate{Z: 1, X: 2, Y: 0}.Valid(18))
	assert.False(t, Coordinate{Z: 19, X: 0, Y: 0}.Valid(18))
	assert.False(t, Coordinate{Z: 0, X: -1, Y: 0}.Valid(18))
}

func TestEnsureCachesTile(t *testing.T) {
	var calls atomic.Int32
	server := upstream(t, &calls)
	defer server.Close()

	f, layer := newFetcher(t, server.URL)

	path, err := f.Ensure(context.Background(), layer, Coordinate{Z: 1, X: 0, Y: 0}, false)
	require.NoError(t, err)
	assert.Equal(t, f.Path("satellite", Coordinate{Z: 1, X: 0, Y: 0}), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = f.Ensure(context.Background(), layer, Coordinate{Z: 1, X: 0, Y: 0}, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "cached tile must not hit upstream")

	_, err = f.Ensure(context.Background(), layer, Coordinate{Z: 1, X: 0, Y: 0}, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "force must refetch")
}

func TestEnsureMissingAndInvalid(t *testing.T) {
	var calls atomic.Int32
	server := upstream(t, &calls)
	defer server.Close()

	f, layer := newFetcher(t, server.URL)

	_, err := f.Ensure(context.Background(), layer, Coordinate{Z: 1, X: 0, Y: 1}, false)
	assert.ErrorIs(t, err, ErrTileNotFound)

	_, err = f.Ensure(context.Background(), layer, Coordinate{Z: 3, X: 0, Y: 0}, false)
	assert.ErrorIs(t, err, ErrInvalidTile)

	_, err = f.Layer("unknown")
	assert.ErrorIs(t, err, ErrUnknownLayer)

	assert.NotEmpty(t, f.Transparent())
}

func covering(t *testing.T, b orb.Bound, minZoom, maxZoom int) []Coordinate {
	t.Helper()
	coords, err := Covering(b, minZoom, maxZoom)
	require.NoError(t, err)
	return coords
}

func TestCovering(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-179, -80}, Max: orb.Point{179, 80}}
	assert.Len(t, covering(t, world, 0, 0), 1)
	assert.Len(t, covering(t, world, 1, 1), 4)
	assert.Len(t, covering(t, world, 0, 2), 1+4+16)

	small := orb.Bound{Min: orb.Point{-122.42, 37.77}, Max: orb.Point{-122.41, 37.78}}
	assert.Len(t, covering(t, small, 5, 5), 1)

	full := orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}
	for _, c := range covering(t, full, 3, 3) {
		assert.True(t, c.Valid(18), "tile %+v outside the grid", c)
	}
}

func TestCoveringTooLarge(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}

	_, err := Covering(world, 0, 12)
	assert.ErrorIs(t, err, ErrTooManyTiles)

	// the limit is checked from corner tiles, not by building the list
	allocs := testing.AllocsPerRun(5, func() {
		_, _ = Covering(world, 0, 15)
	})
	assert.Less(t, allocs, float64(20))
}

func TestPrefetch(t *testing.T) {
	var calls atomic.Int32
	server := upstream(t, &calls)
	defer server.Close()

	f, layer := newFetcher(t, server.URL)

	world := orb.Bound{Min: orb.Point{-179, -80}, Max: orb.Point{179, 80}}
	stats, err := f.Prefetch(context.Background(), layer, covering(t, world, 0, 1), 4, false)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.Cached)
	assert.Equal(t, 2, stats.Missing)
	assert.Zero(t, stats.Failed)
}
