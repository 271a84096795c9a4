package geo

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// minRingPositions is the GeoJSON minimum for a linear ring (a closed triangle).
const minRingPositions = 4

// checkPosition ensures a Point payload carries at least a longitude and latitude.
func checkPosition(raw json.RawMessage) error {
	var g struct {
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	if len(g.Coordinates) < 2 {
		return fmt.Errorf("%w: point needs 2 coordinates, got %d", ErrInvalidGeometry, len(g.Coordinates))
	}
	return nil
}

// checkPlanar rejects positions carrying more than a longitude and latitude.
// Coordinates that do not decode as the expected shape are left to Parse.
func checkPlanar(typ string, raw json.RawMessage) error {
	var positions [][]float64
	switch typ {
	case "Point":
		var g struct {
			Coordinates []float64 `json:"coordinates"`
		}
		if json.Unmarshal(raw, &g) != nil {
			return nil
		}
		positions = [][]float64{g.Coordinates}
	case "Polygon":
		var g struct {
			Coordinates [][][]float64 `json:"coordinates"`
		}
		if json.Unmarshal(raw, &g) != nil {
			return nil
		}
		for _, ring := range g.Coordinates {
			positions = append(positions, ring...)
		}
	}

	for _, pos := range positions {
		if len(pos) > 2 {
			return fmt.Errorf("%w: position %v has %d values, altitude is not supported",
				ErrInvalidGeometry, pos, len(pos))
		}
	}
	return nil
}

// checkPolygon ensures every ring is closed and long enough.
func checkPolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
	}
	for i, ring := range p {
		if len(ring) < minRingPositions {
			return fmt.Errorf("%w: ring %d has %d positions, need at least %d",
				ErrInvalidGeometry, i, len(ring), minRingPositions)
		}
		if !ring.Closed() {
			return fmt.Errorf("%w: ring %d is not closed", ErrInvalidGeometry, i)
		}
	}
	return nil
}

// IsRectangle reports whether the polygon is a single axis-aligned box,
// the shape produced by the rectangle draw tool.
func IsRectangle(p orb.Polygon) bool {
	if len(p) != 1 || len(p[0]) != 5 || !p[0].Closed() {
		return false
	}

	ring := p[0]
	b := ring.Bound()
	if b.Min[0] == b.Max[0] || b.Min[1] == b.Max[1] {
		return false
	}

	for i := 0; i < 4; i++ {
		a, c := ring[i], ring[i+1]
		vertical := almostEqual(a[0], c[0])
		horizontal := almostEqual(a[1], c[1])
		if vertical == horizontal {
			return false
		}
		if !onCorner(a, b) {
			return false
		}
	}

	return true
}

func onCorner(p orb.Point, b orb.Bound) bool {
	onX := almostEqual(p[0], b.Min[0]) || almostEqual(p[0], b.Max[0])
	onY := almostEqual(p[1], b.Min[1]) || almostEqual(p[1], b.Max[1])
	return onX && onY
}

func almostEqual(a, b float64) bool {
	const epsilon = 1e-9
	return math.Abs(a-b) <= epsilon
}
