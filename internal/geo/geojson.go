// Package geo handles drawn feature records and their geometries.
package geo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	// ErrUnsupportedGeometry is returned for geometry types other than Point and Polygon.
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
	// ErrInvalidGeometry is returned when a geometry payload cannot be parsed.
	ErrInvalidGeometry = errors.New("invalid geometry")
)

// Kind is the shape kind of a drawn feature.
type Kind string

// Supported shape kinds. A rectangle is stored as a GeoJSON Polygon.
const (
	KindPoint     Kind = "point"
	KindPolygon   Kind = "polygon"
	KindRectangle Kind = "rectangle"
)

// FeatureCollection is a collection of drawn features as exported by the drawing surface.
type FeatureCollection struct {
	Type     string         `json:"type"`
	Features []DrawnFeature `json:"features"`
}

// DrawnFeature is a raw feature as produced by the drawing surface.
// Geometry is kept as received so structural equality covers the exact payload.
type DrawnFeature struct {
	Properties map[string]interface{} `json:"properties"`
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
}

// geometryHeader is the part of a geometry needed to classify it.
type geometryHeader struct {
	Type string `json:"type"`
}

// GeometryType returns the GeoJSON type tag of the feature geometry.
func (f DrawnFeature) GeometryType() (string, error) {
	if len(bytes.TrimSpace(f.Geometry)) == 0 {
		return "", fmt.Errorf("%w: missing geometry", ErrInvalidGeometry)
	}

	var h geometryHeader
	if err := json.Unmarshal(f.Geometry, &h); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	if h.Type == "" {
		return "", fmt.Errorf("%w: missing geometry type", ErrInvalidGeometry)
	}

	return h.Type, nil
}

// Classify validates the geometry type tag and returns the shape kind.
// Positions with an altitude are rejected. Polygons are refined to rectangles
// when their coordinates parse as an axis-aligned box.
func (f DrawnFeature) Classify() (Kind, error) {
	typ, err := f.GeometryType()
	if err != nil {
		return "", err
	}
	if typ != "Point" && typ != "Polygon" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedGeometry, typ)
	}
	if err := checkPlanar(typ, f.Geometry); err != nil {
		return "", err
	}

	if typ == "Point" {
		return KindPoint, nil
	}
	if g, err := f.Parse(); err == nil {
		if poly, ok := g.(orb.Polygon); ok && IsRectangle(poly) {
			return KindRectangle, nil
		}
	}
	return KindPolygon, nil
}

// Parse decodes the geometry payload into an orb geometry and checks its structure.
func (f DrawnFeature) Parse() (orb.Geometry, error) {
	if len(bytes.TrimSpace(f.Geometry)) == 0 {
		return nil, fmt.Errorf("%w: missing geometry", ErrInvalidGeometry)
	}

	g, err := geojson.UnmarshalGeometry(f.Geometry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	geom := g.Geometry()
	if geom != nil {
		if err := checkPlanar(geom.GeoJSONType(), f.Geometry); err != nil {
			return nil, err
		}
	}

	switch v := geom.(type) {
	case orb.Point:
		if err := checkPosition(f.Geometry); err != nil {
			return nil, err
		}
	case orb.Polygon:
		if err := checkPolygon(v); err != nil {
			return nil, err
		}
	case nil:
		return nil, fmt.Errorf("%w: empty geometry", ErrInvalidGeometry)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, geom.GeoJSONType())
	}

	return geom, nil
}

// Fingerprint returns a canonical encoding of the whole feature.
// Two features are structurally equal when their fingerprints match.
func (f DrawnFeature) Fingerprint() (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", err
	}

	// decoding into interface{} and encoding again sorts object keys
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(canonical), nil
}

// ParseFeatureCollection decodes a FeatureCollection of drawn features.
func ParseFeatureCollection(data []byte) (FeatureCollection, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return FeatureCollection{}, err
	}
	if fc.Type != "FeatureCollection" {
		return FeatureCollection{}, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	return fc, nil
}

// ParseFeatures decodes either a single drawn feature or an array of them.
func ParseFeatures(data []byte) ([]DrawnFeature, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}

	if data[0] == '[' {
		var features []DrawnFeature
		if err := json.Unmarshal(data, &features); err != nil {
			return nil, err
		}
		return features, nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if probe.Type == "FeatureCollection" {
		fc, err := ParseFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		return fc.Features, nil
	}

	var f DrawnFeature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return []DrawnFeature{f}, nil
}
