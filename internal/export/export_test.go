package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/woozymasta/geoannotator/internal/annotation"
	"github.com/woozymasta/geoannotator/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pointFeature   = `{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[-122.41,37.77]}}`
	polygonFeature = `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[-122.5,37.7],[-122.4,37.72],[-122.38,37.8],[-122.49,37.79],[-122.5,37.7]]]}}`
	brokenPolygon  = `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":"garbage"}}`
)

var fixedTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func newStore(t *testing.T, raws ...string) *annotation.Store {
	t.Helper()
	s := annotation.NewStore()
	for _, raw := range raws {
		var f geo.DrawnFeature
		require.NoError(t, json.Unmarshal([]byte(raw), &f))
		_, _, err := s.Add(f)
		require.NoError(t, err)
	}
	return s
}

func newExporter(t *testing.T) *Exporter {
	t.Helper()
	return &Exporter{Dir: t.TempDir(), Now: func() time.Time { return fixedTime }}
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "annotations_20240309_140507.geojson", Filename(fixedTime, FormatGeoJSON))
	assert.Equal(t, "annotations_20240309_140507.csv", Filename(fixedTime, FormatCSV))
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		input string
		want  Format
	}{
		{"GeoJSON", FormatGeoJSON},
		{"geojson", FormatGeoJSON},
		{" CSV ", FormatCSV},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseFormat(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseFormat("kml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExportEmptyStore(t *testing.T) {
	e := newExporter(t)

	_, err := e.Export(nil, FormatGeoJSON)
	assert.ErrorIs(t, err, ErrEmptyStore)
	assert.Empty(t, dirEntries(t, e.Dir))
}

func TestExportGeoJSONRoundTrip(t *testing.T) {
	s := newStore(t, pointFeature, polygonFeature)
	require.NoError(t, s.SetLabel(0, "Tower"))
	require.NoError(t, s.SetNotes(0, "observation point"))
	require.NoError(t, s.SetLabel(1, "Lake"))

	e := newExporter(t)
	path, err := e.Export(s.All(), FormatGeoJSON)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.Dir, "annotations_20240309_140507.geojson"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	assert.Equal(t, orb.Point{-122.41, 37.77}, fc.Features[0].Geometry)
	assert.Equal(t, "Tower", fc.Features[0].Properties.MustString("label"))
	assert.Equal(t, "observation point", fc.Features[0].Properties.MustString("notes"))
	assert.Equal(t, "Point", fc.Features[0].Properties.MustString("type"))

	want, err := s.All()[1].Feature.Parse()
	require.NoError(t, err)
	assert.True(t, orb.Equal(want, fc.Features[1].Geometry))
	assert.Equal(t, "Lake", fc.Features[1].Properties.MustString("label"))
	assert.Equal(t, "", fc.Features[1].Properties.MustString("notes"))
	assert.Equal(t, "Polygon", fc.Features[1].Properties.MustString("type"))

	// no temp files left behind
	assert.Len(t, dirEntries(t, e.Dir), 1)
}

func TestExportCSV(t *testing.T) {
	s := newStore(t, polygonFeature)
	require.NoError(t, s.SetLabel(0, "Lake"))
	require.NoError(t, s.SetNotes(0, "deep, cold"))

	e := newExporter(t)
	path, err := e.Export(s.All(), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, ".csv", filepath.Ext(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"geometry", "label", "notes", "type"}, records[0])

	row := records[1]
	g, err := wkt.Unmarshal(row[0])
	require.NoError(t, err)
	_, ok := g.(orb.Polygon)
	assert.True(t, ok, "geometry column must be a WKT POLYGON, got %q", row[0])
	assert.Equal(t, "Lake", row[1])
	assert.Equal(t, "deep, cold", row[2])
	assert.Equal(t, "Polygon", row[3])
}

func TestExportGeometryParseError(t *testing.T) {
	s := newStore(t, pointFeature, brokenPolygon)

	e := newExporter(t)
	_, err := e.Export(s.All(), FormatGeoJSON)

	var parseErr *GeometryParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 1, parseErr.Index)
	assert.Equal(t, s.All()[1].ID, parseErr.ID)
	assert.ErrorIs(t, err, geo.ErrInvalidGeometry)

	assert.Empty(t, dirEntries(t, e.Dir), "a failed export must not leave a file")
}

func TestEncodeWritesNothingOnFailure(t *testing.T) {
	s := newStore(t, pointFeature, brokenPolygon)

	var buf bytes.Buffer
	err := Encode(&buf, s.All(), FormatCSV)
	require.Error(t, err)
	assert.Zero(t, buf.Len())

	err = Encode(&buf, newStore(t, pointFeature).All(), Format("kml"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Zero(t, buf.Len())
}

func TestScenarioDeleteThenExport(t *testing.T) {
	s := newStore(t, pointFeature, polygonFeature)
	require.NoError(t, s.Delete(0))

	items := s.All()
	require.Len(t, items, 1)
	assert.Equal(t, "Polygon", items[0].GeometryType())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, items, FormatGeoJSON))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.GeoJSONType())
}
