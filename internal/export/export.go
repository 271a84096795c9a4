// Package export serializes annotations into GeoJSON or CSV files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/woozymasta/geoannotator/internal/annotation"
	"github.com/woozymasta/geoannotator/internal/fileutil"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// Format is an export file format.
type Format string

// Supported export formats.
const (
	FormatGeoJSON Format = "geojson"
	FormatCSV     Format = "csv"
)

// filenameLayout is the timestamp part of export filenames.
const filenameLayout = "20060102_150405"

var (
	// ErrEmptyStore is returned when there is nothing to export.
	ErrEmptyStore = errors.New("no annotations to export")
	// ErrUnknownFormat is returned for formats other than GeoJSON and CSV.
	ErrUnknownFormat = errors.New("unknown export format")
)

// GeometryParseError reports an annotation whose geometry could not be parsed.
type GeometryParseError struct {
	Err   error
	ID    string
	Index int
}

func (e *GeometryParseError) Error() string {
	return fmt.Sprintf("annotation %d (%s): %v", e.Index+1, e.ID, e.Err)
}

func (e *GeometryParseError) Unwrap() error { return e.Err }

// ParseFormat accepts "geojson" or "csv" in any case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatGeoJSON:
		return FormatGeoJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/geo+json"
}

// Filename returns the export filename for the given time and format.
func Filename(t time.Time, f Format) string {
	return "annotations_" + t.Format(filenameLayout) + "." + string(f)
}

// Row is one exported annotation.
type Row struct {
	Geometry orb.Geometry
	Label    string
	Notes    string
	Type     string
}

// Rows parses every annotation geometry. It fails on the first unparsable one.
func Rows(items []annotation.Annotation) ([]Row, error) {
	rows := make([]Row, 0, len(items))
	for i, a := range items {
		g, err := a.Feature.Parse()
		if err != nil {
			return nil, &GeometryParseError{Index: i, ID: a.ID, Err: err}
		}
		rows = append(rows, Row{
			Geometry: g,
			Label:    a.Label,
			Notes:    a.Notes,
			Type:     a.GeometryType(),
		})
	}
	return rows, nil
}

// Encode writes the annotations to w in the requested format.
// Nothing is written when the annotations are empty or a geometry fails to parse.
func Encode(w io.Writer, items []annotation.Annotation, f Format) error {
	if len(items) == 0 {
		return ErrEmptyStore
	}

	rows, err := Rows(items)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch f {
	case FormatGeoJSON:
		err = encodeGeoJSON(&buf, rows)
	case FormatCSV:
		err = encodeCSV(&buf, rows)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err != nil {
		return err
	}

	_, err = buf.WriteTo(w)
	return err
}

func encodeGeoJSON(w io.Writer, rows []Row) error {
	fc := geojson.NewFeatureCollection()
	for _, r := range rows {
		feature := geojson.NewFeature(r.Geometry)
		feature.Properties["label"] = r.Label
		feature.Properties["notes"] = r.Notes
		feature.Properties["type"] = r.Type
		fc.Append(feature)
	}

	raw, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal feature collection: %w", err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')

	_, err = out.WriteTo(w)
	return err
}

func encodeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"geometry", "label", "notes", "type"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{wkt.MarshalString(r.Geometry), r.Label, r.Notes, r.Type}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Exporter writes timestamped export files into a directory.
type Exporter struct {
	Now func() time.Time
	Dir string
}

// New returns an exporter writing into dir using the wall clock.
func New(dir string) *Exporter {
	return &Exporter{Dir: dir, Now: time.Now}
}

// Export writes the annotations to a new file and returns its path.
// The payload is fully encoded before the file is created, so a failed export leaves no file.
func (e *Exporter) Export(items []annotation.Annotation, f Format) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, items, f); err != nil {
		return "", err
	}

	dir := e.Dir
	if dir == "" {
		dir = "."
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	path := filepath.Join(dir, Filename(now(), f))

	if err := fileutil.WriteAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", err
	}

	log.Info().
		Str("path", path).
		Str("format", string(f)).
		Int("count", len(items)).
		Msg("Annotations exported")

	return path, nil
}
