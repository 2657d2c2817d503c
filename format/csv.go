package format

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/spf13/cast"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

type csvCodec struct{}

func (*csvCodec) Format() Format { return CSV }

func (*csvCodec) Capabilities() Capabilities {
	return Capabilities{MixedGeometry: true, TimeValues: true}
}

// Geometry column spellings recognized in CSV headers, matched
// case-insensitively.
var (
	wktColumns = []string{"wkt", "geometry", "geom"}
	lonColumns = []string{"lon", "lng", "longitude", "x"}
	latColumns = []string{"lat", "latitude", "y"}
)

func (*csvCodec) Read(path string) (*feature.Collection, *Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "csv has no header row: %v", err)
	}
	for i := range header {
		header[i] = decodeText([]byte(header[i]))
	}

	wktIdx := findColumn(header, wktColumns)
	lonIdx := findColumn(header, lonColumns)
	latIdx := findColumn(header, latColumns)
	if wktIdx < 0 && (lonIdx < 0 || latIdx < 0) {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData,
			"csv needs a wkt column or a lon/lat column pair, header has %v", header)
	}

	// Attribute columns are everything that is not geometry
	geomCols := map[int]struct{}{}
	for _, idx := range []int{wktIdx, lonIdx, latIdx} {
		if idx >= 0 {
			geomCols[idx] = struct{}{}
		}
	}

	var features []*feature.Feature
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(errors.ErrMalformedData, "csv row %d: %v", row+2, err)
		}
		row++

		geom, err := parseCSVGeometry(record, wktIdx, lonIdx, latIdx)
		if err != nil {
			return nil, nil, errors.AtFeature(err, row-1)
		}

		attrs := make(map[string]any, len(header))
		for i, name := range header {
			if _, isGeom := geomCols[i]; isGeom {
				continue
			}
			if i >= len(record) {
				attrs[name] = nil
				continue
			}
			attrs[name] = decodeText([]byte(record[i]))
		}
		features = append(features, &feature.Feature{Geometry: geom, Attrs: attrs})
	}

	var schema feature.Schema
	for i, name := range header {
		if _, isGeom := geomCols[i]; isGeom {
			continue
		}
		schema = append(schema, feature.Field{Name: name, Type: feature.TypeString})
	}
	return feature.NewCollection(schema, features), &Metadata{}, nil
}

func (*csvCodec) Write(path string, col *feature.Collection, _ *Metadata, enc Encoding) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv")
	}
	defer f.Close()

	var out io.Writer = f
	var tw *transform.Writer
	if enc == EncodingLatin1 {
		tw = transform.NewWriter(f, charmap.ISO8859_1.NewEncoder())
		out = tw
	}
	w := csv.NewWriter(out)

	// Point collections get lon/lat columns; everything else carries its
	// geometry as WKT.
	pointLayout := col.Kind == feature.KindPoint && allSinglePoints(col)

	header := make([]string, 0, len(col.Schema)+2)
	if pointLayout {
		header = append(header, "lon", "lat")
	} else {
		header = append(header, "wkt")
	}
	header = append(header, col.Schema.Names()...)
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}

	for _, feat := range col.Features {
		record := make([]string, 0, len(header))
		if pointLayout {
			p := feat.Geometry.(orb.Point)
			record = append(record,
				strconv.FormatFloat(p[0], 'f', -1, 64),
				strconv.FormatFloat(p[1], 'f', -1, 64))
		} else if feat.Geometry != nil {
			record = append(record, wkt.MarshalString(feat.Geometry))
		} else {
			record = append(record, "")
		}
		for _, fld := range col.Schema {
			record = append(record, formatCSVValue(feat.Attrs[fld.Name]))
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(err, "write csv record")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}
	if tw != nil {
		if err := tw.Close(); err != nil {
			return errors.Wrapf(errors.ErrWriteCapability, "latin-1 encode: %v", err)
		}
	}
	return nil
}

func findColumn(header []string, candidates []string) int {
	for i, name := range header {
		lowered := strings.ToLower(strings.TrimSpace(name))
		for _, c := range candidates {
			if lowered == c {
				return i
			}
		}
	}
	return -1
}

func parseCSVGeometry(record []string, wktIdx, lonIdx, latIdx int) (orb.Geometry, error) {
	if wktIdx >= 0 {
		if wktIdx >= len(record) || strings.TrimSpace(record[wktIdx]) == "" {
			return nil, nil
		}
		g, err := wkt.Unmarshal(record[wktIdx])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedData, "bad wkt: %v", err)
		}
		return g, nil
	}
	if lonIdx >= len(record) || latIdx >= len(record) {
		return nil, nil
	}
	lonRaw, latRaw := strings.TrimSpace(record[lonIdx]), strings.TrimSpace(record[latIdx])
	if lonRaw == "" || latRaw == "" {
		return nil, nil
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedData, "bad longitude %q", lonRaw)
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedData, "bad latitude %q", latRaw)
	}
	return orb.Point{lon, lat}, nil
}

func allSinglePoints(col *feature.Collection) bool {
	for _, f := range col.Features {
		if _, ok := f.Geometry.(orb.Point); !ok {
			return false
		}
	}
	return true
}

func formatCSVValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return cast.ToString(val)
	}
}
