// Package format reads and writes the supported vector dataset containers:
// GeoJSON, CSV, ESRI Shapefile (zip-packaged), and GeoPackage. Each codec
// declares its capabilities so the writer can reject a collection the target
// cannot represent instead of silently truncating it.
package format

import (
	"sort"
	"strings"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

// Format identifies a supported dataset container
type Format string

const (
	GeoJSON    Format = "geojson"
	CSV        Format = "csv"
	Shapefile  Format = "shapefile"
	GeoPackage Format = "gpkg"
)

// Encoding selects the character encoding for text attributes
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin-1"
)

// Metadata is what a reader learns about a dataset beyond its features:
// projection evidence for the detector and the layer name for writers that
// need one.
type Metadata struct {
	EPSG       int    // embedded CRS declaration, 0 when absent
	SidecarWKT string // adjacent projection definition, "" when absent
	LayerName  string
}

// Capabilities declares what a target container can represent
type Capabilities struct {
	FieldNameLimit int  // longest representable field name, 0 = unlimited
	MixedGeometry  bool // can one layer hold differing geometry kinds
	TimeValues     bool // has a native temporal attribute type
}

// Codec reads and writes one container format
type Codec interface {
	Format() Format
	Capabilities() Capabilities
	Read(path string) (*feature.Collection, *Metadata, error)
	Write(path string, col *feature.Collection, meta *Metadata, enc Encoding) error
}

var codecs = map[Format]Codec{
	GeoJSON:    &geojsonCodec{},
	CSV:        &csvCodec{},
	Shapefile:  &shapefileCodec{},
	GeoPackage: &gpkgCodec{},
}

// Lookup returns the codec for a format name
func Lookup(f Format) (Codec, error) {
	if c, ok := codecs[f]; ok {
		return c, nil
	}
	return nil, errors.Wrapf(errors.ErrUnsupportedFormat, "unknown format %q", f)
}

// Known lists the supported formats in stable order
func Known() []Format {
	out := make([]Format, 0, len(codecs))
	for f := range codecs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseEncoding validates a user-supplied encoding name
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "latin-1", "latin1", "iso-8859-1":
		return EncodingLatin1, nil
	default:
		return "", errors.Newf("unsupported encoding %q", s)
	}
}

// CheckWritable verifies the collection fits the target's capability table.
// Violations are reported, never silently truncated.
func CheckWritable(f Format, col *feature.Collection) error {
	codec, err := Lookup(f)
	if err != nil {
		return err
	}
	caps := codec.Capabilities()

	if col.Kind == feature.KindMixed && !caps.MixedGeometry {
		return errors.Wrapf(errors.ErrWriteCapability,
			"%s cannot hold mixed geometry kinds in one layer", f)
	}
	if !caps.TimeValues {
		for _, fld := range col.Schema {
			if fld.Type == feature.TypeTime {
				return errors.Wrapf(errors.ErrWriteCapability,
					"%s has no temporal attribute type (field %q)", f, fld.Name)
			}
		}
	}
	if caps.FieldNameLimit > 0 {
		for _, fld := range col.Schema {
			if len(fld.Name) > caps.FieldNameLimit {
				return errors.Wrapf(errors.ErrWriteCapability,
					"%s caps field names at %d characters (field %q)", f, caps.FieldNameLimit, fld.Name)
			}
		}
	}
	return nil
}
