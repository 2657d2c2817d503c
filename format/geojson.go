package format

import (
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

type geojsonCodec struct{}

func (*geojsonCodec) Format() Format { return GeoJSON }

func (*geojsonCodec) Capabilities() Capabilities {
	return Capabilities{MixedGeometry: true, TimeValues: true}
}

// crsNameRE matches both the URN form (urn:ogc:def:crs:EPSG::2154) and the
// legacy code form (EPSG:2154) of a GeoJSON crs member.
var crsNameRE = regexp.MustCompile(`EPSG:{1,2}(\d+)$`)

func (*geojsonCodec) Read(path string) (*feature.Collection, *Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read geojson")
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "parse geojson: %v", err)
	}

	meta := &Metadata{EPSG: parseCRSMember(data)}

	// Property keys are unordered in JSON; sort them so the schema is
	// deterministic across runs.
	keySet := map[string]struct{}{}
	for _, f := range fc.Features {
		for k := range f.Properties {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	features := make([]*feature.Feature, len(fc.Features))
	for i, f := range fc.Features {
		attrs := make(map[string]any, len(keys))
		for _, k := range keys {
			attrs[k] = fromJSONValue(f.Properties[k])
		}
		features[i] = &feature.Feature{Geometry: f.Geometry, Attrs: attrs}
	}

	schema := make(feature.Schema, len(keys))
	for i, k := range keys {
		schema[i] = feature.Field{Name: k, Type: inferFieldType(features, k)}
	}
	return feature.NewCollection(schema, features), meta, nil
}

func (*geojsonCodec) Write(path string, col *feature.Collection, meta *Metadata, enc Encoding) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range col.Features {
		gf := geojson.NewFeature(f.Geometry)
		props := make(geojson.Properties, len(col.Schema))
		for _, fld := range col.Schema {
			props[fld.Name] = toJSONValue(f.Attrs[fld.Name])
		}
		gf.Properties = props
		fc.Append(gf)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return errors.Wrap(err, "marshal geojson")
	}
	if meta != nil && meta.EPSG != 0 && meta.EPSG != 4326 {
		data = injectCRSMember(data, meta.EPSG)
	}
	if enc == EncodingLatin1 {
		// GeoJSON is UTF-8 by definition; reject rather than emit a
		// mislabeled file.
		return errors.Wrapf(errors.ErrWriteCapability, "geojson output must be utf-8")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write geojson")
	}
	return nil
}

// parseCRSMember extracts the EPSG code from a legacy crs member, 0 when
// the document has none (RFC 7946 documents are implicitly 4326, but that
// is the detector's call, not the reader's).
func parseCRSMember(data []byte) int {
	var doc struct {
		CRS *struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.CRS == nil {
		return 0
	}
	m := crsNameRE.FindStringSubmatch(doc.CRS.Properties.Name)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// injectCRSMember adds a legacy crs member to a marshaled FeatureCollection
func injectCRSMember(data []byte, epsg int) []byte {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return data
	}
	crsDoc, err := json.Marshal(map[string]any{
		"type":       "name",
		"properties": map[string]string{"name": "urn:ogc:def:crs:EPSG::" + strconv.Itoa(epsg)},
	})
	if err != nil {
		return data
	}
	doc["crs"] = crsDoc
	out, err := json.Marshal(doc)
	if err != nil {
		return data
	}
	return out
}

// fromJSONValue maps a decoded JSON property to an attribute value
func fromJSONValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, float64:
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(data)
	}
}

// toJSONValue maps an attribute value to its JSON representation
func toJSONValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}

// inferFieldType tags a field from its observed non-null values
func inferFieldType(features []*feature.Feature, key string) feature.FieldType {
	var t feature.FieldType
	for _, f := range features {
		v := f.Attrs[key]
		if v == nil {
			continue
		}
		var vt feature.FieldType
		switch v.(type) {
		case int64:
			vt = feature.TypeInteger
		case float64:
			vt = feature.TypeFloat
		case bool:
			vt = feature.TypeBool
		case time.Time:
			vt = feature.TypeTime
		default:
			vt = feature.TypeString
		}
		switch {
		case t == "":
			t = vt
		case t == feature.TypeInteger && vt == feature.TypeFloat,
			t == feature.TypeFloat && vt == feature.TypeInteger:
			t = feature.TypeFloat
		case t != vt:
			return feature.TypeString
		}
	}
	if t == "" {
		return feature.TypeString
	}
	return t
}
