// Package feature defines the in-memory data model the conversion pipeline
// operates on: an ordered feature collection with a declared geometry kind
// and an ordered attribute schema.
//
// A Collection is owned exclusively by one job. Stages never mutate a
// collection another stage still holds; each stage consumes one version and
// produces the next.
package feature

import (
	"time"

	"github.com/paulmach/orb"
)

// GeometryKind classifies a collection's geometry contents
type GeometryKind string

const (
	KindPoint   GeometryKind = "point"
	KindLine    GeometryKind = "line"
	KindPolygon GeometryKind = "polygon"
	KindMixed   GeometryKind = "mixed"
	KindUnknown GeometryKind = "unknown"
)

// FieldType tags an attribute field's value type
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeBool    FieldType = "bool"
	TypeTime    FieldType = "time"
)

// Field is one named, typed attribute column
type Field struct {
	Name string
	Type FieldType
}

// Schema is the ordered field list of a collection. Order is significant:
// collision suffixing and writers both depend on original column order.
type Schema []Field

// Index returns the position of name in the schema, or -1
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the schema contains a field with the given name
func (s Schema) Has(name string) bool {
	return s.Index(name) >= 0
}

// Names returns the field names in schema order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Clone returns an independent copy of the schema
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Feature is one geometry plus its attribute record. A nil Geometry is a
// null geometry (the cleaner drops these). Attribute values are nil, string,
// int64, float64, bool, or time.Time; keys are a subset of the collection
// schema.
type Feature struct {
	Geometry orb.Geometry
	Attrs    map[string]any
}

// Clone returns a deep copy of the feature
func (f *Feature) Clone() *Feature {
	out := &Feature{Attrs: make(map[string]any, len(f.Attrs))}
	if f.Geometry != nil {
		out.Geometry = orb.Clone(f.Geometry)
	}
	for k, v := range f.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// Collection is an ordered sequence of features with a declared geometry
// kind and attribute schema.
type Collection struct {
	Kind     GeometryKind
	Schema   Schema
	Features []*Feature
}

// NewCollection builds a collection and classifies its geometry kind from
// the features present.
func NewCollection(schema Schema, features []*Feature) *Collection {
	return &Collection{
		Kind:     ClassifyKind(features),
		Schema:   schema,
		Features: features,
	}
}

// Len returns the feature count
func (c *Collection) Len() int {
	return len(c.Features)
}

// Clone returns a deep copy of the collection
func (c *Collection) Clone() *Collection {
	out := &Collection{
		Kind:     c.Kind,
		Schema:   c.Schema.Clone(),
		Features: make([]*Feature, len(c.Features)),
	}
	for i, f := range c.Features {
		out.Features[i] = f.Clone()
	}
	return out
}

// Bound returns the bounding box over all non-null geometries. The second
// return is false when the collection has no geometry at all.
func (c *Collection) Bound() (orb.Bound, bool) {
	var bound orb.Bound
	found := false
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if !found {
			bound = b
			found = true
			continue
		}
		bound = bound.Union(b)
	}
	return bound, found
}

// KindOf maps a single geometry to its collection kind
func KindOf(g orb.Geometry) GeometryKind {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return KindPoint
	case orb.LineString, orb.MultiLineString:
		return KindLine
	case orb.Polygon, orb.MultiPolygon:
		return KindPolygon
	case orb.Collection:
		return KindMixed
	default:
		return KindUnknown
	}
}

// ClassifyKind returns the declared kind for a feature set: the common kind
// when all non-null geometries agree, mixed when they do not, unknown when
// there is no geometry to classify.
func ClassifyKind(features []*Feature) GeometryKind {
	kind := KindUnknown
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		k := KindOf(f.Geometry)
		switch {
		case kind == KindUnknown:
			kind = k
		case kind != k:
			return KindMixed
		}
	}
	return kind
}

// IsZeroValue reports whether v is the null attribute value
func IsZeroValue(v any) bool {
	if v == nil {
		return true
	}
	if t, ok := v.(time.Time); ok {
		return t.IsZero()
	}
	return false
}
