// Package attr normalizes attribute schemas and values: identifier-safe
// field renaming, format name-length truncation, ghost-column removal, type
// promotion, and text cleanup. Every step is schema-wide and idempotent so a
// replayed job produces identical output.
package attr

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/cascadegis/geoconv/feature"
	"github.com/cascadegis/geoconv/logger"
)

// ghostColumns are autogenerated identifier fields that duplicate the
// implicit feature index. Matched on the normalized name.
var ghostColumns = map[string]struct{}{
	"fid":          {},
	"gid":          {},
	"ogc_fid":      {},
	"objectid":     {},
	"shape_area":   {},
	"shape_length": {},
	"shape_leng":   {},
}

// Rename records one field whose name changed
type Rename struct {
	From string
	To   string
}

// Result carries the normalized collection and the schema-change counters
// the quality reporter scores from.
type Result struct {
	Collection  *feature.Collection
	Renames     []Rename
	Dropped     []string
	Promoted    []string
	TotalFields int
}

// ModifiedFields is the number of input fields that needed a rename,
// truncation, or ghost drop.
func (r *Result) ModifiedFields() int {
	return len(r.Renames) + len(r.Dropped)
}

// Normalize rewrites the collection's schema and attribute values. nameLimit
// is the target format's field-name cap (zero for unlimited). The input
// collection is not modified.
func Normalize(col *feature.Collection, nameLimit int, log *zap.SugaredLogger) *Result {
	if log == nil {
		log = logger.Logger
	}

	res := &Result{TotalFields: len(col.Schema)}

	// Steps 1-2: normalized rename, then truncation, each followed by
	// collision suffixing in original column order.
	names := make([]string, len(col.Schema))
	for i, f := range col.Schema {
		names[i] = NormalizeName(f.Name)
	}
	names = ResolveCollisions(names, 0)
	if nameLimit > 0 {
		for i, n := range names {
			names[i] = Truncate(n, nameLimit)
		}
		names = ResolveCollisions(names, nameLimit)
	}

	// Step 3: ghost-column drop
	type column struct {
		oldName string
		field   feature.Field
	}
	columns := make([]column, 0, len(col.Schema))
	for i, f := range col.Schema {
		if _, ghost := ghostColumns[names[i]]; ghost {
			res.Dropped = append(res.Dropped, f.Name)
			continue
		}
		if names[i] != f.Name {
			res.Renames = append(res.Renames, Rename{From: f.Name, To: names[i]})
		}
		columns = append(columns, column{oldName: f.Name, field: feature.Field{Name: names[i], Type: f.Type}})
	}

	// Rewrite every feature's attribute record under the new names with
	// cleaned values (steps 5-6 fused into one value pass).
	features := make([]*feature.Feature, len(col.Features))
	for i, f := range col.Features {
		attrs := make(map[string]any, len(columns))
		for _, c := range columns {
			attrs[c.field.Name] = cleanValue(f.Attrs[c.oldName])
		}
		features[i] = &feature.Feature{Geometry: f.Geometry, Attrs: attrs}
	}

	// Step 4: type promotion over the cleaned values
	schema := make(feature.Schema, len(columns))
	for i, c := range columns {
		schema[i] = c.field
	}
	for i := range schema {
		promoted, changed := promoteField(&schema[i], features)
		if changed {
			res.Promoted = append(res.Promoted, schema[i].Name)
			schema[i].Type = promoted
		}
	}

	res.Collection = &feature.Collection{
		Kind:     col.Kind,
		Schema:   schema,
		Features: features,
	}

	if len(res.Renames) > 0 || len(res.Dropped) > 0 || len(res.Promoted) > 0 {
		log.Infow("attribute normalization finished",
			logger.FieldComponent, "attr",
			logger.FieldTotalCount, res.TotalFields,
			"renamed", len(res.Renames),
			"dropped", len(res.Dropped),
			"promoted", len(res.Promoted),
		)
	}
	return res
}

// sentinelNulls are string spellings of "no value". Compared after
// trimming, case-insensitively.
var sentinelNulls = map[string]struct{}{
	"":     {},
	"-":    {},
	"null": {},
	"n/a":  {},
	"none": {},
}

// cleanValue trims and de-controls text and maps sentinel strings to nil.
// Non-string values pass through.
func cleanValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if _, sentinel := sentinelNulls[strings.ToLower(s)]; sentinel {
		return nil
	}
	return s
}
