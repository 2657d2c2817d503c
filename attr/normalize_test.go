package attr

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadegis/geoconv/feature"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Date De Creation": "date_de_creation",
		"OBJECTID":         "objectid",
		"Crée le":          "cree_le",
		"surface (m²)":     "surface_m2",
		"  weird--name  ":  "weird_name",
		"123start":         "f123start",
		"":                 "field",
		"already_fine":     "already_fine",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got := NormalizeName(in)
			assert.Equal(t, want, got)
			assert.Equal(t, got, NormalizeName(got), "must be idempotent")
		})
	}
}

func TestResolveCollisions(t *testing.T) {
	t.Run("unique names untouched", func(t *testing.T) {
		names := []string{"a", "b", "c"}
		assert.Equal(t, names, ResolveCollisions(names, 0))
	})

	t.Run("colliding group suffixed by column order", func(t *testing.T) {
		got := ResolveCollisions([]string{"name", "other", "name"}, 0)
		assert.Equal(t, []string{"name1", "other", "name2"}, got)
	})

	t.Run("suffix fits within limit", func(t *testing.T) {
		got := ResolveCollisions([]string{"abcdefghij", "abcdefghij"}, 10)
		assert.Equal(t, []string{"abcdefghi1", "abcdefghi2"}, got)
	})
}

func collection(schema feature.Schema, rows ...map[string]any) *feature.Collection {
	feats := make([]*feature.Feature, len(rows))
	for i, row := range rows {
		feats[i] = &feature.Feature{Geometry: orb.Point{float64(i), 0}, Attrs: row}
	}
	return feature.NewCollection(schema, feats)
}

func TestNormalizeSchema(t *testing.T) {
	col := collection(
		feature.Schema{
			{Name: "OBJECTID", Type: feature.TypeInteger},
			{Name: "Date De Creation", Type: feature.TypeString},
			{Name: "Name", Type: feature.TypeString},
		},
		map[string]any{"OBJECTID": int64(1), "Date De Creation": "2021-05-03", "Name": "park"},
		map[string]any{"OBJECTID": int64(2), "Date De Creation": "2022-11-20", "Name": "  lake  "},
	)

	res := Normalize(col, 0, nil)

	// OBJECTID is a ghost column and must vanish entirely
	assert.Equal(t, []string{"OBJECTID"}, res.Dropped)
	assert.Equal(t, []string{"date_de_creation", "name"}, res.Collection.Schema.Names())

	// The date field promotes to temporal
	assert.Contains(t, res.Promoted, "date_de_creation")
	assert.Equal(t, feature.TypeTime, res.Collection.Schema[0].Type)
	first := res.Collection.Features[0].Attrs["date_de_creation"]
	ts, ok := first.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2021, ts.Year())

	// Whitespace trimmed from text values
	assert.Equal(t, "lake", res.Collection.Features[1].Attrs["name"])

	// Counters for the conformance score: one rename, one drop, of three
	assert.Equal(t, 3, res.TotalFields)
	assert.Equal(t, 2, res.ModifiedFields())
}

func TestNormalizeTruncationCollision(t *testing.T) {
	col := collection(
		feature.Schema{
			{Name: "abcdefghij_first", Type: feature.TypeString},
			{Name: "abcdefghij_second", Type: feature.TypeString},
		},
		map[string]any{"abcdefghij_first": "x", "abcdefghij_second": "y"},
	)

	res := Normalize(col, 10, nil)

	require.Equal(t, []string{"abcdefghi1", "abcdefghi2"}, res.Collection.Schema.Names())
	assert.Equal(t, "x", res.Collection.Features[0].Attrs["abcdefghi1"])
	assert.Equal(t, "y", res.Collection.Features[0].Attrs["abcdefghi2"])
}

func TestNormalizeSentinelsAndPromotion(t *testing.T) {
	col := collection(
		feature.Schema{
			{Name: "count", Type: feature.TypeString},
			{Name: "ratio", Type: feature.TypeString},
			{Name: "label", Type: feature.TypeString},
		},
		map[string]any{"count": "12", "ratio": "0.5", "label": "N/A"},
		map[string]any{"count": "7", "ratio": "NULL", "label": "ok"},
		map[string]any{"count": "-", "ratio": "1.25", "label": "\x00dirty\x1f"},
	)

	res := Normalize(col, 0, nil)

	assert.Equal(t, feature.TypeInteger, res.Collection.Schema[0].Type)
	assert.Equal(t, feature.TypeFloat, res.Collection.Schema[1].Type)
	assert.Equal(t, feature.TypeString, res.Collection.Schema[2].Type)

	rows := res.Collection.Features
	assert.Equal(t, int64(12), rows[0].Attrs["count"])
	assert.Nil(t, rows[2].Attrs["count"])
	assert.Equal(t, 0.5, rows[0].Attrs["ratio"])
	assert.Nil(t, rows[1].Attrs["ratio"])
	assert.Nil(t, rows[0].Attrs["label"])
	assert.Equal(t, "dirty", rows[2].Attrs["label"])
}

func TestNormalizeIdempotent(t *testing.T) {
	col := collection(
		feature.Schema{
			{Name: "Date De Creation", Type: feature.TypeString},
			{Name: "FID", Type: feature.TypeInteger},
			{Name: "Value", Type: feature.TypeString},
		},
		map[string]any{"Date De Creation": "2020-01-01", "FID": int64(1), "Value": " 3 "},
	)

	first := Normalize(col, 10, nil)
	second := Normalize(first.Collection, 10, nil)

	assert.Empty(t, second.Renames)
	assert.Empty(t, second.Dropped)
	assert.Empty(t, second.Promoted)
	assert.Equal(t, first.Collection.Schema, second.Collection.Schema)
	assert.Equal(t, first.Collection.Features[0].Attrs, second.Collection.Features[0].Attrs)
}

func TestNormalizeUniqueOutputNames(t *testing.T) {
	col := collection(
		feature.Schema{
			{Name: "Field Name", Type: feature.TypeString},
			{Name: "field-name", Type: feature.TypeString},
			{Name: "FIELD_NAME", Type: feature.TypeString},
		},
		map[string]any{"Field Name": "a", "field-name": "b", "FIELD_NAME": "c"},
	)

	res := Normalize(col, 0, nil)

	names := res.Collection.Schema.Names()
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate output name %q", n)
		seen[n] = true
	}
	assert.Equal(t, []string{"field_name1", "field_name2", "field_name3"}, names)
}
