package clean

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadegis/geoconv/feature"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// Bowtie: the edges (0,0)-(1,1) and (1,0)-(0,1) cross at (0.5, 0.5)
func bowtie() orb.Polygon {
	return orb.Polygon{{{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0}}}
}

func TestCleanMixedDefects(t *testing.T) {
	// A valid polygon, a self-intersecting one, and an exact duplicate of
	// the first: the duplicate and nothing else must vanish, and the
	// bowtie must come back repaired.
	col := feature.NewCollection(nil, []*feature.Feature{
		{Geometry: square(0, 0, 10), Attrs: map[string]any{"name": "a"}},
		{Geometry: bowtie(), Attrs: map[string]any{"name": "b"}},
		{Geometry: square(0, 0, 10), Attrs: map[string]any{"name": "c"}},
	})

	res := Clean(col, nil)

	assert.Equal(t, 2, res.Stats.TotalOutput)
	assert.Equal(t, 1, res.Stats.InvalidFound)
	assert.Equal(t, 1, res.Stats.Fixed)
	assert.Equal(t, 1, res.Stats.DuplicatesRemoved)
	assert.Equal(t, 0, res.Stats.Unfixable)

	require.Len(t, res.Collection.Features, 2)
	assert.Equal(t, "a", res.Collection.Features[0].Attrs["name"])
	assert.Equal(t, "b", res.Collection.Features[1].Attrs["name"])
	assert.Equal(t, []bool{true, true, false}, res.Keep)

	for _, f := range res.Collection.Features {
		assert.True(t, IsValid(f.Geometry))
	}
}

func TestCleanNullGeometry(t *testing.T) {
	col := feature.NewCollection(nil, []*feature.Feature{
		{Geometry: nil},
		{Geometry: orb.Point{1, 2}},
	})

	res := Clean(col, nil)

	assert.Equal(t, 1, res.Stats.NullGeometry)
	assert.Equal(t, 1, res.Stats.TotalOutput)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, IssueNullGeometry, res.Issues[0].Kind)
	assert.Equal(t, 0, res.Issues[0].FeatureIndex)
}

func TestCleanUnfixable(t *testing.T) {
	// A ring that collapses to zero area cannot be repaired
	col := feature.NewCollection(nil, []*feature.Feature{
		{Geometry: orb.Polygon{{{0, 0}, {1, 1}, {2, 2}, {0, 0}}}},
	})

	res := Clean(col, nil)

	assert.Equal(t, 1, res.Stats.InvalidFound)
	assert.Equal(t, 1, res.Stats.Unfixable)
	assert.Equal(t, 0, res.Stats.TotalOutput)

	var kinds []IssueKind
	for _, is := range res.Issues {
		kinds = append(kinds, is.Kind)
	}
	assert.Contains(t, kinds, IssueEmptyAfterRepair)
}

func TestCleanIssueIndicesReferenceInput(t *testing.T) {
	col := feature.NewCollection(nil, []*feature.Feature{
		{Geometry: orb.Point{0, 0}},
		{Geometry: nil},
		{Geometry: orb.Point{5, 5}},
		{Geometry: orb.Point{5, 5}}, // duplicate of index 2
	})

	res := Clean(col, nil)

	require.Len(t, res.Issues, 2)
	assert.Equal(t, IssueNullGeometry, res.Issues[0].Kind)
	assert.Equal(t, 1, res.Issues[0].FeatureIndex)
	assert.Equal(t, IssueDuplicate, res.Issues[1].Kind)
	assert.Equal(t, 3, res.Issues[1].FeatureIndex)
}

func TestCleanIdempotent(t *testing.T) {
	col := feature.NewCollection(nil, []*feature.Feature{
		{Geometry: square(0, 0, 10)},
		{Geometry: bowtie()},
		{Geometry: square(0, 0, 10)},
		{Geometry: nil},
		{Geometry: orb.LineString{{0, 0}, {0, 0}, {3, 4}}},
	})

	first := Clean(col, nil)
	second := Clean(first.Collection, nil)

	assert.Empty(t, second.Issues)
	assert.Equal(t, first.Stats.TotalOutput, second.Stats.TotalOutput)
	assert.Zero(t, second.Stats.InvalidFound)
	assert.Zero(t, second.Stats.DuplicatesRemoved)
}

func TestCleanPreservesOrderAndInput(t *testing.T) {
	original := feature.NewCollection(nil, []*feature.Feature{
		{Geometry: orb.Point{1, 1}},
		{Geometry: orb.Point{2, 2}},
		{Geometry: orb.Point{3, 3}},
	})

	res := Clean(original, nil)

	require.Equal(t, 3, res.Stats.TotalOutput)
	for i, f := range res.Collection.Features {
		assert.Equal(t, original.Features[i].Geometry, f.Geometry)
	}
	// Input collection keeps its features
	assert.Equal(t, 3, original.Len())
}
