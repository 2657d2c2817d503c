package clean

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidity(t *testing.T) {
	cases := []struct {
		name string
		geom orb.Geometry
		want string
	}{
		{"valid point", orb.Point{1, 2}, ""},
		{"nan point", orb.Point{math.NaN(), 2}, "non-finite coordinate"},
		{"valid line", orb.LineString{{0, 0}, {1, 1}}, ""},
		{"short line", orb.LineString{{0, 0}}, "line with fewer than two points"},
		{"coincident line", orb.LineString{{3, 3}, {3, 3}}, "degenerate line (all points coincident)"},
		{"valid polygon", square(0, 0, 1), ""},
		{"unclosed ring", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}, "unclosed ring"},
		{"zero-area ring", orb.Polygon{{{0, 0}, {1, 1}, {2, 2}, {0, 0}}}, "zero-area ring"},
		{"bowtie", bowtie(), "self-intersecting ring"},
		{"empty multipolygon", orb.MultiPolygon{}, "empty multipolygon"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Invalidity(tc.geom))
			assert.Equal(t, tc.want == "", IsValid(tc.geom))
		})
	}
}

func TestRepairBowtie(t *testing.T) {
	fixed := Repair(bowtie())
	require.NotNil(t, fixed)

	poly, ok := fixed.(orb.Polygon)
	require.True(t, ok)
	assert.True(t, IsValid(poly))

	// The crossing splits the bowtie into two triangles of area 0.25; the
	// repair keeps one of them.
	assert.InDelta(t, 0.25, math.Abs(ringArea(poly[0])), 1e-9)
}

func TestRepairPreservesKind(t *testing.T) {
	cases := []orb.Geometry{
		orb.LineString{{0, 0}, {0, 0}, {1, 1}},
		orb.MultiPolygon{bowtie(), square(5, 5, 2)},
		orb.MultiPoint{{0, 0}, {math.Inf(1), 0}},
	}
	for _, g := range cases {
		fixed := Repair(g)
		require.NotNil(t, fixed)
		assert.IsType(t, g, fixed)
		assert.True(t, IsValid(fixed))
	}
}

func TestRepairUnsalvageable(t *testing.T) {
	assert.Nil(t, Repair(orb.Point{math.NaN(), 0}))
	assert.Nil(t, Repair(orb.LineString{{1, 1}, {1, 1}}))
	assert.Nil(t, Repair(orb.Polygon{{{0, 0}, {1, 1}, {2, 2}, {0, 0}}}))
}

func TestRepairIsIdempotent(t *testing.T) {
	geoms := []orb.Geometry{
		bowtie(),
		orb.LineString{{0, 0}, {0, 0}, {2, 3}, {2, 3}, {4, 4}},
		orb.MultiPolygon{bowtie()},
	}
	for _, g := range geoms {
		once := Repair(g)
		require.NotNil(t, once)
		twice := Repair(once)
		assert.Equal(t, once, twice)
	}
}
