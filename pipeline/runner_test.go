package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
	"github.com/cascadegis/geoconv/format"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Scratch: config.ScratchConfig{Root: t.TempDir(), MaxBytes: 1 << 30},
		Quality: config.QualityConfig{
			WeightGeometryValidity:      0.30,
			WeightCRSConfidence:         0.20,
			WeightAttributeCompleteness: 0.20,
			WeightSchemaConformance:     0.15,
			WeightDuplicationRatio:      0.15,
		},
		Detect: config.DetectConfig{FallbackEPSG: 4326, SampleSize: 100},
	}
}

const pointsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type":"Feature","geometry":{"type":"Point","coordinates":[2.3522,48.8566]},
     "properties":{"OBJECTID":1,"Name":"Paris"}},
    {"type":"Feature","geometry":{"type":"Point","coordinates":[5.3698,43.2965]},
     "properties":{"OBJECTID":2,"Name":"Marseille"}}
  ]
}`

// Polygon #2 self-intersects, #3 duplicates #1
const dirtyPolygonsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
     "properties":{"zone":"a"}},
    {"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[2,0],[3,1],[3,0],[2,1],[2,0]]]},
     "properties":{"zone":"b"}},
    {"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
     "properties":{"zone":"c"}}
  ]
}`

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunRoundTripPreservesFeatureCount(t *testing.T) {
	r := NewRunner(testConfig(t), nil)
	out := filepath.Join(t.TempDir(), "out.geojson")

	res, err := r.Run(context.Background(), JobSpec{
		Input:        writeInput(t, "in.geojson", pointsGeoJSON),
		OutputFormat: format.GeoJSON,
		Output:       out,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.FeatureCountOutput)
	assert.Equal(t, out, res.Output)
	assert.FileExists(t, out)
	assert.Greater(t, res.ProcessingTimeSeconds, 0.0)
	require.NotNil(t, res.QualityReport)
}

func TestRunCleansAndNormalizes(t *testing.T) {
	r := NewRunner(testConfig(t), nil)
	out := filepath.Join(t.TempDir(), "out.geojson")

	res, err := r.Run(context.Background(), JobSpec{
		Input:               writeInput(t, "in.geojson", dirtyPolygonsGeoJSON),
		OutputFormat:        format.GeoJSON,
		Output:              out,
		FixGeometries:       true,
		NormalizeAttributes: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.FeatureCountOutput)
	report := res.QualityReport
	assert.Equal(t, 1, report.GeometryErrorsFound)
	assert.Equal(t, 1, report.GeometryErrorsFixed)
	assert.Equal(t, 1, report.DuplicateCount)

	// Output attributes follow the cleaner's keep mask: the duplicate
	// feature's row is gone, the repaired one keeps its row.
	codec, err := format.Lookup(format.GeoJSON)
	require.NoError(t, err)
	col, _, err := codec.Read(out)
	require.NoError(t, err)
	require.Equal(t, 2, col.Len())
	assert.Equal(t, "a", col.Features[0].Attrs["zone"])
	assert.Equal(t, "b", col.Features[1].Attrs["zone"])
}

func TestRunDropsGhostColumns(t *testing.T) {
	r := NewRunner(testConfig(t), nil)
	out := filepath.Join(t.TempDir(), "out.geojson")

	_, err := r.Run(context.Background(), JobSpec{
		Input:               writeInput(t, "in.geojson", pointsGeoJSON),
		OutputFormat:        format.GeoJSON,
		Output:              out,
		NormalizeAttributes: true,
	})
	require.NoError(t, err)

	codec, _ := format.Lookup(format.GeoJSON)
	col, _, err := codec.Read(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, col.Schema.Names())
}

func TestRunReprojects(t *testing.T) {
	r := NewRunner(testConfig(t), nil)
	out := filepath.Join(t.TempDir(), "out.geojson")

	res, err := r.Run(context.Background(), JobSpec{
		Input:        writeInput(t, "in.geojson", pointsGeoJSON),
		SourceEPSG:   4326,
		TargetEPSG:   3857,
		OutputFormat: format.GeoJSON,
		Output:       out,
	})
	require.NoError(t, err)
	assert.Equal(t, 4326, res.SourceEPSG)
	assert.Equal(t, 3857, res.TargetEPSG)

	codec, _ := format.Lookup(format.GeoJSON)
	col, meta, err := codec.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 3857, meta.EPSG)

	b, ok := col.Bound()
	require.True(t, ok)
	assert.Greater(t, b.Min[0], 180.0, "coordinates must be projected meters")
}

func TestRunMapsExpiredBudgetToTimeout(t *testing.T) {
	r := NewRunner(testConfig(t), nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := r.Run(ctx, JobSpec{
		Input:        writeInput(t, "in.geojson", pointsGeoJSON),
		OutputFormat: format.GeoJSON,
		Output:       filepath.Join(t.TempDir(), "out.geojson"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
}

func TestTransformAttributesTimeoutToFailingBranch(t *testing.T) {
	r := NewRunner(testConfig(t), nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	col := &feature.Collection{
		Kind:   feature.KindPoint,
		Schema: feature.Schema{{Name: "name", Type: feature.TypeString}},
		Features: []*feature.Feature{
			{Geometry: orb.Point{2.35, 48.85}, Attrs: map[string]any{"name": "Paris"}},
		},
	}

	_, _, err := r.transform(ctx, JobSpec{
		OutputFormat:        format.GeoJSON,
		FixGeometries:       true,
		NormalizeAttributes: true,
	}, col)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))

	// The stage tag names the branch that actually failed, not a
	// flag-derived guess
	details := errors.GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Contains(t, []string{"stage: " + StageClean, "stage: " + StageNormalize}, details[0])
}

func TestRunRejectsUnwritableTarget(t *testing.T) {
	mixed := `{
	  "type": "FeatureCollection",
	  "features": [
	    {"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}},
	    {"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{}}
	  ]
	}`
	r := NewRunner(testConfig(t), nil)
	out := filepath.Join(t.TempDir(), "out.zip")

	_, err := r.Run(context.Background(), JobSpec{
		Input:        writeInput(t, "in.geojson", mixed),
		OutputFormat: format.Shapefile,
		Output:       out,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrWriteCapability))
	assert.NoFileExists(t, out, "failed jobs leave no partial artifact")
}

func TestRunRejectsMismatchedExtension(t *testing.T) {
	r := NewRunner(testConfig(t), nil)

	_, err := r.Run(context.Background(), JobSpec{
		Input:        writeInput(t, "in.gpkg", pointsGeoJSON),
		OutputFormat: format.GeoJSON,
		Output:       filepath.Join(t.TempDir(), "out.geojson"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedFormat))
}
