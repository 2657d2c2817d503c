package format

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

func sampleCollection() *feature.Collection {
	schema := feature.Schema{
		{Name: "name", Type: feature.TypeString},
		{Name: "population", Type: feature.TypeInteger},
		{Name: "area_km2", Type: feature.TypeFloat},
	}
	return feature.NewCollection(schema, []*feature.Feature{
		{
			Geometry: orb.Point{2.3522, 48.8566},
			Attrs:    map[string]any{"name": "Paris", "population": int64(2161000), "area_km2": 105.4},
		},
		{
			Geometry: orb.Point{5.3698, 43.2965},
			Attrs:    map[string]any{"name": "Marseille", "population": int64(870000), "area_km2": 240.6},
		},
		{
			Geometry: orb.Point{-0.5792, 44.8378},
			Attrs:    map[string]any{"name": "Bordeaux", "population": nil, "area_km2": 49.4},
		},
	})
}

func samplePolygons() *feature.Collection {
	schema := feature.Schema{{Name: "zone", Type: feature.TypeString}}
	outer := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := orb.Ring{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}}
	return feature.NewCollection(schema, []*feature.Feature{
		{Geometry: orb.Polygon{outer, hole}, Attrs: map[string]any{"zone": "with-hole"}},
		{Geometry: orb.Polygon{{{20, 20}, {30, 20}, {30, 30}, {20, 20}}}, Attrs: map[string]any{"zone": "plain"}},
	})
}

func roundTrip(t *testing.T, f Format, col *feature.Collection, meta *Metadata) (*feature.Collection, *Metadata) {
	t.Helper()
	codec, err := Lookup(f)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out"+ExtensionFor(f))
	require.NoError(t, codec.Write(path, col, meta, EncodingUTF8))

	got, gotMeta, err := codec.Read(path)
	require.NoError(t, err)
	return got, gotMeta
}

func TestGeoJSONRoundTrip(t *testing.T) {
	col := sampleCollection()
	got, meta := roundTrip(t, GeoJSON, col, &Metadata{EPSG: 2154})

	require.Equal(t, col.Len(), got.Len())
	assert.Equal(t, 2154, meta.EPSG)
	assert.Equal(t, feature.KindPoint, got.Kind)

	first := got.Features[0]
	assert.Equal(t, orb.Point{2.3522, 48.8566}, first.Geometry)
	assert.Equal(t, "Paris", first.Attrs["name"])
	assert.Nil(t, got.Features[2].Attrs["population"])
}

func TestGeoJSONRejectsLatin1(t *testing.T) {
	codec, err := Lookup(GeoJSON)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.geojson")
	err = codec.Write(path, sampleCollection(), nil, EncodingLatin1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrWriteCapability))
}

func TestCSVRoundTripPoints(t *testing.T) {
	col := sampleCollection()
	got, _ := roundTrip(t, CSV, col, nil)

	require.Equal(t, col.Len(), got.Len())
	assert.Equal(t, orb.Point{5.3698, 43.2965}, got.Features[1].Geometry)
	// CSV is untyped; values come back as text
	assert.Equal(t, "Marseille", got.Features[1].Attrs["name"])
	assert.Equal(t, "870000", got.Features[1].Attrs["population"])
}

func TestCSVRoundTripPolygonsViaWKT(t *testing.T) {
	col := samplePolygons()
	got, _ := roundTrip(t, CSV, col, nil)

	require.Equal(t, col.Len(), got.Len())
	poly, ok := got.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2, "hole must survive the wkt column")
}

func TestCSVRejectsHeaderWithoutGeometry(t *testing.T) {
	path := writeTemp(t, "plain.csv", []byte("name,age\nann,41\n"))
	codec, err := Lookup(CSV)
	require.NoError(t, err)

	_, _, err = codec.Read(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedData))
}

func TestShapefileRoundTrip(t *testing.T) {
	col := samplePolygons()
	meta := &Metadata{LayerName: "zones", SidecarWKT: `PROJCS["RGF93 v1 / Lambert-93"]`}
	got, gotMeta := roundTrip(t, Shapefile, col, meta)

	require.Equal(t, col.Len(), got.Len())
	assert.Equal(t, feature.KindPolygon, got.Kind)
	assert.Equal(t, meta.SidecarWKT, gotMeta.SidecarWKT)
	assert.Equal(t, "zones", gotMeta.LayerName)

	poly, ok := got.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2, "hole ring must survive winding round-trip")
	assert.Equal(t, "with-hole", got.Features[0].Attrs["zone"])
}

func TestShapefilePointRoundTrip(t *testing.T) {
	col := sampleCollection()
	got, _ := roundTrip(t, Shapefile, col, &Metadata{LayerName: "cities"})

	require.Equal(t, col.Len(), got.Len())
	p, ok := got.Features[0].Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 2.3522, p[0], 1e-9)
	assert.InDelta(t, 48.8566, p[1], 1e-9)

	// dBASE numeric columns keep their integer/float split
	assert.Equal(t, int64(2161000), got.Features[0].Attrs["population"])
	assert.InDelta(t, 105.4, got.Features[0].Attrs["area_km2"].(float64), 1e-6)
	assert.Nil(t, got.Features[2].Attrs["population"])
}

func TestShapefileRejectsMixedKinds(t *testing.T) {
	mixed := feature.NewCollection(nil, []*feature.Feature{
		{Geometry: orb.Point{0, 0}},
		{Geometry: orb.LineString{{0, 0}, {1, 1}}},
	})
	err := CheckWritable(Shapefile, mixed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrWriteCapability))

	// The same collection is fine for geojson
	assert.NoError(t, CheckWritable(GeoJSON, mixed))
}

func TestShapefileArchiveMissingSHP(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(inner, []byte("not a shapefile"), 0o644))
	zipPath := filepath.Join(dir, "bundle.zip")
	require.NoError(t, buildArchive(zipPath, []string{inner}))

	codec, err := Lookup(Shapefile)
	require.NoError(t, err)
	_, _, err = codec.Read(zipPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruptArchive))
}

func TestExtractArchiveByteCap(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(big, make([]byte, 4096), 0o644))
	zipPath := filepath.Join(dir, "big.zip")
	require.NoError(t, buildArchive(zipPath, []string{big}))

	err := ExtractArchive(zipPath, t.TempDir(), 1024)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrResourceExhausted))
}

func TestGeoPackageRoundTrip(t *testing.T) {
	col := sampleCollection()
	meta := &Metadata{EPSG: 4326, LayerName: "cities"}
	got, gotMeta := roundTrip(t, GeoPackage, col, meta)

	require.Equal(t, col.Len(), got.Len())
	assert.Equal(t, 4326, gotMeta.EPSG)
	assert.Equal(t, "cities", gotMeta.LayerName)
	assert.Equal(t, orb.Point{2.3522, 48.8566}, got.Features[0].Geometry)
	assert.Equal(t, "Paris", got.Features[0].Attrs["name"])
	assert.Equal(t, int64(2161000), got.Features[0].Attrs["population"])
}

func TestGeoPackagePolygonRoundTrip(t *testing.T) {
	col := samplePolygons()
	got, _ := roundTrip(t, GeoPackage, col, &Metadata{EPSG: 2154, LayerName: "zones"})

	require.Equal(t, col.Len(), got.Len())
	poly, ok := got.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2)
}
