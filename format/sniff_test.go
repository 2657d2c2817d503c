package format

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadegis/geoconv/errors"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSniffRecognizedFormats(t *testing.T) {
	shpHead := make([]byte, 8)
	binary.BigEndian.PutUint32(shpHead, shpFileCode)

	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"data.geojson", []byte(`{"type":"FeatureCollection","features":[]}`), GeoJSON},
		{"data.json", []byte("  \n{\"type\":\"FeatureCollection\"}"), GeoJSON},
		{"data.csv", []byte("lon,lat,name\n1.0,2.0,x\n"), CSV},
		{"data.gpkg", append([]byte("SQLite format 3\x00"), make([]byte, 100)...), GeoPackage},
		{"data.zip", []byte("PK\x03\x04rest"), Shapefile},
		{"data.shp", shpHead, Shapefile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Sniff(writeTemp(t, tc.name, tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSniffRejectsMismatchedContent(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"fake.geojson", []byte("PK\x03\x04 not json")},
		{"fake.gpkg", []byte(`{"type":"FeatureCollection"}`)},
		{"fake.csv", []byte{0x00, 0x01, 0x02}},
		{"fake.shp", []byte("lon,lat\n1,2\n")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Sniff(writeTemp(t, tc.name, tc.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrUnsupportedFormat))
		})
	}
}

func TestSniffUnknownExtension(t *testing.T) {
	_, err := Sniff(writeTemp(t, "data.tiff", []byte("II*\x00")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedFormat))
}

func TestParseEncoding(t *testing.T) {
	for _, ok := range []string{"", "utf-8", "UTF8", "latin-1", "ISO-8859-1"} {
		_, err := ParseEncoding(ok)
		assert.NoError(t, err, ok)
	}
	_, err := ParseEncoding("shift-jis")
	assert.Error(t, err)
}

func TestKnownFormats(t *testing.T) {
	formats := Known()
	assert.Len(t, formats, 4)
	for _, f := range formats {
		codec, err := Lookup(f)
		require.NoError(t, err)
		assert.Equal(t, f, codec.Format())
		assert.NotEmpty(t, ExtensionFor(f))
	}
}
