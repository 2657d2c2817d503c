package format

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cascadegis/geoconv/errors"
)

const sniffLen = 512

// signature verifies that a file head matches what its extension promises
type signature struct {
	format Format
	check  func(head []byte) bool
}

var sqliteMagic = []byte("SQLite format 3\x00")
var zipMagic = []byte("PK\x03\x04")

// signatures maps recognized extensions to their expected leading bytes. A
// declared extension whose content disagrees is rejected, never guessed.
var signatures = map[string]signature{
	".geojson": {GeoJSON, looksLikeJSON},
	".json":    {GeoJSON, looksLikeJSON},
	".csv":     {CSV, looksLikeText},
	".gpkg":    {GeoPackage, func(h []byte) bool { return bytes.HasPrefix(h, sqliteMagic) }},
	".zip":     {Shapefile, func(h []byte) bool { return bytes.HasPrefix(h, zipMagic) }},
	".shp": {Shapefile, func(h []byte) bool {
		return len(h) >= 4 && binary.BigEndian.Uint32(h) == shpFileCode
	}},
}

// Sniff determines the input format from the file extension and verifies
// the leading bytes match before any parsing happens.
func Sniff(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	sig, ok := signatures[ext]
	if !ok {
		return "", errors.Wrapf(errors.ErrUnsupportedFormat, "unrecognized extension %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open input")
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "read input head")
	}
	head = head[:n]

	if !sig.check(head) {
		return "", errors.Wrapf(errors.ErrUnsupportedFormat,
			"content of %s does not match its %s extension", filepath.Base(path), ext)
	}
	return sig.format, nil
}

// ExtensionFor returns the conventional file extension of a format
func ExtensionFor(f Format) string {
	switch f {
	case GeoJSON:
		return ".geojson"
	case CSV:
		return ".csv"
	case Shapefile:
		return ".zip"
	case GeoPackage:
		return ".gpkg"
	default:
		return ""
	}
}

func looksLikeJSON(head []byte) bool {
	trimmed := bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// looksLikeText accepts anything without NUL bytes in the sniffed head
func looksLikeText(head []byte) bool {
	return len(head) > 0 && !bytes.ContainsRune(head, 0)
}
