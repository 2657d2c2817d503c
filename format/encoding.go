package format

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/cascadegis/geoconv/errors"
)

// encodeText converts a UTF-8 string to the target output encoding
func encodeText(s string, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingLatin1:
		out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, errors.Wrapf(err, "value %q is not representable in latin-1", s)
		}
		return out, nil
	default:
		return []byte(s), nil
	}
}

// decodeText interprets raw attribute bytes as UTF-8 and falls back to
// latin-1 when they are not valid UTF-8. Legacy shapefile and CSV exports
// are frequently latin-1 without saying so.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
