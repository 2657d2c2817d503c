package format

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadegis/geoconv/errors"
)

// buildDBF assembles a raw attribute table with the given header fields so
// tests can declare layouts the writer would never produce.
func buildDBF(t *testing.T, numRecords uint32, recordLen uint16, fieldWidth byte, body []byte) string {
	t.Helper()

	headerLen := uint16(dbfHeaderLen + dbfDescriptorLen + 1)
	buf := make([]byte, dbfHeaderLen)
	buf[0] = dbfVersion
	binary.LittleEndian.PutUint32(buf[4:8], numRecords)
	binary.LittleEndian.PutUint16(buf[8:10], headerLen)
	binary.LittleEndian.PutUint16(buf[10:12], recordLen)

	desc := make([]byte, dbfDescriptorLen)
	copy(desc[0:11], "name")
	desc[11] = 'C'
	desc[16] = fieldWidth
	buf = append(buf, desc...)
	buf = append(buf, dbfTerminator)
	buf = append(buf, body...)

	path := filepath.Join(t.TempDir(), "layer.dbf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestReadDBFMalformedLayouts(t *testing.T) {
	t.Run("field widths exceed record length", func(t *testing.T) {
		// One width-200 field inside 5-byte records; the declared layout
		// cannot hold its own fields.
		body := make([]byte, 535)
		for i := range body {
			body[i] = ' '
		}
		path := buildDBF(t, 1, 5, 200, body)

		_, _, err := readDBF(path)
		require.Error(t, err)
		require.ErrorIs(t, err, errors.ErrMalformedData)
	})

	t.Run("record count exceeds file size", func(t *testing.T) {
		// Consistent 5-byte records, but the header claims far more of
		// them than the file holds.
		body := []byte(" abcd efgh")
		path := buildDBF(t, 1_000_000, 5, 4, body)

		_, _, err := readDBF(path)
		require.Error(t, err)
		require.ErrorIs(t, err, errors.ErrMalformedData)
	})

	t.Run("consistent layout still reads", func(t *testing.T) {
		body := []byte(" abcd efgh")
		path := buildDBF(t, 2, 5, 4, body)

		schema, records, err := readDBF(path)
		require.NoError(t, err)
		require.Len(t, schema, 1)
		require.Equal(t, "name", schema[0].Name)
		require.Len(t, records, 2)
		require.Equal(t, "abcd", records[0]["name"])
		require.Equal(t, "efgh", records[1]["name"])
	})
}
