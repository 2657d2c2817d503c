package format

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

// dBASE III constants for the shapefile attribute table
const (
	dbfVersion       = 0x03
	dbfHeaderLen     = 32
	dbfDescriptorLen = 32
	dbfTerminator    = 0x0d
	dbfMaxNameLen    = 10
	dbfMaxTextWidth  = 254
	dbfNumericWidth  = 18
	dbfFloatDecimals = 6
	dbfDateWidth     = 8
	dbfLogicalWidth  = 1
	dbfDeletedMarker = '*'
	dbfRecordEndByte = 0x1a
)

type dbfField struct {
	name     string
	kind     byte // C, N, L, D
	width    int
	decimals int
}

// writeDBF serializes the attribute table. Field widths are sized from the
// data, capped at the dBASE limits.
func writeDBF(path string, col *feature.Collection, enc Encoding) error {
	fields := make([]dbfField, len(col.Schema))
	for i, fld := range col.Schema {
		fields[i] = descriptorFor(fld, col.Features)
	}

	recordLen := 1 // deletion flag
	for _, f := range fields {
		recordLen += f.width
	}
	headerLen := dbfHeaderLen + len(fields)*dbfDescriptorLen + 1

	buf := make([]byte, 0, headerLen+len(col.Features)*recordLen+1)

	header := make([]byte, dbfHeaderLen)
	header[0] = dbfVersion
	now := time.Now()
	header[1] = byte(now.Year() - 1900)
	header[2] = byte(now.Month())
	header[3] = byte(now.Day())
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(col.Features)))
	binary.LittleEndian.PutUint16(header[8:10], uint16(headerLen))
	binary.LittleEndian.PutUint16(header[10:12], uint16(recordLen))
	buf = append(buf, header...)

	for _, f := range fields {
		desc := make([]byte, dbfDescriptorLen)
		copy(desc[0:11], f.name)
		desc[11] = f.kind
		desc[16] = byte(f.width)
		desc[17] = byte(f.decimals)
		buf = append(buf, desc...)
	}
	buf = append(buf, dbfTerminator)

	for _, feat := range col.Features {
		record := make([]byte, 0, recordLen)
		record = append(record, ' ')
		for i, f := range fields {
			cell, err := formatDBFValue(feat.Attrs[col.Schema[i].Name], f, enc)
			if err != nil {
				return err
			}
			record = append(record, cell...)
		}
		buf = append(buf, record...)
	}
	buf = append(buf, dbfRecordEndByte)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errors.Wrap(err, "write dbf")
	}
	return nil
}

func descriptorFor(fld feature.Field, features []*feature.Feature) dbfField {
	f := dbfField{name: fld.Name}
	if len(f.name) > dbfMaxNameLen {
		f.name = f.name[:dbfMaxNameLen]
	}
	switch fld.Type {
	case feature.TypeInteger:
		f.kind, f.width = 'N', dbfNumericWidth
	case feature.TypeFloat:
		f.kind, f.width, f.decimals = 'N', dbfNumericWidth, dbfFloatDecimals
	case feature.TypeBool:
		f.kind, f.width = 'L', dbfLogicalWidth
	case feature.TypeTime:
		f.kind, f.width = 'D', dbfDateWidth
	default:
		f.kind = 'C'
		width := 1
		for _, feat := range features {
			if s, ok := feat.Attrs[fld.Name].(string); ok && len(s) > width {
				width = len(s)
			}
		}
		if width > dbfMaxTextWidth {
			width = dbfMaxTextWidth
		}
		f.width = width
	}
	return f
}

func formatDBFValue(v any, f dbfField, enc Encoding) ([]byte, error) {
	cell := make([]byte, f.width)
	for i := range cell {
		cell[i] = ' '
	}

	if v == nil {
		if f.kind == 'L' {
			cell[0] = '?'
		}
		return cell, nil
	}

	switch f.kind {
	case 'N':
		var text string
		switch n := v.(type) {
		case int64:
			text = strconv.FormatInt(n, 10)
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return cell, nil
			}
			text = strconv.FormatFloat(n, 'f', f.decimals, 64)
		default:
			text = fmt.Sprint(v)
		}
		if len(text) > f.width {
			return nil, errors.Wrapf(errors.ErrWriteCapability,
				"numeric value %s exceeds dbf field width %d", text, f.width)
		}
		copy(cell[f.width-len(text):], text) // right-aligned
	case 'L':
		b, ok := v.(bool)
		switch {
		case !ok:
			cell[0] = '?'
		case b:
			cell[0] = 'T'
		default:
			cell[0] = 'F'
		}
	case 'D':
		if t, ok := v.(time.Time); ok {
			copy(cell, t.Format("20060102"))
		}
	default:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		raw, err := encodeText(s, enc)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrWriteCapability, "%v", err)
		}
		if len(raw) > f.width {
			raw = raw[:f.width]
		}
		copy(cell, raw)
	}
	return cell, nil
}

// readDBF parses the attribute table back into schema and per-record maps
func readDBF(path string) (feature.Schema, []map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read dbf")
	}
	if len(data) < dbfHeaderLen {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "dbf header truncated")
	}

	numRecords := int(binary.LittleEndian.Uint32(data[4:8]))
	headerLen := int(binary.LittleEndian.Uint16(data[8:10]))
	recordLen := int(binary.LittleEndian.Uint16(data[10:12]))
	if headerLen > len(data) || recordLen <= 0 {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "dbf header out of range")
	}

	var fields []dbfField
	for off := dbfHeaderLen; off+dbfDescriptorLen <= headerLen && data[off] != dbfTerminator; off += dbfDescriptorLen {
		desc := data[off : off+dbfDescriptorLen]
		name := strings.TrimRight(string(desc[0:11]), "\x00")
		fields = append(fields, dbfField{
			name:     name,
			kind:     desc[11],
			width:    int(desc[16]),
			decimals: int(desc[17]),
		})
	}

	rowWidth := 1 // deletion flag
	for _, f := range fields {
		rowWidth += f.width
	}
	if rowWidth > recordLen {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData,
			"dbf field widths (%d) exceed declared record length %d", rowWidth, recordLen)
	}
	if avail := (len(data) - headerLen) / recordLen; numRecords > avail {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData,
			"dbf declares %d records but file holds at most %d", numRecords, avail)
	}

	schema := make(feature.Schema, len(fields))
	for i, f := range fields {
		schema[i] = feature.Field{Name: f.name, Type: dbfFieldType(f)}
	}

	records := make([]map[string]any, 0, numRecords)
	for rec := 0; rec < numRecords; rec++ {
		start := headerLen + rec*recordLen
		row := data[start : start+recordLen]
		if row[0] == dbfDeletedMarker {
			continue
		}
		attrs := make(map[string]any, len(fields))
		off := 1
		for _, f := range fields {
			attrs[f.name] = parseDBFValue(row[off:off+f.width], f)
			off += f.width
		}
		records = append(records, attrs)
	}
	return schema, records, nil
}

func dbfFieldType(f dbfField) feature.FieldType {
	switch f.kind {
	case 'N', 'F':
		if f.decimals > 0 {
			return feature.TypeFloat
		}
		return feature.TypeInteger
	case 'L':
		return feature.TypeBool
	case 'D':
		return feature.TypeTime
	default:
		return feature.TypeString
	}
}

func parseDBFValue(raw []byte, f dbfField) any {
	text := strings.TrimSpace(decodeText(raw))
	if text == "" {
		return nil
	}
	switch f.kind {
	case 'N', 'F':
		if f.decimals > 0 {
			if v, err := strconv.ParseFloat(text, 64); err == nil {
				return v
			}
			return nil
		}
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			return v
		}
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			return v
		}
		return nil
	case 'L':
		switch text {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	case 'D':
		if t, err := time.Parse("20060102", text); err == nil {
			return t
		}
		return nil
	default:
		return text
	}
}
