package format

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

// GeoPackage header constants
const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300      // GeoPackage 1.3

	gpkgMagic1 = 0x47 // 'G'
	gpkgMagic2 = 0x50 // 'P'

	// flags byte: little-endian header words, XY envelope present
	gpkgFlagsXYEnvelope = 0x03
)

type gpkgCodec struct{}

func (*gpkgCodec) Format() Format { return GeoPackage }

func (*gpkgCodec) Capabilities() Capabilities {
	return Capabilities{MixedGeometry: true, TimeValues: true}
}

func (*gpkgCodec) Read(path string) (*feature.Collection, *Metadata, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, nil, errors.Wrap(err, "open geopackage")
	}
	defer db.Close()

	var table, geomCol string
	var srsID int
	err = db.QueryRow(`
		SELECT c.table_name, g.column_name, c.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name LIMIT 1`).Scan(&table, &geomCol, &srsID)
	if err != nil {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "geopackage has no feature table: %v", err)
	}

	meta := &Metadata{EPSG: srsID, LayerName: table}

	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table)))
	if err != nil {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "read feature table: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, "read feature columns")
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, errors.Wrap(err, "read column types")
	}

	var schema feature.Schema
	attrIdx := make([]int, 0, len(cols))
	geomIdx := -1
	for i, name := range cols {
		if strings.EqualFold(name, geomCol) {
			geomIdx = i
			continue
		}
		if strings.EqualFold(name, "id") || strings.EqualFold(name, "fid") {
			continue // surrogate key, not an attribute
		}
		schema = append(schema, feature.Field{Name: name, Type: sqliteFieldType(colTypes[i].DatabaseTypeName())})
		attrIdx = append(attrIdx, i)
	}
	if geomIdx < 0 {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "geometry column %q missing from table", geomCol)
	}

	var features []*feature.Feature
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errors.Wrapf(errors.ErrMalformedData, "scan feature row: %v", err)
		}

		var geom orb.Geometry
		if blob, ok := values[geomIdx].([]byte); ok && len(blob) > 0 {
			geom, err = decodeGPKGBlob(blob)
			if err != nil {
				return nil, nil, errors.AtFeature(err, len(features))
			}
		}

		attrs := make(map[string]any, len(schema))
		for j, fld := range schema {
			attrs[fld.Name] = fromSQLiteValue(values[attrIdx[j]], fld.Type)
		}
		features = append(features, &feature.Feature{Geometry: geom, Attrs: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrapf(errors.ErrMalformedData, "iterate feature rows: %v", err)
	}
	return feature.NewCollection(schema, features), meta, nil
}

func (*gpkgCodec) Write(path string, col *feature.Collection, meta *Metadata, _ Encoding) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return errors.Wrap(err, "create geopackage")
	}
	defer db.Close()

	srsID := 4326
	layer := "features"
	definition := "undefined"
	if meta != nil {
		if meta.EPSG != 0 {
			srsID = meta.EPSG
		}
		if meta.LayerName != "" {
			layer = meta.LayerName
		}
		if meta.SidecarWKT != "" {
			definition = meta.SidecarWKT
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID)); err != nil {
		return errors.Wrap(err, "set application id")
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion)); err != nil {
		return errors.Wrap(err, "set user version")
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin geopackage transaction")
	}
	defer tx.Rollback()

	if err := createGPKGSchema(tx, layer, col, srsID, definition); err != nil {
		return err
	}
	if err := insertGPKGFeatures(tx, layer, col, srsID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit geopackage")
	}
	return nil
}

func createGPKGSchema(tx *sql.Tx, layer string, col *feature.Collection, srsID int, definition string) error {
	ddl := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Wrap(err, "create geopackage metadata tables")
		}
	}

	// Mandatory srs rows plus the dataset's own system
	srsRows := [][]any{
		{"Undefined cartesian SRS", -1, "NONE", -1, "undefined", nil},
		{"Undefined geographic SRS", 0, "NONE", 0, "undefined", nil},
	}
	if srsID != -1 && srsID != 0 {
		srsRows = append(srsRows, []any{fmt.Sprintf("EPSG:%d", srsID), srsID, "EPSG", srsID, definition, nil})
	}
	for _, row := range srsRows {
		if _, err := tx.Exec(
			`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, ?, ?)`, row...); err != nil {
			return errors.Wrap(err, "insert spatial ref")
		}
	}

	columns := []string{`id INTEGER PRIMARY KEY AUTOINCREMENT`, `geom BLOB`}
	for _, fld := range col.Schema {
		columns = append(columns, quoteIdent(fld.Name)+" "+sqliteTypeFor(fld.Type))
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(layer), strings.Join(columns, ", "))
	if _, err := tx.Exec(create); err != nil {
		return errors.Wrap(err, "create feature table")
	}

	var minX, minY, maxX, maxY any
	if b, ok := col.Bound(); ok {
		minX, minY, maxX, maxY = b.Min[0], b.Min[1], b.Max[0], b.Max[1]
	}
	if _, err := tx.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		layer, layer, minX, minY, maxX, maxY, srsID); err != nil {
		return errors.Wrap(err, "register feature table")
	}
	if _, err := tx.Exec(
		`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', ?, ?, 0, 0)`,
		layer, gpkgGeometryTypeName(col.Kind), srsID); err != nil {
		return errors.Wrap(err, "register geometry column")
	}
	return nil
}

func insertGPKGFeatures(tx *sql.Tx, layer string, col *feature.Collection, srsID int) error {
	cols := []string{"geom"}
	for _, fld := range col.Schema {
		cols = append(cols, quoteIdent(fld.Name))
	}
	placeholders := strings.TrimRight(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)", quoteIdent(layer), strings.Join(cols, ", "), placeholders))
	if err != nil {
		return errors.Wrap(err, "prepare feature insert")
	}
	defer stmt.Close()

	for i, f := range col.Features {
		args := make([]any, 0, len(cols))
		var blob any
		if f.Geometry != nil {
			encoded, err := encodeGPKGBlob(f.Geometry, srsID)
			if err != nil {
				return errors.AtFeature(err, i)
			}
			blob = encoded
		}
		args = append(args, blob)
		for _, fld := range col.Schema {
			args = append(args, toSQLiteValue(f.Attrs[fld.Name]))
		}
		if _, err := stmt.Exec(args...); err != nil {
			return errors.AtFeature(errors.Wrap(err, "insert feature"), i)
		}
	}
	return nil
}

// encodeGPKGBlob wraps WKB in the GeoPackage binary header with an XY
// envelope.
func encodeGPKGBlob(g orb.Geometry, srsID int) ([]byte, error) {
	payload, err := wkb.Marshal(g)
	if err != nil {
		return nil, errors.Wrap(err, "encode wkb")
	}
	b := g.Bound()

	head := make([]byte, 8+32)
	head[0] = gpkgMagic1
	head[1] = gpkgMagic2
	head[2] = 0 // version
	head[3] = gpkgFlagsXYEnvelope
	binary.LittleEndian.PutUint32(head[4:8], uint32(int32(srsID)))
	for i, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
		binary.LittleEndian.PutUint64(head[8+i*8:16+i*8], math.Float64bits(v))
	}
	return append(head, payload...), nil
}

func decodeGPKGBlob(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != gpkgMagic1 || blob[1] != gpkgMagic2 {
		return nil, errors.Wrapf(errors.ErrMalformedData, "geometry blob lacks GP header")
	}
	flags := blob[3]
	envelope := int(flags>>1) & 0x7
	var envLen int
	switch envelope {
	case 0:
		envLen = 0
	case 1:
		envLen = 32
	case 2, 3:
		envLen = 48
	case 4:
		envLen = 64
	default:
		return nil, errors.Wrapf(errors.ErrMalformedData, "invalid envelope indicator %d", envelope)
	}
	offset := 8 + envLen
	if len(blob) < offset {
		return nil, errors.Wrapf(errors.ErrMalformedData, "geometry blob truncated")
	}
	g, err := wkb.Unmarshal(blob[offset:])
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedData, "decode wkb: %v", err)
	}
	return g, nil
}

func gpkgGeometryTypeName(kind feature.GeometryKind) string {
	switch kind {
	case feature.KindPoint:
		return "POINT"
	case feature.KindLine:
		return "LINESTRING"
	case feature.KindPolygon:
		return "POLYGON"
	default:
		return "GEOMETRY"
	}
}

func sqliteTypeFor(t feature.FieldType) string {
	switch t {
	case feature.TypeInteger:
		return "INTEGER"
	case feature.TypeFloat:
		return "REAL"
	case feature.TypeBool:
		return "BOOLEAN"
	case feature.TypeTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func sqliteFieldType(declared string) feature.FieldType {
	switch strings.ToUpper(declared) {
	case "INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT":
		return feature.TypeInteger
	case "REAL", "DOUBLE", "FLOAT":
		return feature.TypeFloat
	case "BOOLEAN":
		return feature.TypeBool
	case "DATETIME", "DATE", "TIMESTAMP":
		return feature.TypeTime
	default:
		return feature.TypeString
	}
}

func toSQLiteValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case bool:
		if val {
			return 1
		}
		return 0
	default:
		return v
	}
}

func fromSQLiteValue(v any, t feature.FieldType) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return fromSQLiteValue(decodeText(val), t)
	case string:
		if t == feature.TypeTime {
			if ts, err := time.Parse(time.RFC3339, val); err == nil {
				return ts
			}
		}
		return val
	case int64:
		if t == feature.TypeBool {
			return val != 0
		}
		return val
	case float64:
		return val
	case time.Time:
		return val
	case bool:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
