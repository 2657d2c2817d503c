package format

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

// ESRI shapefile constants
const (
	shpFileCode  = 9994
	shpVersion   = 1000
	shpHeaderLen = 100

	shpNull       = 0
	shpPoint      = 1
	shpPolyline   = 3
	shpPolygon    = 5
	shpMultiPoint = 8
)

type shapefileCodec struct{}

func (*shapefileCodec) Format() Format { return Shapefile }

func (*shapefileCodec) Capabilities() Capabilities {
	// One shape type per layer and dBASE 10-character field names
	return Capabilities{FieldNameLimit: dbfMaxNameLen, MixedGeometry: false, TimeValues: true}
}

func (*shapefileCodec) Read(path string) (*feature.Collection, *Metadata, error) {
	shpPath := path
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "geoconv-shp-")
		if err != nil {
			return nil, nil, errors.Wrap(err, "create unpack directory")
		}
		defer os.RemoveAll(dir)
		if err := ExtractArchive(path, dir, 0); err != nil {
			return nil, nil, err
		}
		found, ok := FindByExtension(dir, ".shp")
		if !ok {
			return nil, nil, errors.Wrapf(errors.ErrCorruptArchive, "archive holds no .shp member")
		}
		shpPath = found
	}
	return readShapefileSet(shpPath)
}

func readShapefileSet(shpPath string) (*feature.Collection, *Metadata, error) {
	geoms, err := readSHP(shpPath)
	if err != nil {
		return nil, nil, err
	}

	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	meta := &Metadata{LayerName: filepath.Base(base)}
	if wkt, err := os.ReadFile(base + ".prj"); err == nil {
		meta.SidecarWKT = strings.TrimSpace(string(wkt))
	}

	var schema feature.Schema
	var records []map[string]any
	if _, err := os.Stat(base + ".dbf"); err == nil {
		schema, records, err = readDBF(base + ".dbf")
		if err != nil {
			return nil, nil, err
		}
	}

	features := make([]*feature.Feature, len(geoms))
	for i, g := range geoms {
		attrs := map[string]any{}
		if i < len(records) {
			attrs = records[i]
		}
		features[i] = &feature.Feature{Geometry: g, Attrs: attrs}
	}
	return feature.NewCollection(schema, features), meta, nil
}

func readSHP(path string) ([]orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read shp")
	}
	if len(data) < shpHeaderLen {
		return nil, errors.Wrapf(errors.ErrMalformedData, "shp header truncated")
	}
	if binary.BigEndian.Uint32(data[0:4]) != shpFileCode {
		return nil, errors.Wrapf(errors.ErrMalformedData, "shp file code mismatch")
	}

	var geoms []orb.Geometry
	off := shpHeaderLen
	for off+8 <= len(data) {
		contentWords := int(binary.BigEndian.Uint32(data[off+4 : off+8]))
		start := off + 8
		end := start + contentWords*2
		if end > len(data) {
			return nil, errors.Wrapf(errors.ErrMalformedData, "shp record %d truncated", len(geoms)+1)
		}

		g, err := parseShapeRecord(data[start:end])
		if err != nil {
			return nil, errors.AtFeature(err, len(geoms))
		}
		geoms = append(geoms, g)
		off = end
	}
	return geoms, nil
}

func parseShapeRecord(rec []byte) (orb.Geometry, error) {
	if len(rec) < 4 {
		return nil, errors.Wrapf(errors.ErrMalformedData, "shape record too short")
	}
	shapeType := int(binary.LittleEndian.Uint32(rec[0:4]))
	body := rec[4:]

	switch shapeType {
	case shpNull:
		return nil, nil
	case shpPoint:
		if len(body) < 16 {
			return nil, errors.Wrapf(errors.ErrMalformedData, "point record truncated")
		}
		return orb.Point{readFloat(body, 0), readFloat(body, 8)}, nil
	case shpMultiPoint:
		if len(body) < 36 {
			return nil, errors.Wrapf(errors.ErrMalformedData, "multipoint record truncated")
		}
		n := int(binary.LittleEndian.Uint32(body[32:36]))
		pts, err := readPoints(body[36:], n)
		if err != nil {
			return nil, err
		}
		return orb.MultiPoint(pts), nil
	case shpPolyline:
		parts, err := readParts(body)
		if err != nil {
			return nil, err
		}
		if len(parts) == 1 {
			return orb.LineString(parts[0]), nil
		}
		mls := make(orb.MultiLineString, len(parts))
		for i, p := range parts {
			mls[i] = orb.LineString(p)
		}
		return mls, nil
	case shpPolygon:
		parts, err := readParts(body)
		if err != nil {
			return nil, err
		}
		rings := make([]orb.Ring, len(parts))
		for i, p := range parts {
			rings[i] = orb.Ring(p)
		}
		return assemblePolygons(rings), nil
	default:
		return nil, errors.Wrapf(errors.ErrMalformedData, "unsupported shape type %d", shapeType)
	}
}

// readParts decodes the bbox/numParts/numPoints/parts/points layout shared
// by polyline and polygon records.
func readParts(body []byte) ([][]orb.Point, error) {
	if len(body) < 40 {
		return nil, errors.Wrapf(errors.ErrMalformedData, "record truncated")
	}
	numParts := int(binary.LittleEndian.Uint32(body[32:36]))
	numPoints := int(binary.LittleEndian.Uint32(body[36:40]))
	indexEnd := 40 + numParts*4
	if numParts <= 0 || indexEnd > len(body) {
		return nil, errors.Wrapf(errors.ErrMalformedData, "part index out of range")
	}

	starts := make([]int, numParts)
	for i := 0; i < numParts; i++ {
		starts[i] = int(binary.LittleEndian.Uint32(body[40+i*4 : 44+i*4]))
	}
	pts, err := readPoints(body[indexEnd:], numPoints)
	if err != nil {
		return nil, err
	}

	parts := make([][]orb.Point, numParts)
	for i := range starts {
		end := numPoints
		if i+1 < numParts {
			end = starts[i+1]
		}
		if starts[i] < 0 || starts[i] > end || end > numPoints {
			return nil, errors.Wrapf(errors.ErrMalformedData, "part range out of order")
		}
		parts[i] = pts[starts[i]:end]
	}
	return parts, nil
}

func readPoints(body []byte, n int) ([]orb.Point, error) {
	if n < 0 || n*16 > len(body) {
		return nil, errors.Wrapf(errors.ErrMalformedData, "point array truncated")
	}
	pts := make([]orb.Point, n)
	for i := 0; i < n; i++ {
		pts[i] = orb.Point{readFloat(body, i*16), readFloat(body, i*16+8)}
	}
	return pts, nil
}

func readFloat(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
}

// assemblePolygons groups rings into polygons by winding: clockwise rings
// open a new shell, counter-clockwise rings are holes of the preceding
// shell.
func assemblePolygons(rings []orb.Ring) orb.Geometry {
	var polys []orb.Polygon
	for _, r := range rings {
		clockwise := shoelace(r) < 0
		if clockwise || len(polys) == 0 {
			polys = append(polys, orb.Polygon{r})
			continue
		}
		polys[len(polys)-1] = append(polys[len(polys)-1], r)
	}
	if len(polys) == 1 {
		return polys[0]
	}
	return orb.MultiPolygon(polys)
}

func (*shapefileCodec) Write(path string, col *feature.Collection, meta *Metadata, enc Encoding) error {
	dir, err := os.MkdirTemp("", "geoconv-shpw-")
	if err != nil {
		return errors.Wrap(err, "create staging directory")
	}
	defer os.RemoveAll(dir)

	layer := "layer"
	if meta != nil && meta.LayerName != "" {
		layer = meta.LayerName
	}
	base := filepath.Join(dir, layer)

	if err := writeSHP(base, col); err != nil {
		return err
	}
	if err := writeDBF(base+".dbf", col, enc); err != nil {
		return err
	}
	files := []string{base + ".shp", base + ".shx", base + ".dbf"}

	if meta != nil && meta.SidecarWKT != "" {
		if err := os.WriteFile(base+".prj", []byte(meta.SidecarWKT), 0o644); err != nil {
			return errors.Wrap(err, "write prj")
		}
		files = append(files, base+".prj")
	}
	cpg := "UTF-8"
	if enc == EncodingLatin1 {
		cpg = "ISO-8859-1"
	}
	if err := os.WriteFile(base+".cpg", []byte(cpg), 0o644); err != nil {
		return errors.Wrap(err, "write cpg")
	}
	files = append(files, base+".cpg")

	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return copyShapefileSet(files, filepath.Dir(path), strings.TrimSuffix(filepath.Base(path), ".shp"))
	}
	return buildArchive(path, files)
}

func copyShapefileSet(files []string, dir, stem string) error {
	for _, src := range files {
		data, err := os.ReadFile(src)
		if err != nil {
			return errors.Wrap(err, "stage shapefile member")
		}
		dst := filepath.Join(dir, stem+filepath.Ext(src))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errors.Wrap(err, "write shapefile member")
		}
	}
	return nil
}

func writeSHP(base string, col *feature.Collection) error {
	shapeType, err := shapeTypeFor(col.Kind)
	if err != nil {
		return err
	}
	if shapeType == shpPoint {
		for _, f := range col.Features {
			if _, ok := f.Geometry.(orb.MultiPoint); ok {
				shapeType = shpMultiPoint
				break
			}
		}
	}

	var records [][]byte
	for i, f := range col.Features {
		rec, err := encodeShapeRecord(f.Geometry, shapeType)
		if err != nil {
			return errors.AtFeature(err, i)
		}
		records = append(records, rec)
	}

	bbox := [4]float64{0, 0, 0, 0}
	if b, ok := col.Bound(); ok {
		bbox = [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}

	shpLen := shpHeaderLen
	for _, r := range records {
		shpLen += 8 + len(r)
	}
	shp := make([]byte, 0, shpLen)
	shp = append(shp, encodeSHPHeader(shpLen, shapeType, bbox)...)

	shxLen := shpHeaderLen + 8*len(records)
	shx := make([]byte, 0, shxLen)
	shx = append(shx, encodeSHPHeader(shxLen, shapeType, bbox)...)

	off := shpHeaderLen
	for i, rec := range records {
		head := make([]byte, 8)
		binary.BigEndian.PutUint32(head[0:4], uint32(i+1))
		binary.BigEndian.PutUint32(head[4:8], uint32(len(rec)/2))
		shp = append(shp, head...)
		shp = append(shp, rec...)

		idx := make([]byte, 8)
		binary.BigEndian.PutUint32(idx[0:4], uint32(off/2))
		binary.BigEndian.PutUint32(idx[4:8], uint32(len(rec)/2))
		shx = append(shx, idx...)
		off += 8 + len(rec)
	}

	if err := os.WriteFile(base+".shp", shp, 0o644); err != nil {
		return errors.Wrap(err, "write shp")
	}
	if err := os.WriteFile(base+".shx", shx, 0o644); err != nil {
		return errors.Wrap(err, "write shx")
	}
	return nil
}

func shapeTypeFor(kind feature.GeometryKind) (int, error) {
	switch kind {
	case feature.KindPoint:
		return shpPoint, nil
	case feature.KindLine:
		return shpPolyline, nil
	case feature.KindPolygon:
		return shpPolygon, nil
	case feature.KindUnknown:
		return shpNull, nil
	default:
		return 0, errors.Wrapf(errors.ErrWriteCapability,
			"shapefile cannot hold %s geometry in one layer", kind)
	}
}

func encodeSHPHeader(fileLen, shapeType int, bbox [4]float64) []byte {
	h := make([]byte, shpHeaderLen)
	binary.BigEndian.PutUint32(h[0:4], shpFileCode)
	binary.BigEndian.PutUint32(h[24:28], uint32(fileLen/2))
	binary.LittleEndian.PutUint32(h[28:32], shpVersion)
	binary.LittleEndian.PutUint32(h[32:36], uint32(shapeType))
	for i, v := range bbox {
		binary.LittleEndian.PutUint64(h[36+i*8:44+i*8], math.Float64bits(v))
	}
	return h
}

func encodeShapeRecord(g orb.Geometry, shapeType int) ([]byte, error) {
	if g == nil {
		rec := make([]byte, 4)
		binary.LittleEndian.PutUint32(rec, shpNull)
		return rec, nil
	}

	switch geom := g.(type) {
	case orb.Point:
		rec := make([]byte, 20)
		binary.LittleEndian.PutUint32(rec[0:4], shpPoint)
		putFloat(rec, 4, geom[0])
		putFloat(rec, 12, geom[1])
		return rec, nil
	case orb.MultiPoint:
		rec := make([]byte, 40+len(geom)*16)
		binary.LittleEndian.PutUint32(rec[0:4], shpMultiPoint)
		putBound(rec[4:36], geom.Bound())
		binary.LittleEndian.PutUint32(rec[36:40], uint32(len(geom)))
		for i, p := range geom {
			putFloat(rec, 40+i*16, p[0])
			putFloat(rec, 48+i*16, p[1])
		}
		return rec, nil
	case orb.LineString:
		return encodePartsRecord(shpPolyline, geom.Bound(), [][]orb.Point{geom}), nil
	case orb.MultiLineString:
		parts := make([][]orb.Point, len(geom))
		for i, ls := range geom {
			parts[i] = ls
		}
		return encodePartsRecord(shpPolyline, geom.Bound(), parts), nil
	case orb.Polygon:
		return encodePartsRecord(shpPolygon, geom.Bound(), polygonParts(geom)), nil
	case orb.MultiPolygon:
		var parts [][]orb.Point
		for _, poly := range geom {
			parts = append(parts, polygonParts(poly)...)
		}
		return encodePartsRecord(shpPolygon, geom.Bound(), parts), nil
	default:
		return nil, errors.Wrapf(errors.ErrWriteCapability,
			"shapefile cannot encode %T geometry", g)
	}
}

// polygonParts emits rings in shapefile winding: shells clockwise, holes
// counter-clockwise.
func polygonParts(poly orb.Polygon) [][]orb.Point {
	parts := make([][]orb.Point, len(poly))
	for i, ring := range poly {
		r := make(orb.Ring, len(ring))
		copy(r, ring)
		area := shoelace(r)
		shell := i == 0
		if (shell && area > 0) || (!shell && area < 0) {
			reverseRing(r)
		}
		parts[i] = r
	}
	return parts
}

func encodePartsRecord(shapeType int, bound orb.Bound, parts [][]orb.Point) []byte {
	numPoints := 0
	for _, p := range parts {
		numPoints += len(p)
	}
	rec := make([]byte, 44+len(parts)*4+numPoints*16)
	binary.LittleEndian.PutUint32(rec[0:4], uint32(shapeType))
	putBound(rec[4:36], bound)
	binary.LittleEndian.PutUint32(rec[36:40], uint32(len(parts)))
	binary.LittleEndian.PutUint32(rec[40:44], uint32(numPoints))

	idx := 0
	for i, p := range parts {
		binary.LittleEndian.PutUint32(rec[44+i*4:48+i*4], uint32(idx))
		idx += len(p)
	}
	off := 44 + len(parts)*4
	for _, p := range parts {
		for _, pt := range p {
			putFloat(rec, off, pt[0])
			putFloat(rec, off+8, pt[1])
			off += 16
		}
	}
	return rec
}

func putBound(dst []byte, b orb.Bound) {
	putFloat(dst, 0, b.Min[0])
	putFloat(dst, 8, b.Min[1])
	putFloat(dst, 16, b.Max[0])
	putFloat(dst, 24, b.Max[1])
}

func putFloat(dst []byte, off int, v float64) {
	binary.LittleEndian.PutUint64(dst[off:off+8], math.Float64bits(v))
}

func shoelace(r orb.Ring) float64 {
	sum := 0.0
	for i := 0; i < len(r)-1; i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum / 2
}

func reverseRing(r orb.Ring) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}
