package clean

import (
	"math"

	"github.com/paulmach/orb"
)

// Topological validity predicate and a total repair transform.
//
// Repair is deterministic and total: it always returns some geometry
// (possibly nil, meaning empty), never changes the declared geometry kind,
// and never adds coordinate dimensions. Its fixed point is the validity
// predicate: Repair(g) is valid whenever it is non-nil, so a second pass is
// a no-op.

// IsValid reports whether g satisfies the standard well-formedness rules:
// finite coordinates, line strings with at least two distinct points,
// closed rings of at least four points with non-zero area and no
// self-intersection.
func IsValid(g orb.Geometry) bool {
	return validate(g) == ""
}

// Invalidity returns a short reason when g is invalid, or ""
func Invalidity(g orb.Geometry) string {
	return validate(g)
}

func validate(g orb.Geometry) string {
	switch geom := g.(type) {
	case orb.Point:
		if !finite(geom) {
			return "non-finite coordinate"
		}
	case orb.MultiPoint:
		if len(geom) == 0 {
			return "empty multipoint"
		}
		for _, p := range geom {
			if !finite(p) {
				return "non-finite coordinate"
			}
		}
	case orb.LineString:
		return validateLine(geom)
	case orb.MultiLineString:
		if len(geom) == 0 {
			return "empty multilinestring"
		}
		for _, ls := range geom {
			if reason := validateLine(ls); reason != "" {
				return reason
			}
		}
	case orb.Ring:
		return validateRing(geom)
	case orb.Polygon:
		return validatePolygon(geom)
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return "empty multipolygon"
		}
		for _, poly := range geom {
			if reason := validatePolygon(poly); reason != "" {
				return reason
			}
		}
	case orb.Collection:
		if len(geom) == 0 {
			return "empty collection"
		}
		for _, sub := range geom {
			if reason := validate(sub); reason != "" {
				return reason
			}
		}
	default:
		return "unhandled geometry type"
	}
	return ""
}

func validateLine(ls orb.LineString) string {
	if len(ls) < 2 {
		return "line with fewer than two points"
	}
	distinct := false
	for i, p := range ls {
		if !finite(p) {
			return "non-finite coordinate"
		}
		if i > 0 && p != ls[0] {
			distinct = true
		}
	}
	if !distinct {
		return "degenerate line (all points coincident)"
	}
	return ""
}

func validateRing(r orb.Ring) string {
	if len(r) < 4 {
		return "ring with fewer than four points"
	}
	for _, p := range r {
		if !finite(p) {
			return "non-finite coordinate"
		}
	}
	if r[0] != r[len(r)-1] {
		return "unclosed ring"
	}
	if math.Abs(ringArea(r)) < 1e-12 {
		return "zero-area ring"
	}
	if _, _, _, found := ringSelfIntersection(r); found {
		return "self-intersecting ring"
	}
	return ""
}

func validatePolygon(poly orb.Polygon) string {
	if len(poly) == 0 {
		return "polygon without rings"
	}
	for _, ring := range poly {
		if reason := validateRing(ring); reason != "" {
			return reason
		}
	}
	return ""
}

// Repair returns a valid geometry of the same kind, or nil when nothing
// salvageable remains.
func Repair(g orb.Geometry) orb.Geometry {
	switch geom := g.(type) {
	case orb.Point:
		if !finite(geom) {
			return nil
		}
		return geom
	case orb.MultiPoint:
		out := make(orb.MultiPoint, 0, len(geom))
		for _, p := range geom {
			if finite(p) {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.LineString:
		if fixed := repairLine(geom); fixed != nil {
			return fixed
		}
		return nil
	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(geom))
		for _, ls := range geom {
			if fixed := repairLine(ls); fixed != nil {
				out = append(out, fixed)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Ring:
		if fixed := repairRing(geom, 0); fixed != nil {
			return fixed
		}
		return nil
	case orb.Polygon:
		if fixed := repairPolygon(geom); fixed != nil {
			return fixed
		}
		return nil
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(geom))
		for _, poly := range geom {
			if fixed := repairPolygon(poly); fixed != nil {
				out = append(out, fixed)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, 0, len(geom))
		for _, sub := range geom {
			if fixed := Repair(sub); fixed != nil {
				out = append(out, fixed)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

func repairLine(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, 0, len(ls))
	for _, p := range ls {
		if !finite(p) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	if validateLine(out) != "" {
		return nil
	}
	return out
}

func repairPolygon(poly orb.Polygon) orb.Polygon {
	if len(poly) == 0 {
		return nil
	}
	shell := repairRing(poly[0], 0)
	if shell == nil {
		return nil
	}
	out := orb.Polygon{shell}
	for _, hole := range poly[1:] {
		if fixed := repairRing(hole, 0); fixed != nil {
			out = append(out, fixed)
		}
	}
	return out
}

const maxRingSplitDepth = 12

// repairRing makes a ring simple: drop non-finite and consecutive duplicate
// points, close it, and untwist self-intersections by splitting at the
// crossing point and keeping the sub-loop with the largest area. Returns nil
// when nothing with area remains.
func repairRing(r orb.Ring, depth int) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if !finite(p) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	if len(out) >= 2 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil
	}
	out = append(out, out[0])
	if math.Abs(ringArea(out)) < 1e-12 {
		return nil
	}

	i, j, x, found := ringSelfIntersection(out)
	if !found {
		return out
	}
	if depth >= maxRingSplitDepth {
		return nil
	}

	// Split the bowtie at the crossing: one loop takes the vertices between
	// the crossing segments, the other takes the remainder.
	loopA := make(orb.Ring, 0, j-i+2)
	loopA = append(loopA, x)
	loopA = append(loopA, out[i+1:j+1]...)
	loopA = append(loopA, x)

	loopB := make(orb.Ring, 0, len(out)-(j-i)+2)
	loopB = append(loopB, out[:i+1]...)
	loopB = append(loopB, x)
	loopB = append(loopB, out[j+1:]...)

	fixedA := repairRing(loopA, depth+1)
	fixedB := repairRing(loopB, depth+1)

	switch {
	case fixedA == nil:
		return fixedB
	case fixedB == nil:
		return fixedA
	case math.Abs(ringArea(fixedA)) >= math.Abs(ringArea(fixedB)):
		return fixedA
	default:
		return fixedB
	}
}

// ringArea is the signed shoelace area of a closed ring
func ringArea(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < len(r)-1; i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum / 2
}

// ringSelfIntersection finds the first pair of non-adjacent segments that
// cross, returning their indices and the crossing point.
func ringSelfIntersection(r orb.Ring) (int, int, orb.Point, bool) {
	n := len(r) - 1 // segment count; r is closed
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue // first and last segments share the closing vertex
			}
			if x, ok := segmentIntersection(r[i], r[i+1], r[j], r[j+1]); ok {
				return i, j, x, true
			}
		}
	}
	return 0, 0, orb.Point{}, false
}

// segmentIntersection returns the crossing point of two segments when they
// properly intersect or touch away from shared endpoints.
func segmentIntersection(a1, a2, b1, b2 orb.Point) (orb.Point, bool) {
	d1x, d1y := a2[0]-a1[0], a2[1]-a1[1]
	d2x, d2y := b2[0]-b1[0], b2[1]-b1[1]
	denom := d1x*d2y - d1y*d2x

	if math.Abs(denom) < 1e-16 {
		// Parallel: report collinear overlap at an interior endpoint
		if onSegment(a1, a2, b1) && b1 != a1 && b1 != a2 {
			return b1, true
		}
		if onSegment(a1, a2, b2) && b2 != a1 && b2 != a2 {
			return b2, true
		}
		return orb.Point{}, false
	}

	t := ((b1[0]-a1[0])*d2y - (b1[1]-a1[1])*d2x) / denom
	u := ((b1[0]-a1[0])*d1y - (b1[1]-a1[1])*d1x) / denom

	const eps = 1e-12
	if t < -eps || t > 1+eps || u < -eps || u > 1+eps {
		return orb.Point{}, false
	}
	// Touching exactly at segment endpoints is not a crossing
	if (t < eps || t > 1-eps) && (u < eps || u > 1-eps) {
		return orb.Point{}, false
	}

	return orb.Point{a1[0] + t*d1x, a1[1] + t*d1y}, true
}

func onSegment(a, b, p orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if math.Abs(cross) > 1e-12 {
		return false
	}
	return p[0] >= math.Min(a[0], b[0])-1e-12 && p[0] <= math.Max(a[0], b[0])+1e-12 &&
		p[1] >= math.Min(a[1], b[1])-1e-12 && p[1] <= math.Max(a[1], b[1])+1e-12
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) &&
		!math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}
