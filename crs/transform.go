package crs

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/cascadegis/geoconv/errors"
)

// Projection math. Forward/inverse closed forms for the supported projected
// systems: spherical Web Mercator, ellipsoidal Transverse Mercator and
// Lambert Conformal Conic (2SP). Series terms follow Snyder, Map
// Projections: A Working Manual (USGS PP 1395). All systems pivot through
// geographic lon/lat in degrees; datum grid shifts are out of scope.

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi

	// Web Mercator latitude cutoff: tan() blows up approaching the poles
	webMercatorMaxLat = 85.051129
)

type ellipsoid struct {
	a  float64 // semi-major axis (m)
	f  float64 // flattening
	e2 float64 // first eccentricity squared
	e  float64
}

func newEllipsoid(a, invF float64) ellipsoid {
	f := 1 / invF
	e2 := f * (2 - f)
	return ellipsoid{a: a, f: f, e2: e2, e: math.Sqrt(e2)}
}

var ellipsoids = map[string]ellipsoid{
	"WGS84":    newEllipsoid(6378137, 298.257223563),
	"GRS80":    newEllipsoid(6378137, 298.257222101),
	"Airy1830": newEllipsoid(6377563.396, 299.3249646),
}

// projection converts between geographic degrees and projected CRS units
type projection interface {
	forward(lon, lat float64) (x, y float64, err error)
	inverse(x, y float64) (lon, lat float64, err error)
}

// geographic is the identity projection with a domain check
type geographic struct{}

func (geographic) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > 90 || math.IsNaN(lon) || math.IsNaN(lat) {
		return 0, 0, errors.Newf("coordinate (%g, %g) outside geographic domain", lon, lat)
	}
	return lon, lat, nil
}

func (geographic) inverse(x, y float64) (float64, float64, error) {
	if math.Abs(y) > 90 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, errors.Newf("coordinate (%g, %g) outside geographic domain", x, y)
	}
	return x, y, nil
}

// webMercator is the spherical EPSG:3857 projection
type webMercator struct {
	r float64
}

func (p webMercator) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > webMercatorMaxLat {
		return 0, 0, errors.Newf("latitude %g beyond Web Mercator cutoff", lat)
	}
	x := p.r * lon * deg2rad
	y := p.r * math.Log(math.Tan(math.Pi/4+lat*deg2rad/2))
	return x, y, nil
}

func (p webMercator) inverse(x, y float64) (float64, float64, error) {
	lon := x / p.r * rad2deg
	lat := (2*math.Atan(math.Exp(y/p.r)) - math.Pi/2) * rad2deg
	if math.Abs(lon) > 180.000001 || math.IsNaN(lat) {
		return 0, 0, errors.Newf("point (%g, %g) outside Web Mercator domain", x, y)
	}
	return lon, lat, nil
}

// meridionalArc is Snyder eq. 3-21: distance along the meridian from the
// equator to latitude phi.
func meridionalArc(el ellipsoid, phi float64) float64 {
	e2 := el.e2
	e4 := e2 * e2
	e6 := e4 * e2
	return el.a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// transverseMercator is the ellipsoidal TM projection (UTM zones, OSGB)
type transverseMercator struct {
	el   ellipsoid
	lat0 float64 // radians
	lon0 float64 // radians
	k0   float64
	fe   float64
	fn   float64
	m0   float64 // meridional arc at lat0
	ep2  float64 // second eccentricity squared
}

func newTransverseMercator(el ellipsoid, p Params) *transverseMercator {
	tm := &transverseMercator{
		el:   el,
		lat0: p.LatOrigin * deg2rad,
		lon0: p.LonOrigin * deg2rad,
		k0:   p.Scale,
		fe:   p.FalseEasting,
		fn:   p.FalseNorthing,
		ep2:  el.e2 / (1 - el.e2),
	}
	tm.m0 = meridionalArc(el, tm.lat0)
	return tm
}

func (p *transverseMercator) forward(lon, lat float64) (float64, float64, error) {
	phi := lat * deg2rad
	dlam := lon*deg2rad - p.lon0
	// The series diverges far from the central meridian
	if math.Abs(lat) > 90 || math.Abs(dlam) > 20*deg2rad {
		return 0, 0, errors.Newf("coordinate (%g, %g) outside transverse mercator domain", lon, lat)
	}

	sinPhi, cosPhi := math.Sincos(phi)
	e2 := p.el.e2
	n := p.el.a / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := math.Tan(phi) * math.Tan(phi)
	c := p.ep2 * cosPhi * cosPhi
	a := cosPhi * dlam
	m := meridionalArc(p.el, phi)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x := p.fe + p.k0*n*(a+(1-t+c)*a3/6+
		(5-18*t+t*t+72*c-58*p.ep2)*a5/120)
	y := p.fn + p.k0*(m-p.m0+n*math.Tan(phi)*(a2/2+
		(5-t+9*c+4*c*c)*a4/24+
		(61-58*t+t*t+600*c-330*p.ep2)*a6/720))
	return x, y, nil
}

func (p *transverseMercator) inverse(x, y float64) (float64, float64, error) {
	e2 := p.el.e2
	e4 := e2 * e2
	e6 := e4 * e2

	m := p.m0 + (y-p.fn)/p.k0
	mu := m / (p.el.a * (1 - e2/4 - 3*e4/64 - 5*e6/256))

	se := math.Sqrt(1 - e2)
	e1 := (1 - se) / (1 + se)
	e12 := e1 * e1
	e13 := e12 * e1
	e14 := e13 * e1

	phi1 := mu + (3*e1/2-27*e13/32)*math.Sin(2*mu) +
		(21*e12/16-55*e14/32)*math.Sin(4*mu) +
		(151*e13/96)*math.Sin(6*mu) +
		(1097*e14/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	if math.Abs(cosPhi1) < 1e-12 {
		return 0, 0, errors.Newf("point (%g, %g) inverse-projects onto a pole", x, y)
	}

	c1 := p.ep2 * cosPhi1 * cosPhi1
	t1 := math.Tan(phi1) * math.Tan(phi1)
	n1 := p.el.a / math.Sqrt(1-e2*sinPhi1*sinPhi1)
	r1 := p.el.a * (1 - e2) / math.Pow(1-e2*sinPhi1*sinPhi1, 1.5)
	d := (x - p.fe) / (n1 * p.k0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	phi := phi1 - (n1*math.Tan(phi1)/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*p.ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*p.ep2-3*c1*c1)*d6/720)
	lam := p.lon0 + (d-(1+2*t1+c1)*d3/6+
		(5-2*c1+28*t1-3*c1*c1+8*p.ep2+24*t1*t1)*d5/120)/cosPhi1

	lon := lam * rad2deg
	lat := phi * rad2deg
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lat) > 90 {
		return 0, 0, errors.Newf("point (%g, %g) outside transverse mercator domain", x, y)
	}
	return lon, lat, nil
}

// lambertConformalConic is the 2SP LCC projection (Lambert-93)
type lambertConformalConic struct {
	el   ellipsoid
	lon0 float64
	fe   float64
	fn   float64
	n    float64
	f    float64
	rho0 float64
}

func newLambertConformalConic(el ellipsoid, p Params) *lambertConformalConic {
	phi0 := p.LatOrigin * deg2rad
	phi1 := p.SP1 * deg2rad
	phi2 := p.SP2 * deg2rad

	m := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Cos(phi) / math.Sqrt(1-el.e2*s*s)
	}
	t := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Tan(math.Pi/4-phi/2) /
			math.Pow((1-el.e*s)/(1+el.e*s), el.e/2)
	}

	m1, m2 := m(phi1), m(phi2)
	t0, t1, t2 := t(phi0), t(phi1), t(phi2)

	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	f := m1 / (n * math.Pow(t1, n))

	return &lambertConformalConic{
		el:   el,
		lon0: p.LonOrigin * deg2rad,
		fe:   p.FalseEasting,
		fn:   p.FalseNorthing,
		n:    n,
		f:    f,
		rho0: el.a * f * math.Pow(t0, n),
	}
}

func (p *lambertConformalConic) tOf(phi float64) float64 {
	s := math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) /
		math.Pow((1-p.el.e*s)/(1+p.el.e*s), p.el.e/2)
}

func (p *lambertConformalConic) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) >= 90 {
		return 0, 0, errors.Newf("latitude %g undefined in conic projection", lat)
	}
	phi := lat * deg2rad
	theta := p.n * (lon*deg2rad - p.lon0)
	rho := p.el.a * p.f * math.Pow(p.tOf(phi), p.n)

	x := p.fe + rho*math.Sin(theta)
	y := p.fn + p.rho0 - rho*math.Cos(theta)
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, errors.Newf("coordinate (%g, %g) outside conic domain", lon, lat)
	}
	return x, y, nil
}

func (p *lambertConformalConic) inverse(x, y float64) (float64, float64, error) {
	dx := x - p.fe
	dy := p.rho0 - (y - p.fn)

	rho := math.Sqrt(dx*dx + dy*dy)
	if p.n < 0 {
		rho = -rho
	}
	if rho == 0 {
		return 0, 0, errors.Newf("point (%g, %g) maps to the projection apex", x, y)
	}
	theta := math.Atan2(dx, dy)
	t := math.Pow(rho/(p.el.a*p.f), 1/p.n)

	// Iterate Snyder eq. 7-9 for phi; converges in a handful of rounds
	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		s := math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-p.el.e*s)/(1+p.el.e*s), p.el.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	lon := (theta/p.n + p.lon0) * rad2deg
	lat := phi * rad2deg
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lat) > 90 {
		return 0, 0, errors.Newf("point (%g, %g) outside conic domain", x, y)
	}
	return lon, lat, nil
}

func projectionFor(d *Def) (projection, error) {
	el, ok := ellipsoids[d.Ellipsoid]
	if !ok {
		return nil, errors.Newf("EPSG:%d references unknown ellipsoid %q", d.EPSG, d.Ellipsoid)
	}
	switch d.Projection {
	case "none":
		return geographic{}, nil
	case "webmercator":
		return webMercator{r: el.a}, nil
	case "tm":
		return newTransverseMercator(el, d.Params), nil
	case "lcc":
		return newLambertConformalConic(el, d.Params), nil
	default:
		return nil, errors.Newf("EPSG:%d references unknown projection %q", d.EPSG, d.Projection)
	}
}

// Transform converts coordinates from one registered CRS to another through
// a geographic pivot.
type Transform struct {
	Source *Def
	Target *Def
	src    projection
	dst    projection
}

// NewTransform builds a transform between two registered EPSG codes
func NewTransform(sourceEPSG, targetEPSG int) (*Transform, error) {
	src, ok := Lookup(sourceEPSG)
	if !ok {
		return nil, errors.Newf("EPSG:%d is not in the CRS registry", sourceEPSG)
	}
	dst, ok := Lookup(targetEPSG)
	if !ok {
		return nil, errors.Newf("EPSG:%d is not in the CRS registry", targetEPSG)
	}
	sp, err := projectionFor(src)
	if err != nil {
		return nil, err
	}
	dp, err := projectionFor(dst)
	if err != nil {
		return nil, err
	}
	return &Transform{Source: src, Target: dst, src: sp, dst: dp}, nil
}

// IsIdentity reports whether the transform would leave coordinates unchanged
func (t *Transform) IsIdentity() bool {
	return t.Source.EPSG == t.Target.EPSG
}

// Point transforms a single coordinate pair
func (t *Transform) Point(p orb.Point) (orb.Point, error) {
	if t.IsIdentity() {
		return p, nil
	}
	lon, lat, err := t.src.inverse(p[0], p[1])
	if err != nil {
		return orb.Point{}, errors.Wrap(errors.ErrProjectionTransform, err.Error())
	}
	x, y, err := t.dst.forward(lon, lat)
	if err != nil {
		return orb.Point{}, errors.Wrap(errors.ErrProjectionTransform, err.Error())
	}
	return orb.Point{x, y}, nil
}
