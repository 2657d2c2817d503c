package crs

import (
	"github.com/paulmach/orb"

	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
)

// ReprojectCollection transforms every coordinate of the collection in
// place. The collection is exclusively owned by the calling stage, so
// in-place mutation is safe. A transform failure reports the offending
// feature index.
func ReprojectCollection(col *feature.Collection, tr *Transform) error {
	if tr.IsIdentity() {
		return nil
	}
	for i, f := range col.Features {
		if f.Geometry == nil {
			continue
		}
		g, err := reprojectGeometry(f.Geometry, tr)
		if err != nil {
			return errors.AtFeature(err, i)
		}
		f.Geometry = g
	}
	return nil
}

func reprojectGeometry(g orb.Geometry, tr *Transform) (orb.Geometry, error) {
	switch geom := g.(type) {
	case orb.Point:
		return tr.Point(geom)
	case orb.MultiPoint:
		for i := range geom {
			p, err := tr.Point(geom[i])
			if err != nil {
				return nil, err
			}
			geom[i] = p
		}
		return geom, nil
	case orb.LineString:
		if err := reprojectLine(geom, tr); err != nil {
			return nil, err
		}
		return geom, nil
	case orb.MultiLineString:
		for _, ls := range geom {
			if err := reprojectLine(ls, tr); err != nil {
				return nil, err
			}
		}
		return geom, nil
	case orb.Ring:
		if err := reprojectLine(orb.LineString(geom), tr); err != nil {
			return nil, err
		}
		return geom, nil
	case orb.Polygon:
		if err := reprojectPolygon(geom, tr); err != nil {
			return nil, err
		}
		return geom, nil
	case orb.MultiPolygon:
		for _, poly := range geom {
			if err := reprojectPolygon(poly, tr); err != nil {
				return nil, err
			}
		}
		return geom, nil
	case orb.Collection:
		for i := range geom {
			sub, err := reprojectGeometry(geom[i], tr)
			if err != nil {
				return nil, err
			}
			geom[i] = sub
		}
		return geom, nil
	default:
		return nil, errors.Wrapf(errors.ErrProjectionTransform, "unhandled geometry type %T", g)
	}
}

func reprojectLine(ls orb.LineString, tr *Transform) error {
	for i := range ls {
		p, err := tr.Point(ls[i])
		if err != nil {
			return err
		}
		ls[i] = p
	}
	return nil
}

func reprojectPolygon(poly orb.Polygon, tr *Transform) error {
	for _, ring := range poly {
		for i := range ring {
			p, err := tr.Point(ring[i])
			if err != nil {
				return err
			}
			ring[i] = p
		}
	}
	return nil
}
