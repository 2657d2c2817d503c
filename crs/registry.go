// Package crs identifies, detects, and transforms coordinate reference
// systems. The known-CRS set is data, not code: registry.yaml holds one
// entry per supported EPSG code with its projection parameters, approximate
// valid extent, and WKT.
package crs

import (
	_ "embed"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cascadegis/geoconv/errors"
)

//go:embed registry.yaml
var registryYAML []byte

// Params holds projection parameters for projected systems. Angles are in
// degrees, offsets in metres.
type Params struct {
	LatOrigin     float64 `yaml:"lat_origin"`
	LonOrigin     float64 `yaml:"lon_origin"`
	Scale         float64 `yaml:"scale"`
	SP1           float64 `yaml:"sp1"`
	SP2           float64 `yaml:"sp2"`
	FalseEasting  float64 `yaml:"false_easting"`
	FalseNorthing float64 `yaml:"false_northing"`
}

// Def is one registry entry
type Def struct {
	EPSG       int        `yaml:"epsg"`
	Name       string     `yaml:"name"`
	Kind       string     `yaml:"kind"`       // "geographic" or "projected"
	Projection string     `yaml:"projection"` // "none", "webmercator", "tm", "lcc"
	Ellipsoid  string     `yaml:"ellipsoid"`  // "WGS84", "GRS80", "Airy1830"
	Params     Params     `yaml:"params"`
	Bounds     [4]float64 `yaml:"bounds"` // minx, miny, maxx, maxy in CRS units
	WKT        string     `yaml:"wkt"`
}

// IsGeographic reports whether the CRS uses degree coordinates
func (d *Def) IsGeographic() bool {
	return d.Kind == "geographic"
}

var (
	registryOnce sync.Once
	registryMap  map[int]*Def
	registryErr  error
)

func loadRegistry() {
	var defs []*Def
	if err := yaml.Unmarshal(registryYAML, &defs); err != nil {
		registryErr = errors.Wrap(err, "failed to parse embedded CRS registry")
		return
	}
	registryMap = make(map[int]*Def, len(defs))
	for _, d := range defs {
		registryMap[d.EPSG] = d
	}
}

// Lookup returns the registry entry for an EPSG code
func Lookup(epsg int) (*Def, bool) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return nil, false
	}
	d, ok := registryMap[epsg]
	return d, ok
}

// Known returns all registry entries ordered by EPSG code
func Known() []*Def {
	registryOnce.Do(loadRegistry)
	defs := make([]*Def, 0, len(registryMap))
	for _, d := range registryMap {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].EPSG < defs[j].EPSG })
	return defs
}
