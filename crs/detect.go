package crs

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/cascadegis/geoconv/logger"
)

// Confidence tiers for a detected CRS
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Candidate is a detected or declared CRS with the method that produced it
type Candidate struct {
	EPSG       int        `json:"epsg"`
	Confidence Confidence `json:"confidence"`
	Method     string     `json:"method"`
	Warning    string     `json:"warning,omitempty"` // set on low-confidence fallback
}

// Evidence is everything detection may inspect, assembled by the reader.
// Strategies consume it read-only.
type Evidence struct {
	MetadataEPSG int       // EPSG declared by container metadata, 0 = none
	SidecarWKT   string    // contents of an adjacent .prj file, "" = none
	Bound        orb.Bound // extent of sampled coordinates
	HasBound     bool
}

// Strategy attempts one detection method, returning a candidate or nothing.
// New methods append to the detector's ordered list without touching
// existing ones.
type Strategy interface {
	Name() string
	Detect(ev Evidence) (Candidate, bool)
}

// Detector runs the strategy cascade in priority order, first success wins.
// It never fails: absence of any signal yields the low-confidence fallback.
type Detector struct {
	strategies []Strategy
	fallback   int
	log        *zap.SugaredLogger
}

// NewDetector builds the standard cascade: embedded metadata, sidecar
// definition, extent heuristic.
func NewDetector(fallbackEPSG int, log *zap.SugaredLogger) *Detector {
	if log == nil {
		log = logger.Logger
	}
	return &Detector{
		strategies: []Strategy{
			metadataStrategy{},
			sidecarStrategy{},
			extentStrategy{},
		},
		fallback: fallbackEPSG,
		log:      log,
	}
}

// Detect returns exactly one candidate
func (d *Detector) Detect(ev Evidence) Candidate {
	for _, s := range d.strategies {
		if cand, ok := s.Detect(ev); ok {
			d.log.Debugw("CRS detected",
				logger.FieldEPSG, cand.EPSG,
				logger.FieldConfidence, string(cand.Confidence),
				logger.FieldMethod, cand.Method,
			)
			return cand
		}
	}
	cand := Candidate{
		EPSG:       d.fallback,
		Confidence: ConfidenceLow,
		Method:     "fallback",
		Warning:    "no CRS signal found; assumed fallback CRS",
	}
	d.log.Warnw("CRS detection fell back",
		logger.FieldEPSG, cand.EPSG,
		logger.FieldMethod, cand.Method,
	)
	return cand
}

// Declared builds the candidate for a user-declared source CRS, which
// supersedes the cascade entirely.
func Declared(epsg int) Candidate {
	return Candidate{EPSG: epsg, Confidence: ConfidenceHigh, Method: "declared"}
}

// metadataStrategy trusts CRS identifiers embedded in container metadata
type metadataStrategy struct{}

func (metadataStrategy) Name() string { return "metadata" }

func (metadataStrategy) Detect(ev Evidence) (Candidate, bool) {
	if ev.MetadataEPSG == 0 {
		return Candidate{}, false
	}
	if _, ok := Lookup(ev.MetadataEPSG); !ok {
		return Candidate{}, false
	}
	return Candidate{EPSG: ev.MetadataEPSG, Confidence: ConfidenceHigh, Method: "metadata"}, true
}

// sidecarStrategy parses an adjacent projection-definition (.prj) file
type sidecarStrategy struct{}

func (sidecarStrategy) Name() string { return "sidecar" }

func (sidecarStrategy) Detect(ev Evidence) (Candidate, bool) {
	if ev.SidecarWKT == "" {
		return Candidate{}, false
	}
	epsg, ok := ParseWKT(ev.SidecarWKT)
	if !ok {
		return Candidate{}, false
	}
	return Candidate{EPSG: epsg, Confidence: ConfidenceHigh, Method: "sidecar"}, true
}

// extentStrategy infers the CRS from the geographic extent of the data
type extentStrategy struct{}

func (extentStrategy) Name() string { return "extent" }

func (extentStrategy) Detect(ev Evidence) (Candidate, bool) {
	if !ev.HasBound {
		return Candidate{}, false
	}
	b := ev.Bound

	// Degree-range coordinates classify as geographic
	if b.Min[0] >= -180 && b.Max[0] <= 180 && b.Min[1] >= -90 && b.Max[1] <= 90 {
		return Candidate{EPSG: 4326, Confidence: ConfidenceMedium, Method: "extent"}, true
	}

	// Otherwise match against known projected extents, smallest box wins
	best := 0
	bestArea := 0.0
	for _, d := range Known() {
		if d.IsGeographic() {
			continue
		}
		bb := d.Bounds
		if b.Min[0] < bb[0] || b.Min[1] < bb[1] || b.Max[0] > bb[2] || b.Max[1] > bb[3] {
			continue
		}
		area := (bb[2] - bb[0]) * (bb[3] - bb[1])
		if best == 0 || area < bestArea {
			best = d.EPSG
			bestArea = area
		}
	}
	if best == 0 {
		return Candidate{}, false
	}
	return Candidate{EPSG: best, Confidence: ConfidenceMedium, Method: "extent"}, true
}

var wktAuthorityRe = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"(\d+)"\s*\]`)

// ParseWKT extracts an EPSG code from a WKT CRS definition. The outermost
// authority is listed last in well-known text, so the final match wins.
// Definitions without an authority clause fall back to name matching
// against the registry.
func ParseWKT(wkt string) (int, bool) {
	matches := wktAuthorityRe.FindAllStringSubmatch(wkt, -1)
	if len(matches) > 0 {
		code, err := strconv.Atoi(matches[len(matches)-1][1])
		if err == nil {
			if _, ok := Lookup(code); ok {
				return code, true
			}
		}
	}

	// Prefer the most specific (longest) matching name: a projected WKT
	// also contains its base geographic CRS name.
	normalized := normalizeWKTName(wkt)
	best, bestLen := 0, 0
	for _, d := range Known() {
		name := normalizeWKTName(d.Name)
		if strings.Contains(normalized, name) && len(name) > bestLen {
			best, bestLen = d.EPSG, len(name)
		}
	}
	return best, best != 0
}

func normalizeWKTName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
