// Package clean repairs and deduplicates feature geometries. The cleaner is
// deterministic and idempotent: running it on its own output yields zero
// additional issues and an identical feature count.
package clean

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"go.uber.org/zap"

	"github.com/cascadegis/geoconv/feature"
	"github.com/cascadegis/geoconv/logger"
)

// IssueKind classifies a geometry defect
type IssueKind string

const (
	IssueNullGeometry     IssueKind = "NULL_GEOMETRY"
	IssueSelfIntersection IssueKind = "SELF_INTERSECTION"
	IssueEmptyAfterRepair IssueKind = "EMPTY_AFTER_REPAIR"
	IssueDuplicate        IssueKind = "DUPLICATE"
)

// ValidityIssue binds a defect to the input index of the feature that
// exhibited it. Produced here, consumed only by the quality reporter.
type ValidityIssue struct {
	Kind         IssueKind `json:"kind"`
	FeatureIndex int       `json:"feature_index"`
	Detail       string    `json:"detail,omitempty"`
}

// Stats are the counters the quality reporter scores from
type Stats struct {
	TotalInput        int `json:"total_input"`
	NullGeometry      int `json:"null_geometry"`
	InvalidFound      int `json:"invalid_found"`
	Fixed             int `json:"fixed"`
	Unfixable         int `json:"unfixable"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	TotalOutput       int `json:"total_output"`
}

// Result carries the cleaned collection plus everything the reporter needs
type Result struct {
	Collection *feature.Collection
	Keep       []bool // keep mask over input indices, for merging with the normalizer branch
	Issues     []ValidityIssue
	Stats      Stats
}

// Clean runs the five-step cleaning pipeline over the collection:
// null-geometry drop, validity classification, repair, empty-after-repair
// drop, coordinate-identical dedupe keeping the first occurrence. The input
// collection is not modified.
func Clean(col *feature.Collection, log *zap.SugaredLogger) *Result {
	if log == nil {
		log = logger.Logger
	}

	res := &Result{
		Keep:  make([]bool, col.Len()),
		Stats: Stats{TotalInput: col.Len()},
	}

	type survivor struct {
		index int
		feat  *feature.Feature
	}
	survivors := make([]survivor, 0, col.Len())

	// Step 1: drop null geometries
	for i, f := range col.Features {
		if f.Geometry == nil {
			res.Stats.NullGeometry++
			res.issue(IssueNullGeometry, i, "")
			continue
		}
		survivors = append(survivors, survivor{index: i, feat: f})
	}

	// Steps 2-4: classify, repair, drop empty-after-repair
	repaired := survivors[:0]
	for _, s := range survivors {
		reason := Invalidity(s.feat.Geometry)
		if reason == "" {
			repaired = append(repaired, s)
			continue
		}
		res.Stats.InvalidFound++
		res.issue(IssueSelfIntersection, s.index, reason)

		fixed := Repair(s.feat.Geometry)
		if fixed == nil {
			res.Stats.Unfixable++
			res.issue(IssueEmptyAfterRepair, s.index, "")
			continue
		}
		res.Stats.Fixed++
		clone := *s.feat
		clone.Geometry = fixed
		repaired = append(repaired, survivor{index: s.index, feat: &clone})
	}

	// Step 5: dedupe on exact coordinate identity, first occurrence wins
	seen := make(map[string]struct{}, len(repaired))
	kept := make([]*feature.Feature, 0, len(repaired))
	for _, s := range repaired {
		key := geometryKey(s.feat.Geometry)
		if _, dup := seen[key]; dup {
			res.Stats.DuplicatesRemoved++
			res.issue(IssueDuplicate, s.index, "")
			continue
		}
		seen[key] = struct{}{}
		res.Keep[s.index] = true
		kept = append(kept, s.feat)
	}

	res.Stats.TotalOutput = len(kept)
	res.Collection = &feature.Collection{
		Kind:     col.Kind,
		Schema:   col.Schema,
		Features: kept,
	}

	if len(res.Issues) > 0 {
		log.Infow("geometry cleaning finished",
			logger.FieldComponent, "clean",
			logger.FieldTotalCount, res.Stats.TotalInput,
			logger.FieldCount, res.Stats.TotalOutput,
			logger.FieldIssueCount, len(res.Issues),
		)
	}
	return res
}

func (r *Result) issue(kind IssueKind, index int, detail string) {
	r.Issues = append(r.Issues, ValidityIssue{Kind: kind, FeatureIndex: index, Detail: detail})
}

// geometryKey builds a coordinate-exact dedupe key. WKB is canonical for
// every geometry type orb supports.
func geometryKey(g orb.Geometry) string {
	data, err := wkb.Marshal(g)
	if err != nil {
		return fmt.Sprintf("%T:%v", g, g)
	}
	return string(data)
}
