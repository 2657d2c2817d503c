// Package quality scores a finished conversion along five dimensions and
// turns the pipeline's counters into a report the caller can act on.
package quality

import (
	"fmt"

	"github.com/cascadegis/geoconv/attr"
	"github.com/cascadegis/geoconv/clean"
	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/crs"
	"github.com/cascadegis/geoconv/feature"
)

// Dimensions are the five per-aspect scores, each 0-100
type Dimensions struct {
	GeometryValidity      float64 `json:"geometry_validity"`
	CRSConfidence         float64 `json:"crs_confidence"`
	AttributeCompleteness float64 `json:"attribute_completeness"`
	SchemaConformance     float64 `json:"schema_conformance"`
	DuplicationRatio      float64 `json:"duplication_ratio"`
}

// Report is created once per job and immutable afterwards
type Report struct {
	CompositeScore      float64    `json:"composite_score"`
	Grade               string     `json:"grade"`
	Dimensions          Dimensions `json:"dimensions"`
	GeometryErrorsFound int        `json:"geometry_errors_found"`
	GeometryErrorsFixed int        `json:"geometry_errors_fixed"`
	NullGeometryCount   int        `json:"null_geometry_count"`
	DuplicateCount      int        `json:"duplicate_count"`
	Recommendations     []string   `json:"recommendations"`
}

// Inputs gathers everything the reporter scores from
type Inputs struct {
	Cleaning   clean.Stats
	CRS        crs.Candidate
	Attributes *attr.Result
	Output     *feature.Collection
}

// Confidence tiers map to fixed score anchors
const (
	scoreHighConfidence   = 100
	scoreMediumConfidence = 65
	scoreLowConfidence    = 25
)

// Build computes the report from the job's accumulated counters. Weights
// come from configuration and must sum to one (enforced at config load).
func Build(in Inputs, weights config.QualityConfig) *Report {
	r := &Report{
		GeometryErrorsFound: in.Cleaning.InvalidFound,
		GeometryErrorsFixed: in.Cleaning.Fixed,
		NullGeometryCount:   in.Cleaning.NullGeometry,
		DuplicateCount:      in.Cleaning.DuplicatesRemoved,
		Recommendations:     []string{},
	}

	r.Dimensions = Dimensions{
		GeometryValidity:      geometryValidity(in.Cleaning),
		CRSConfidence:         confidenceScore(in.CRS.Confidence),
		AttributeCompleteness: completeness(in.Output),
		SchemaConformance:     conformance(in.Attributes),
		DuplicationRatio:      duplication(in.Cleaning),
	}

	r.CompositeScore = clamp(
		r.Dimensions.GeometryValidity*weights.WeightGeometryValidity+
			r.Dimensions.CRSConfidence*weights.WeightCRSConfidence+
			r.Dimensions.AttributeCompleteness*weights.WeightAttributeCompleteness+
			r.Dimensions.SchemaConformance*weights.WeightSchemaConformance+
			r.Dimensions.DuplicationRatio*weights.WeightDuplicationRatio,
	)
	r.Grade = gradeFor(r.CompositeScore)
	r.Recommendations = recommend(in, r)
	return r
}

// geometryValidity is the share of input features that were neither null
// nor unrepairable. An empty input is trivially fully valid.
func geometryValidity(s clean.Stats) float64 {
	if s.TotalInput == 0 {
		return 100
	}
	ok := s.TotalInput - s.NullGeometry - s.Unfixable
	return clamp(100 * float64(ok) / float64(s.TotalInput))
}

func confidenceScore(c crs.Confidence) float64 {
	switch c {
	case crs.ConfidenceHigh:
		return scoreHighConfidence
	case crs.ConfidenceMedium:
		return scoreMediumConfidence
	default:
		return scoreLowConfidence
	}
}

// completeness is the share of non-null attribute cells in the output
func completeness(col *feature.Collection) float64 {
	if col == nil || col.Len() == 0 || len(col.Schema) == 0 {
		return 100
	}
	total := col.Len() * len(col.Schema)
	filled := 0
	for _, f := range col.Features {
		for _, field := range col.Schema {
			if !feature.IsZeroValue(f.Attrs[field.Name]) {
				filled++
			}
		}
	}
	return clamp(100 * float64(filled) / float64(total))
}

// conformance is the share of input fields that needed no rename,
// truncation, or ghost drop.
func conformance(res *attr.Result) float64 {
	if res == nil || res.TotalFields == 0 {
		return 100
	}
	untouched := res.TotalFields - res.ModifiedFields()
	return clamp(100 * float64(untouched) / float64(res.TotalFields))
}

func duplication(s clean.Stats) float64 {
	if s.TotalInput == 0 {
		return 100
	}
	return clamp(100 * (1 - float64(s.DuplicatesRemoved)/float64(s.TotalInput)))
}

func gradeFor(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func recommend(in Inputs, r *Report) []string {
	recs := []string{}
	if r.GeometryErrorsFixed > 0 {
		recs = append(recs, fmt.Sprintf("%d geometries required repair; verify the output visually", r.GeometryErrorsFixed))
	}
	if unfixable := in.Cleaning.Unfixable; unfixable > 0 {
		recs = append(recs, fmt.Sprintf("%d geometries could not be repaired and were dropped", unfixable))
	}
	if r.NullGeometryCount > 0 {
		recs = append(recs, fmt.Sprintf("%d features had no geometry and were dropped", r.NullGeometryCount))
	}
	if r.DuplicateCount > 0 {
		recs = append(recs, fmt.Sprintf("%d duplicate geometries were removed", r.DuplicateCount))
	}
	switch in.CRS.Confidence {
	case crs.ConfidenceLow:
		recs = append(recs, "coordinate system detected with low confidence; declare source_epsg explicitly")
	case crs.ConfidenceMedium:
		recs = append(recs, fmt.Sprintf("coordinate system EPSG:%d inferred from %s; verify it matches the source", in.CRS.EPSG, in.CRS.Method))
	}
	if in.Attributes != nil && len(in.Attributes.Dropped) > 0 {
		recs = append(recs, fmt.Sprintf("%d autogenerated identifier columns were dropped", len(in.Attributes.Dropped)))
	}
	if r.Dimensions.AttributeCompleteness < 80 {
		recs = append(recs, "many attribute values are null; check source data completeness")
	}
	return recs
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
