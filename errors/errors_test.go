package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomyWrapping(t *testing.T) {
	err := Wrap(ErrMalformedData, "unexpected end of ring")

	assert.True(t, Is(err, ErrMalformedData))
	assert.False(t, Is(err, ErrUnsupportedFormat))
	assert.True(t, IsJobError(err))
	assert.Equal(t, "malformed_data", Kind(err))
}

func TestAtStagePreservesKind(t *testing.T) {
	err := AtStage(Wrap(ErrProjectionTransform, "latitude out of range"), "reproject")

	require.Error(t, err)
	assert.True(t, Is(err, ErrProjectionTransform))
	assert.Contains(t, err.Error(), "stage reproject")
	assert.Contains(t, GetAllDetails(err), "stage: reproject")
}

func TestAtFeatureCarriesIndex(t *testing.T) {
	err := AtFeature(ErrProjectionTransform, 42)

	assert.Contains(t, err.Error(), "feature 42")
	assert.True(t, Is(err, ErrProjectionTransform))
}

func TestAtStageNil(t *testing.T) {
	assert.NoError(t, AtStage(nil, "read"))
	assert.NoError(t, AtFeature(nil, 3))
}

func TestKindOutsideTaxonomy(t *testing.T) {
	assert.Equal(t, "internal", Kind(New("boom")))
	assert.Equal(t, "", Kind(nil))
	assert.False(t, IsJobError(New("boom")))
	assert.False(t, IsJobError(nil))
}

func TestKindCoversTaxonomy(t *testing.T) {
	cases := map[string]error{
		"unsupported_format":   ErrUnsupportedFormat,
		"corrupt_archive":      ErrCorruptArchive,
		"malformed_data":       ErrMalformedData,
		"projection_transform": ErrProjectionTransform,
		"write_capability":     ErrWriteCapability,
		"timeout":              ErrTimeout,
		"resource_exhausted":   ErrResourceExhausted,
	}
	for want, sentinel := range cases {
		t.Run(want, func(t *testing.T) {
			assert.Equal(t, want, Kind(Wrap(sentinel, "ctx")))
		})
	}
}
