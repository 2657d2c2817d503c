// Package errors provides error handling for geoconv.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := readLayer(); err != nil {
//	    return errors.Wrap(err, "failed to read layer")
//	}
//
//	// Check the job error taxonomy
//	if errors.Is(err, errors.ErrMalformedData) {
//	    // handle parse failure
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Job error taxonomy.
//
// Every conversion failure is one of these kinds. All of them are fatal to
// the current job: the core never retries, and a job either completes all
// stages or reports exactly one of these with no output artifact. Wrap these
// with errors.Wrap() to add context while preserving the kind.
var (
	// ErrUnsupportedFormat indicates an unknown container format, or a
	// declared extension whose content signature does not match.
	ErrUnsupportedFormat = New("unsupported format")

	// ErrCorruptArchive indicates an archive container missing its expected
	// inner layout (e.g. a zip with no recognized dataset inside).
	ErrCorruptArchive = New("corrupt archive")

	// ErrMalformedData indicates a parse failure mid-stream.
	ErrMalformedData = New("malformed data")

	// ErrProjectionTransform indicates the CRS transform is undefined for a
	// coordinate in the dataset.
	ErrProjectionTransform = New("projection transform failed")

	// ErrWriteCapability indicates the target format cannot represent the
	// collection's geometry kind or attribute types.
	ErrWriteCapability = New("target format capability exceeded")

	// ErrTimeout indicates the job exceeded its hard time budget.
	ErrTimeout = New("job time budget exceeded")

	// ErrResourceExhausted indicates the per-job scratch storage limit was hit.
	ErrResourceExhausted = New("scratch storage limit exceeded")
)

// AtStage wraps an error with the pipeline stage that produced it, so the
// shell can populate diagnostics without re-deriving state.
func AtStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	return WithDetailf(Wrapf(err, "stage %s", stage), "stage: %s", stage)
}

// AtFeature wraps an error with the offending feature index.
func AtFeature(err error, index int) error {
	if err == nil {
		return nil
	}
	return WithDetailf(Wrapf(err, "feature %d", index), "feature_index: %d", index)
}

// IsJobError reports whether err belongs to the job error taxonomy.
func IsJobError(err error) bool {
	return err != nil && IsAny(err,
		ErrUnsupportedFormat,
		ErrCorruptArchive,
		ErrMalformedData,
		ErrProjectionTransform,
		ErrWriteCapability,
		ErrTimeout,
		ErrResourceExhausted,
	)
}

// Kind returns the stable taxonomy name for err, or "internal" when the
// error is outside the taxonomy. Used for job records and diagnostics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case Is(err, ErrCorruptArchive):
		return "corrupt_archive"
	case Is(err, ErrMalformedData):
		return "malformed_data"
	case Is(err, ErrProjectionTransform):
		return "projection_transform"
	case Is(err, ErrWriteCapability):
		return "write_capability"
	case Is(err, ErrTimeout):
		return "timeout"
	case Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	default:
		return "internal"
	}
}
