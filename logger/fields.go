package logger

// Standard field names for consistent structured logging across geoconv.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldComponent = "component"
	FieldStage     = "stage"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldStartTime  = "start_time"
	FieldEndTime    = "end_time"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount      = "count"
	FieldSize       = "size"
	FieldTotalCount = "total_count"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Files and formats
	FieldFile     = "file"
	FieldFormat   = "format"
	FieldEncoding = "encoding"

	// Conversion-specific
	FieldEPSG         = "epsg"
	FieldSourceEPSG   = "source_epsg"
	FieldTargetEPSG   = "target_epsg"
	FieldConfidence   = "confidence"
	FieldMethod       = "method"
	FieldFeatureCount = "feature_count"
	FieldFeatureIndex = "feature_index"
	FieldGeometryKind = "geometry_kind"
	FieldIssueCount   = "issue_count"
	FieldQualityScore = "quality_score"
	FieldScratchDir   = "scratch_dir"
	FieldScratchBytes = "scratch_bytes"
	FieldOutputPath   = "output_path"
	FieldWorkerID     = "worker_id"
	FieldRetryCount   = "retry_count"
)
