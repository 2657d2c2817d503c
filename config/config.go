package config

// Config represents the core geoconv configuration
type Config struct {
	Scratch  ScratchConfig  `mapstructure:"scratch"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Quality  QualityConfig  `mapstructure:"quality"`
	Detect   DetectConfig   `mapstructure:"detect"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

// ScratchConfig bounds the per-job temporary storage area
type ScratchConfig struct {
	Root     string `mapstructure:"root"`      // Base directory for scratch areas ("" = os.TempDir())
	MaxBytes int64  `mapstructure:"max_bytes"` // Hard cap on bytes extracted/written per job
}

// BudgetConfig configures per-job time budgets
type BudgetConfig struct {
	SoftSeconds int `mapstructure:"soft_seconds"` // Warn/checkpoint threshold (0 = disabled)
	HardSeconds int `mapstructure:"hard_seconds"` // Forced abort threshold
}

// QualityConfig configures composite score weighting.
// Weights are a policy default, not a contract; they must sum to 1.0.
type QualityConfig struct {
	WeightGeometryValidity      float64 `mapstructure:"weight_geometry_validity"`
	WeightCRSConfidence         float64 `mapstructure:"weight_crs_confidence"`
	WeightAttributeCompleteness float64 `mapstructure:"weight_attribute_completeness"`
	WeightSchemaConformance     float64 `mapstructure:"weight_schema_conformance"`
	WeightDuplicationRatio      float64 `mapstructure:"weight_duplication_ratio"`
}

// DetectConfig configures projection detection
type DetectConfig struct {
	FallbackEPSG int `mapstructure:"fallback_epsg"` // Used when the cascade finds no signal (default: 4326)
	SampleSize   int `mapstructure:"sample_size"`   // Features sampled for the extent heuristic (default: 100)
}

// DatabaseConfig configures the SQLite job record database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig configures the batch worker pool (shell, not core)
type QueueConfig struct {
	Workers             int `mapstructure:"workers"`               // Concurrent conversion workers (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // Queue poll cadence (default: 2)
	JobsPerMinute       int `mapstructure:"jobs_per_minute"`       // Rate limit across the pool (0 = unlimited)
	MaxQueuedJobs       int `mapstructure:"max_queued_jobs"`       // Enqueue refusal threshold (0 = unlimited)
}
