package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Scratch defaults
	v.SetDefault("scratch.root", "")                // "" = os.TempDir()
	v.SetDefault("scratch.max_bytes", int64(1<<30)) // 1 GiB per job

	// Time budget defaults
	v.SetDefault("budget.soft_seconds", 300) // Warn after 5 minutes
	v.SetDefault("budget.hard_seconds", 600) // Abort after 10 minutes

	// Quality score weights (must sum to 1.0)
	v.SetDefault("quality.weight_geometry_validity", 0.30)
	v.SetDefault("quality.weight_crs_confidence", 0.20)
	v.SetDefault("quality.weight_attribute_completeness", 0.20)
	v.SetDefault("quality.weight_schema_conformance", 0.15)
	v.SetDefault("quality.weight_duplication_ratio", 0.15)

	// Projection detection defaults
	v.SetDefault("detect.fallback_epsg", 4326)
	v.SetDefault("detect.sample_size", 100)

	// Database defaults
	v.SetDefault("database.path", "geoconv.db")

	// Queue defaults
	v.SetDefault("queue.workers", 1)
	v.SetDefault("queue.poll_interval_seconds", 2)
	v.SetDefault("queue.jobs_per_minute", 0)
	v.SetDefault("queue.max_queued_jobs", 0)
}
