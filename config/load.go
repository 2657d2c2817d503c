package config

import (
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/cascadegis/geoconv/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the geoconv configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// Validate checks configuration invariants that viper cannot express
func Validate(c *Config) error {
	sum := c.Quality.WeightGeometryValidity +
		c.Quality.WeightCRSConfidence +
		c.Quality.WeightAttributeCompleteness +
		c.Quality.WeightSchemaConformance +
		c.Quality.WeightDuplicationRatio
	if math.Abs(sum-1.0) > 1e-9 {
		return errors.Newf("quality weights must sum to 1.0, got %.4f", sum)
	}
	if c.Budget.HardSeconds <= 0 {
		return errors.New("budget.hard_seconds must be positive")
	}
	if c.Budget.SoftSeconds > c.Budget.HardSeconds {
		return errors.New("budget.soft_seconds must not exceed budget.hard_seconds")
	}
	if c.Scratch.MaxBytes <= 0 {
		return errors.New("scratch.max_bytes must be positive")
	}
	return nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Environment variables: GEOCONV_SCRATCH_MAX_BYTES etc.
	v.SetEnvPrefix("GEOCONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Project config is optional; defaults carry a usable configuration
	v.SetConfigName("geoconv")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.geoconv")
	_ = v.ReadInConfig()

	viperInstance = v
	return v
}
