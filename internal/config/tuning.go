// Package config loads calibration tuning parameters from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/gyrocal/internal/gyrocal"
)

// TuningConfig represents the root configuration for calibration tuning
// parameters. All fields are pointers so that a partial file only
// overrides what it names; omitted fields keep the engine defaults.
type TuningConfig struct {
	// Consensus params
	Method          *string  `json:"method,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	MaxIterations   *int     `json:"max_iterations,omitempty"`
	SubsetSize      *int     `json:"subset_size,omitempty"`
	InlierThreshold *float64 `json:"inlier_threshold,omitempty"`
	ProgressDelta   *float64 `json:"progress_delta,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`

	// Model params
	CommonAxis           *bool      `json:"common_axis,omitempty"`
	UseLinearPreliminary *bool      `json:"use_linear_preliminary,omitempty"`
	RefinePreliminary    *bool      `json:"refine_preliminary,omitempty"`
	RefineResult         *bool      `json:"refine_result,omitempty"`
	KeepCovariance       *bool      `json:"keep_covariance,omitempty"`
	Bias                 *[3]float64 `json:"bias,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to have a .json extension and to be under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var tc TuningConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &tc, nil
}

// Apply overlays the tuning values onto an engine configuration and
// returns the bias override, if any. The returned config is validated by
// the estimator constructor, not here.
func (tc *TuningConfig) Apply(cfg *gyrocal.Config) (bias *[3]float64, err error) {
	if tc.Method != nil {
		m, err := gyrocal.ParseRobustMethod(*tc.Method)
		if err != nil {
			return nil, err
		}
		cfg.Method = m
	}
	if tc.Confidence != nil {
		cfg.Confidence = *tc.Confidence
	}
	if tc.MaxIterations != nil {
		cfg.MaxIterations = *tc.MaxIterations
	}
	if tc.SubsetSize != nil {
		cfg.SubsetSize = *tc.SubsetSize
	}
	if tc.InlierThreshold != nil {
		cfg.InlierThreshold = *tc.InlierThreshold
	}
	if tc.ProgressDelta != nil {
		cfg.ProgressDelta = *tc.ProgressDelta
	}
	if tc.Seed != nil {
		cfg.Seed = *tc.Seed
	}
	if tc.CommonAxis != nil {
		cfg.CommonAxis = *tc.CommonAxis
	}
	if tc.UseLinearPreliminary != nil {
		cfg.UseLinearPreliminary = *tc.UseLinearPreliminary
	}
	if tc.RefinePreliminary != nil {
		cfg.RefinePreliminary = *tc.RefinePreliminary
	}
	if tc.RefineResult != nil {
		cfg.RefineResult = *tc.RefineResult
	}
	if tc.KeepCovariance != nil {
		cfg.KeepCovariance = *tc.KeepCovariance
	}
	return tc.Bias, nil
}
