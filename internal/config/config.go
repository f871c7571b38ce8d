package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/menta2k/keypoint-labeler/internal/counter"
	"github.com/menta2k/keypoint-labeler/pkg/hittest"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// Backend kinds accepted in DetectorConfig.Backend
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendRemote   = "remote"
	BackendSaliency = "saliency"
)

// Config holds the application configuration
type Config struct {
	Labeling  LabelingConfig  `json:"labeling"`
	Inference InferenceConfig `json:"inference"`
	Detector  DetectorConfig  `json:"detector"`
	Output    OutputConfig    `json:"output"`
}

// LabelingConfig holds the editing defaults
type LabelingConfig struct {
	NumKeypointClasses int     `json:"num_keypoint_classes"`
	ClassID            int     `json:"class_id"`
	HandleThreshold    float64 `json:"handle_threshold"`
	CounterPath        string  `json:"counter_path"`
}

// InferenceConfig holds the thresholds passed to detectors and the importer
type InferenceConfig struct {
	Confidence float64 `json:"confidence"`
	IoU        float64 `json:"iou"`
	Visibility float64 `json:"visibility"`
}

// DetectorConfig selects and configures the detector backend
type DetectorConfig struct {
	Backend      string   `json:"backend"`
	URL          string   `json:"url"`
	Model        string   `json:"model"`
	Classes      []string `json:"classes"`
	NumKeypoints int      `json:"num_keypoints"`
	MaxSize      int      `json:"max_size"`
	Quality      int      `json:"quality"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	OutputDir     string `json:"output_dir"`
	OverlayFormat string `json:"overlay_format"`
	Quality       int    `json:"quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	params := types.DefaultInferenceParams()
	return &Config{
		Labeling: LabelingConfig{
			NumKeypointClasses: 0,
			ClassID:            0,
			HandleThreshold:    hittest.DefaultPixelThreshold,
			CounterPath:        counter.DefaultPath,
		},
		Inference: InferenceConfig{
			Confidence: params.Confidence,
			IoU:        params.IoU,
			Visibility: params.Visibility,
		},
		Detector: DetectorConfig{
			Backend: BackendOllama,
			URL:     "http://localhost:11434",
			Model:   "qwen2.5vl:7b",
			Classes: []string{"object"},
			MaxSize: 1024,
			Quality: 85,
		},
		Output: OutputConfig{
			OutputDir:     "./output",
			OverlayFormat: "jpg",
			Quality:       95,
		},
	}
}

// Params returns the inference thresholds as the detector packages take them
func (c *Config) Params() types.InferenceParams {
	return types.InferenceParams{
		Confidence: c.Inference.Confidence,
		IoU:        c.Inference.IoU,
		Visibility: c.Inference.Visibility,
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their defaults. The result is validated.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid. Every problem is reported.
func (c *Config) Validate() error {
	var err error

	if perr := c.Params().Validate(); perr != nil {
		err = multierr.Append(err, fmt.Errorf("inference: %w", perr))
	}

	if c.Labeling.NumKeypointClasses < 0 {
		err = multierr.Append(err, types.InvalidInputf("labeling.num_keypoint_classes must not be negative"))
	}

	if c.Labeling.ClassID < 0 {
		err = multierr.Append(err, types.InvalidInputf("labeling.class_id must not be negative"))
	}

	if c.Labeling.HandleThreshold <= 0 {
		err = multierr.Append(err, types.InvalidInputf("labeling.handle_threshold must be positive"))
	}

	if c.Labeling.CounterPath == "" {
		err = multierr.Append(err, types.InvalidInputf("labeling.counter_path cannot be empty"))
	}

	switch c.Detector.Backend {
	case BackendOllama, BackendLlamaCpp, BackendRemote, BackendSaliency:
	default:
		err = multierr.Append(err, types.InvalidInputf("detector.backend %q is not one of ollama, llamacpp, remote, saliency", c.Detector.Backend))
	}

	if c.Detector.Quality < 1 || c.Detector.Quality > 100 {
		err = multierr.Append(err, types.InvalidInputf("detector.quality must be between 1 and 100"))
	}

	if c.Detector.MaxSize < 0 {
		err = multierr.Append(err, types.InvalidInputf("detector.max_size must not be negative"))
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		err = multierr.Append(err, types.InvalidInputf("output.quality must be between 1 and 100"))
	}

	switch c.Output.OverlayFormat {
	case "jpg", "jpeg", "png", "webp", "bmp":
	default:
		err = multierr.Append(err, types.InvalidInputf("output.overlay_format %q is not supported", c.Output.OverlayFormat))
	}

	return err
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "keypoint-labeler", "config.json")
}
