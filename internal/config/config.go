package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all imgclass configuration.
type Config struct {
	// Directory whose subdirectories are the class labels
	Assets string `yaml:"assets"`
	// Directory for bottleneck caches and the trained head
	Workspace string `yaml:"workspace"`

	// Label from the parent directory name, otherwise from the filename prefix
	UseFolderNameAsLabel bool `yaml:"use_folder_name_as_label"`

	Seed int64 `yaml:"seed"`

	Split    SplitConfig    `yaml:"split"`
	Backbone BackboneConfig `yaml:"backbone"`
	Trainer  TrainerConfig  `yaml:"trainer"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

// SplitConfig controls the train / validation / test partition.
// TestFraction is taken from the shuffled rows first, and ValidationTestFraction
// is then the share of that remainder kept back as the final test set.
type SplitConfig struct {
	TestFraction           float64 `yaml:"test_fraction"`
	ValidationTestFraction float64 `yaml:"validation_test_fraction"`
}

// BackboneConfig selects the pretrained feature extractor.
type BackboneConfig struct {
	Arch         string `yaml:"arch"` // onnx model name, or "pixels"
	ModelPath    string `yaml:"model_path"`
	MetadataPath string `yaml:"metadata_path"`
	LibraryPath  string `yaml:"library_path"` // onnxruntime shared library, empty for the default
	ImageSize    int    `yaml:"image_size"` // only used by "pixels"
}

// TrainerConfig configures the classification head.
type TrainerConfig struct {
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	L2           float64 `yaml:"l2"`

	DecayRate      float64 `yaml:"decay_rate"`       // 0 disables decay
	EpochsPerDecay float64 `yaml:"epochs_per_decay"` // default 2.5

	EarlyStopping bool    `yaml:"early_stopping"`
	Patience      int     `yaml:"patience"`
	MinDelta      float64 `yaml:"min_delta"`

	TestOnTrainSet                           bool `yaml:"test_on_train_set"`
	ReuseTrainSetBottleneckCachedValues      bool `yaml:"reuse_train_set_bottleneck_cached_values"`
	ReuseValidationSetBottleneckCachedValues bool `yaml:"reuse_validation_set_bottleneck_cached_values"`
}

// OutputConfig configures what the train command writes.
type OutputConfig struct {
	Take   int    `yaml:"take"`   // number of test images classified in batch
	Head   string `yaml:"head"`   // trained head, relative to Workspace
	Curves string `yaml:"curves"` // optional SVG of training curves
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

var ErrInvalid = errors.New("config: invalid")

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Assets:               "assets",
		Workspace:            "workspace",
		UseFolderNameAsLabel: true,
		Seed:                 1,
		Split: SplitConfig{
			TestFraction:           0.3,
			ValidationTestFraction: 0.1,
		},
		Backbone: BackboneConfig{
			Arch:         "resnet_v2_101",
			ModelPath:    filepath.Join("models", "resnet_v2_101.onnx"),
			MetadataPath: filepath.Join("models", "resnet_v2_101.json"),
			ImageSize:    32,
		},
		Trainer: TrainerConfig{
			Epochs:         200,
			BatchSize:      10,
			LearningRate:   0.01,
			DecayRate:      0.94,
			EpochsPerDecay: 2.5,
			EarlyStopping:  true,
			Patience:       20,
			MinDelta:       0.01,

			ReuseTrainSetBottleneckCachedValues:      true,
			ReuseValidationSetBottleneckCachedValues: true,
		},
		Output: OutputConfig{
			Take: 10,
			Head: "head.json",
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// Load reads a YAML config on top of the defaults. A missing file is not an
// error, the defaults are returned with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("IMGCLASS_ASSETS"); v != "" {
		c.Assets = v
	}
	if v := os.Getenv("IMGCLASS_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
}

// Validate checks ranges that would otherwise fail deep inside training.
func (c *Config) Validate() error {
	if c.Assets == "" {
		return fmt.Errorf("%w: assets directory is empty", ErrInvalid)
	}
	if f := c.Split.TestFraction; f < 0 || f >= 1 {
		return fmt.Errorf("%w: split.test_fraction %v not in [0,1)", ErrInvalid, f)
	}
	if f := c.Split.ValidationTestFraction; f < 0 || f >= 1 {
		return fmt.Errorf("%w: split.validation_test_fraction %v not in [0,1)", ErrInvalid, f)
	}
	if c.Trainer.Epochs <= 0 {
		return fmt.Errorf("%w: trainer.epochs must be positive", ErrInvalid)
	}
	if c.Trainer.BatchSize <= 0 {
		return fmt.Errorf("%w: trainer.batch_size must be positive", ErrInvalid)
	}
	if c.Trainer.LearningRate <= 0 {
		return fmt.Errorf("%w: trainer.learning_rate must be positive", ErrInvalid)
	}
	if c.Backbone.Arch == "" {
		return fmt.Errorf("%w: backbone.arch is empty", ErrInvalid)
	}
	if c.Output.Take < 0 {
		return fmt.Errorf("%w: output.take is negative", ErrInvalid)
	}
	return nil
}

// HeadPath is where the trained head is stored.
func (c *Config) HeadPath() string {
	if filepath.IsAbs(c.Output.Head) {
		return c.Output.Head
	}
	return filepath.Join(c.Workspace, c.Output.Head)
}
