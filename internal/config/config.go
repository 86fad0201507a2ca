// Package config provides the layered pipeline configuration:
// defaults, then an optional YAML file, then environment variables.
// Command-line flags are applied on top by the CLI layer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables honored by Load. A .env file in the working
// directory is read first when present.
const (
	EnvEvidenceDir = "FODPIPE_EVIDENCE_DIR"
	EnvDBPath      = "FODPIPE_DB_PATH"
	EnvWorkers     = "FODPIPE_WORKERS"
)

// Config holds every tunable of the pipeline.
type Config struct {
	// Aggregation thresholds.
	ConfThreshold float64 `yaml:"conf_threshold"`
	MinArea       float64 `yaml:"min_area"`
	ConfirmN      int     `yaml:"confirm_n"`
	EndMissM      int     `yaml:"end_miss_m"`
	MinEventDurS  float64 `yaml:"min_event_dur_s"`
	CooldownS     float64 `yaml:"cooldown_s"`

	// Canonical full-frame dimensions.
	FrameW int `yaml:"frame_w"`
	FrameH int `yaml:"frame_h"`

	// Evidence assembly.
	PadBeforeS float64  `yaml:"pad_before_s"`
	PadAfterS  float64  `yaml:"pad_after_s"`
	Workers    int      `yaml:"workers"`
	VideoDirs  []string `yaml:"video_dirs"`

	// Locations.
	EvidenceDir string `yaml:"evidence_dir"`
	DBPath      string `yaml:"db_path"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		ConfThreshold: 0.25,
		MinArea:       3000,
		ConfirmN:      3,
		EndMissM:      10,
		MinEventDurS:  0.25,
		CooldownS:     1.0,
		FrameW:        1920,
		FrameH:        1080,
		PadBeforeS:    3.0,
		PadAfterS:     3.0,
		Workers:       4,
		EvidenceDir:   "evidence",
		DBPath:        "fodpipe.db",
	}
}

// Load builds the effective configuration: defaults, overlaid with the
// YAML file at path when non-empty, overlaid with environment
// variables. A .env file is honored before the environment is read.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	// Missing .env is fine; a present but unreadable one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file onto cfg. Unknown keys are errors
// so a typoed threshold never silently falls back to a default.
func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvEvidenceDir); v != "" {
		c.EvidenceDir = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
}

// Validate checks every tunable's range.
func (c Config) Validate() error {
	switch {
	case c.ConfThreshold < 0 || c.ConfThreshold > 1:
		return fmt.Errorf("conf_threshold %.3f out of range [0, 1]", c.ConfThreshold)
	case c.MinArea < 0:
		return fmt.Errorf("min_area must be >= 0, got %.1f", c.MinArea)
	case c.ConfirmN < 1:
		return fmt.Errorf("confirm_n must be >= 1, got %d", c.ConfirmN)
	case c.EndMissM < 1:
		return fmt.Errorf("end_miss_m must be >= 1, got %d", c.EndMissM)
	case c.MinEventDurS < 0:
		return fmt.Errorf("min_event_dur_s must be >= 0, got %.3f", c.MinEventDurS)
	case c.CooldownS < 0:
		return fmt.Errorf("cooldown_s must be >= 0, got %.3f", c.CooldownS)
	case c.FrameW < 1 || c.FrameH < 1:
		return fmt.Errorf("frame dimensions must be positive, got %dx%d", c.FrameW, c.FrameH)
	case c.PadBeforeS < 0 || c.PadAfterS < 0:
		return fmt.Errorf("clip pads must be >= 0, got %.3f/%.3f", c.PadBeforeS, c.PadAfterS)
	case c.Workers < 1:
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}
