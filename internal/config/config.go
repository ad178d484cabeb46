// Package config loads the engine's directory configuration: built-in
// defaults, overridden by an optional YAML file, overridden in turn by
// environment variables — the same two-tier shape as the teacher's
// app/settings package (which persists a YAML settings file), adapted
// to the spec's "environment variables name the directories" contract
// (spec §6, Configuration).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the three directories the core needs. No other
// configuration is required by the core (spec §6).
type Config struct {
	UploadDir string `yaml:"uploadDir"`
	ParsedDir string `yaml:"parsedDir"`
	TempDir   string `yaml:"tempDir"`
}

const (
	envUploadDir = "PLCVIZ_UPLOAD_DIR"
	envParsedDir = "PLCVIZ_PARSED_DIR"
	envTempDir   = "PLCVIZ_TEMP_DIR"
)

// Default returns the default relative-path configuration used when no
// environment variables or override file are present.
func Default() Config {
	return Config{
		UploadDir: "data/uploads",
		ParsedDir: "data/parsed",
		TempDir:   "data/tmp",
	}
}

// Load starts from Default, applies the non-empty fields of the YAML
// file at overridePath if it exists, then applies any set environment
// variables, so an environment variable wins over the file. A missing
// override file is not an error; a malformed one is.
func Load(overridePath string) (Config, error) {
	cfg := Default()

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err == nil {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", overridePath, err)
			}
			cfg.applyNonEmpty(fileCfg)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", overridePath, err)
		}
	}

	if v := os.Getenv(envUploadDir); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv(envParsedDir); v != "" {
		cfg.ParsedDir = v
	}
	if v := os.Getenv(envTempDir); v != "" {
		cfg.TempDir = v
	}

	return cfg, nil
}

func (c *Config) applyNonEmpty(other Config) {
	if other.UploadDir != "" {
		c.UploadDir = other.UploadDir
	}
	if other.ParsedDir != "" {
		c.ParsedDir = other.ParsedDir
	}
	if other.TempDir != "" {
		c.TempDir = other.TempDir
	}
}

// EnsureDirs creates all three directories if they do not exist.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadDir, c.ParsedDir, c.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir %s: %w", dir, err)
		}
	}
	return nil
}
