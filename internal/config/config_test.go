package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envUploadDir, envParsedDir, envTempDir} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_DefaultsWhenNothingSet(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load(\"\") = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	clearEnv(t)
	os.Setenv(envUploadDir, "/custom/uploads")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UploadDir != "/custom/uploads" {
		t.Fatalf("UploadDir = %q, want /custom/uploads", cfg.UploadDir)
	}
	if cfg.ParsedDir != Default().ParsedDir {
		t.Fatalf("ParsedDir should remain default, got %q", cfg.ParsedDir)
	}
}

func TestLoad_YAMLOverrideFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "uploadDir: /from/yaml\nparsedDir: /from/yaml/parsed\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UploadDir != "/from/yaml" || cfg.ParsedDir != "/from/yaml/parsed" {
		t.Fatalf("unexpected cfg from yaml override: %+v", cfg)
	}
	if cfg.TempDir != Default().TempDir {
		t.Fatalf("TempDir should fall back to default, got %q", cfg.TempDir)
	}
}

func TestLoad_EnvTakesPrecedenceOverYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("uploadDir: /from/yaml\n"), 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}
	os.Setenv(envUploadDir, "/from/env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UploadDir != "/from/env" {
		t.Fatalf("UploadDir = %q, want env to win over yaml", cfg.UploadDir)
	}
}

func TestLoad_MissingOverrideFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load with a missing override file should not error: %v", err)
	}
}

func TestLoad_MalformedYAMLIsAnError(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for malformed YAML")
	}
}

func TestEnsureDirs_CreatesAllThree(t *testing.T) {
	root := t.TempDir()
	cfg := Config{
		UploadDir: filepath.Join(root, "uploads"),
		ParsedDir: filepath.Join(root, "parsed"),
		TempDir:   filepath.Join(root, "tmp"),
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{cfg.UploadDir, cfg.ParsedDir, cfg.TempDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to exist as a directory", dir)
		}
	}
}
