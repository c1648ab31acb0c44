package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "missing.yaml")
		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Collection != "collection.yaml" {
			t.Errorf("collection = %q", cfg.Collection)
		}
		if cfg.HistoryPath == "" {
			t.Error("history path not defaulted")
		}
	})

	t.Run("file values with env expansion", func(t *testing.T) {
		dir := t.TempDir()
		configFile = filepath.Join(dir, "quail.yaml")
		t.Setenv("QUAIL_TEST_HOME", dir)
		doc := "collection: ${QUAIL_TEST_HOME}/api.yaml\nenvironment: staging\nscript_timeout: 5s\n"
		if err := os.WriteFile(configFile, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Collection != dir+"/api.yaml" {
			t.Errorf("collection = %q", cfg.Collection)
		}
		if cfg.Environment != "staging" {
			t.Errorf("environment = %q", cfg.Environment)
		}
		if cfg.scriptTimeout() != 5*time.Second {
			t.Errorf("timeout = %v", cfg.scriptTimeout())
		}
	})

	t.Run("env vars override the file", func(t *testing.T) {
		dir := t.TempDir()
		configFile = filepath.Join(dir, "quail.yaml")
		if err := os.WriteFile(configFile, []byte("environment: staging\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("QUAIL_ENV", "prod")
		cfg, err := loadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Environment != "prod" {
			t.Errorf("environment = %q", cfg.Environment)
		}
	})
}

func TestScriptTimeout(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"garbage", 30 * time.Second},
		{"-5s", 30 * time.Second},
	}
	for _, tc := range cases {
		cfg := &Config{ScriptTimeout: tc.raw}
		if got := cfg.scriptTimeout(); got != tc.want {
			t.Errorf("scriptTimeout(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
