package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scheduler.MinIntervalMinutes != 30 || cfg.Scheduler.MaxIntervalMinutes != 180 {
		t.Fatalf("unexpected interval bounds: %+v", cfg.Scheduler)
	}
	if cfg.Selection.Weights["comment"] != 0.5 {
		t.Fatalf("unexpected comment weight %v", cfg.Selection.Weights["comment"])
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("scheduler:\n  min_interval_minutes: 10\n  max_interval_minutes: 60\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Scheduler.MinIntervalMinutes != 10 || cfg.Scheduler.MaxIntervalMinutes != 60 {
		t.Fatalf("overrides not applied: %+v", cfg.Scheduler)
	}
	if cfg.Executor.DefaultChannel != "general" {
		t.Fatalf("default channel lost: %q", cfg.Executor.DefaultChannel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"inverted bounds":  "scheduler:\n  min_interval_minutes: 90\n  max_interval_minutes: 30\n",
		"unknown weight":   "selection:\n  weights:\n    share: 1\n",
		"bad fallback":     "selection:\n  fallback: share\n",
		"http no endpoint": "generator:\n  kind: http\n",
		"jitter too big":   "scheduler:\n  jitter: 1.5\n",
		"window too small": "scheduler:\n  recent_window: 1\n",
		"window disabled":  "scheduler:\n  recent_window: 0\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("expected nil,nil got %v,%v", cfg, err)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "agora.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Generator.Kind != "template" {
		t.Fatalf("unexpected generator kind %q", cfg.Generator.Kind)
	}
}
