package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server: {}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Vision.EmbeddingModel != "arcface" {
		t.Errorf("Vision.EmbeddingModel = %q, want %q", cfg.Vision.EmbeddingModel, "arcface")
	}
	if got := cfg.Vision.MatchThreshold(); got != 0.5 {
		t.Errorf("MatchThreshold() = %v, want 0.5", got)
	}
	if cfg.Vision.LivenessRealLabel != 0 {
		t.Errorf("Vision.LivenessRealLabel = %d, want 0", cfg.Vision.LivenessRealLabel)
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Errorf("Session.TTL = %v, want 5m", cfg.Session.TTL)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadThresholdPerModel(t *testing.T) {
	path := writeConfig(t, `
vision:
  embedding_model: mobilefacenet
  match_thresholds:
    arcface: 0.5
    mobilefacenet: 0.4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Vision.MatchThreshold(); got != 0.4 {
		t.Errorf("MatchThreshold() = %v, want 0.4", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IDV_SERVER_PORT", "9090")
	t.Setenv("IDV_EMBEDDING_MODEL", "mobilefacenet")
	t.Setenv("IDV_LIVENESS_REAL_LABEL", "1")
	t.Setenv("IDV_SESSION_TTL", "90s")

	path := writeConfig(t, "server:\n  port: 8081\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Vision.EmbeddingModel != "mobilefacenet" {
		t.Errorf("Vision.EmbeddingModel = %q, want mobilefacenet", cfg.Vision.EmbeddingModel)
	}
	if cfg.Vision.LivenessRealLabel != 1 {
		t.Errorf("Vision.LivenessRealLabel = %d, want 1", cfg.Vision.LivenessRealLabel)
	}
	if cfg.Session.TTL != 90*time.Second {
		t.Errorf("Session.TTL = %v, want 90s", cfg.Session.TTL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load should fail for a missing file")
	}
}
