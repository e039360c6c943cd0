package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}

	if cfg.Face.Model != "Facenet512" || cfg.Face.Detector != "retinaface" {
		t.Errorf("unexpected model/detector: %s/%s", cfg.Face.Model, cfg.Face.Detector)
	}
	if !cfg.Face.EnforceDetection {
		t.Error("expected strict detection by default")
	}
	if cfg.Face.MatchThreshold != 55 {
		t.Errorf("expected threshold 55, got %v", cfg.Face.MatchThreshold)
	}
	if cfg.References.Dir != "data/reference_faces" {
		t.Errorf("unexpected reference dir %q", cfg.References.Dir)
	}
	if cfg.Calibration.Default != 1.4 || cfg.Calibration.Models["ArcFace"] != 1.2 {
		t.Errorf("unexpected calibration: %+v", cfg.Calibration)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("FACE_MODEL", "ArcFace")
	t.Setenv("FACE_BACKEND", "GRPC")
	t.Setenv("FACE_ANALYSIS_ADDR", "localhost:50051")
	t.Setenv("MATCH_THRESHOLD", "70.5")
	t.Setenv("MATCH_WORKERS", "4")
	t.Setenv("PAIR_TIMEOUT", "5s")
	t.Setenv("FACE_ENFORCE_DETECTION", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if cfg.Face.Backend != "grpc" || cfg.Face.GRPCAddr != "localhost:50051" {
		t.Errorf("unexpected backend config: %+v", cfg.Face)
	}
	if cfg.Face.MatchThreshold != 70.5 || cfg.Face.Workers != 4 || cfg.Face.PairTimeout != 5*time.Second {
		t.Errorf("unexpected matching config: %+v", cfg.Face)
	}
	if cfg.Face.EnforceDetection {
		t.Error("expected enforcement to be disabled")
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.HTTP.AllowedOrigins)
	}

	settings := cfg.MatcherSettings()
	if settings.Model != "ArcFace" || settings.Workers != 4 {
		t.Errorf("unexpected matcher settings: %+v", settings)
	}
	if got := settings.Calibration.MaxDistance("ArcFace"); got != 1.2 {
		t.Errorf("expected ArcFace constant 1.2, got %v", got)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "threshold above 100", key: "MATCH_THRESHOLD", val: "120"},
		{name: "threshold not a number", key: "MATCH_THRESHOLD", val: "high"},
		{name: "unknown backend", key: "FACE_BACKEND", val: "opencv"},
		{name: "zero workers", key: "MATCH_WORKERS", val: "0"},
		{name: "bad duration", key: "PAIR_TIMEOUT", val: "soon"},
		{name: "bad log level", key: "LOG_LEVEL", val: "chatty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadCalibrationOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	content := "default: 1.3\nmodels:\n  ArcFace: 1.25\n  Dlib: 0.8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write calibration: %v", err)
	}
	t.Setenv("CALIBRATION_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if cfg.Calibration.Default != 1.3 {
		t.Errorf("expected default 1.3, got %v", cfg.Calibration.Default)
	}
	if cfg.Calibration.Models["ArcFace"] != 1.25 || cfg.Calibration.Models["Dlib"] != 0.8 {
		t.Errorf("unexpected overlay result: %+v", cfg.Calibration.Models)
	}
	if cfg.Calibration.Models["Facenet512"] != 1.4 {
		t.Errorf("expected embedded entries to be kept, got %+v", cfg.Calibration.Models)
	}
}

func TestLoadCalibrationRejectsNegativeConstant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	if err := os.WriteFile(path, []byte("models:\n  ArcFace: -1\n"), 0o644); err != nil {
		t.Fatalf("failed to write calibration: %v", err)
	}
	t.Setenv("CALIBRATION_FILE", path)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
