package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/example/faceverify/internal/matcher"
)

//go:embed calibration.yaml
var calibrationYAML []byte

var validate = validator.New()

type Config struct {
	HTTP        HTTPConfig
	Auth        AuthConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Face        FaceConfig
	References  ReferencesConfig
	Calibration CalibrationConfig
	LogLevel    string `validate:"oneof=debug info warn error"`
}

type HTTPConfig struct {
	Addr            string        `validate:"required"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	AllowedOrigins  []string
}

type AuthConfig struct {
	JWTSecret   string `validate:"required"`
	JWTAudience string
}

type DatabaseConfig struct {
	DSN          string `validate:"required"`
	MaxIdleConns int    `validate:"gte=1"`
	MaxOpenConns int    `validate:"gte=1"`
}

type RedisConfig struct {
	Addr string `validate:"required"`
}

// FaceConfig selects the face analysis backend and the matching parameters.
type FaceConfig struct {
	Backend          string `validate:"oneof=deepface grpc"`
	DeepFaceURL      string `validate:"required_if=Backend deepface"`
	GRPCAddr         string `validate:"required_if=Backend grpc"`
	Model            string `validate:"required"`
	Detector         string `validate:"required"`
	EnforceDetection bool
	Normalization    string
	// MatchThreshold is the minimum similarity percentage of a match.
	MatchThreshold float64       `validate:"gte=0,lte=100"`
	PairTimeout    time.Duration `validate:"gte=0"`
	Workers        int           `validate:"gte=1,lte=64"`
}

type ReferencesConfig struct {
	Dir          string `validate:"required"`
	MaxDimension int    `validate:"gte=0"`
	JPEGQuality  int    `validate:"gte=1,lte=100"`
	// MaxPixels is the largest width*height accepted for decoding.
	MaxPixels int `validate:"gte=0"`
}

// CalibrationConfig is the per-model normalization distance table.
type CalibrationConfig struct {
	Default float64            `yaml:"default" validate:"gt=0"`
	Models  map[string]float64 `yaml:"models" validate:"dive,gt=0"`
}

// env collects parse errors while reading typed environment variables.
type env struct {
	errs []error
}

func (e *env) getString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func (e *env) getInt(key string, defaultVal int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return n
}

func (e *env) getFloat(key string, defaultVal float64) float64 {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return f
}

func (e *env) getBool(key string, defaultVal bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return b
}

func (e *env) getDuration(key string, defaultVal time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return d
}

func (e *env) getList(key string, defaultVal []string) []string {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	e := &env{}

	calibration, err := loadCalibration(e.getString("CALIBRATION_FILE", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            e.getString("HTTP_ADDR", ":8080"),
			ShutdownTimeout: e.getDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  e.getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Auth: AuthConfig{
			JWTSecret:   e.getString("JWT_SECRET", "dev-secret"),
			JWTAudience: e.getString("JWT_AUDIENCE", ""),
		},
		Database: DatabaseConfig{
			DSN:          e.getString("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceverify port=5432 sslmode=disable"),
			MaxIdleConns: e.getInt("DATABASE_MAX_IDLE_CONNS", 5),
			MaxOpenConns: e.getInt("DATABASE_MAX_OPEN_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr: e.getString("REDIS_ADDR", "redis:6379"),
		},
		Face: FaceConfig{
			Backend:          strings.ToLower(e.getString("FACE_BACKEND", "deepface")),
			DeepFaceURL:      e.getString("DEEPFACE_URL", "http://deepface:5000"),
			GRPCAddr:         e.getString("FACE_ANALYSIS_ADDR", "face-analysis:50051"),
			Model:            e.getString("FACE_MODEL", "Facenet512"),
			Detector:         e.getString("FACE_DETECTOR", "retinaface"),
			EnforceDetection: e.getBool("FACE_ENFORCE_DETECTION", true),
			Normalization:    e.getString("FACE_NORMALIZATION", "Facenet"),
			MatchThreshold:   e.getFloat("MATCH_THRESHOLD", 55),
			PairTimeout:      e.getDuration("PAIR_TIMEOUT", 30*time.Second),
			Workers:          e.getInt("MATCH_WORKERS", 1),
		},
		References: ReferencesConfig{
			Dir:          e.getString("REFERENCE_DIR", "data/reference_faces"),
			MaxDimension: e.getInt("REFERENCE_MAX_DIMENSION", 1920),
			JPEGQuality:  e.getInt("REFERENCE_JPEG_QUALITY", 92),
			MaxPixels:    e.getInt("IMAGE_MAX_PIXELS", 50_000_000),
		},
		Calibration: calibration,
		LogLevel:    strings.ToLower(e.getString("LOG_LEVEL", "info")),
	}

	if len(e.errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %w", errors.Join(e.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its validation tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// MatcherSettings returns the immutable settings passed to the matcher.
func (c *Config) MatcherSettings() matcher.Settings {
	models := make(map[string]float64, len(c.Calibration.Models))
	for name, d := range c.Calibration.Models {
		models[name] = d
	}
	return matcher.Settings{
		Model:            c.Face.Model,
		Detector:         c.Face.Detector,
		EnforceDetection: c.Face.EnforceDetection,
		Normalization:    c.Face.Normalization,
		PairTimeout:      c.Face.PairTimeout,
		Workers:          c.Face.Workers,
		Calibration: matcher.Calibration{
			Default: c.Calibration.Default,
			Models:  models,
		},
	}
}

// loadCalibration parses the embedded table and overlays the file at path.
func loadCalibration(path string) (CalibrationConfig, error) {
	var calibration CalibrationConfig
	if err := yaml.Unmarshal(calibrationYAML, &calibration); err != nil {
		// The table is embedded, so this only fails on a broken build.
		panic("failed to unmarshal embedded calibration.yaml: " + err.Error())
	}
	if path == "" {
		return calibration, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CalibrationConfig{}, fmt.Errorf("read calibration file: %w", err)
	}
	var overlay CalibrationConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return CalibrationConfig{}, fmt.Errorf("parse calibration file %s: %w", path, err)
	}
	if overlay.Default != 0 {
		calibration.Default = overlay.Default
	}
	for name, d := range overlay.Models {
		calibration.Models[name] = d
	}
	return calibration, nil
}
