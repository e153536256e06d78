package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration.
type Config struct {
	// Endpoint is the remote intake URL that receives the canonical payload.
	Endpoint string `json:"endpoint" env:"INTAKE_ENDPOINT"`

	// SubmitTimeoutSeconds bounds the outbound submission request.
	// A request that runs past it is aborted and reported as retryable.
	SubmitTimeoutSeconds int `json:"submit_timeout_seconds" env:"INTAKE_SUBMIT_TIMEOUT_SECONDS"`

	// MaxEdgePixels is the longest edge of a compressed photo.
	MaxEdgePixels int `json:"max_edge_pixels" env:"INTAKE_MAX_EDGE_PIXELS"`

	// JPEGQuality is the lossy quality factor in (0,1]. It is clamped to
	// [0.5, 0.92] by the compressor regardless of what is configured here.
	JPEGQuality float64 `json:"jpeg_quality" env:"INTAKE_JPEG_QUALITY"`

	// MinPhotos is the minimum number of photos a submission needs.
	MinPhotos int `json:"min_photos" env:"INTAKE_MIN_PHOTOS"`

	// MaxCurrentPhotos caps the "current hair" bucket.
	MaxCurrentPhotos int `json:"max_current_photos" env:"INTAKE_MAX_CURRENT_PHOTOS"`

	// MaxInspirationPhotos caps the "inspiration" bucket. Zero turns the
	// bucket off; nil means the default. Read it through InspirationCap.
	MaxInspirationPhotos *int `json:"max_inspiration_photos,omitempty" env:"INTAKE_MAX_INSPIRATION_PHOTOS"`

	// MinPhoneDigits is how many digits a phone value needs to pass the identity step.
	MinPhoneDigits int `json:"min_phone_digits" env:"INTAKE_MIN_PHONE_DIGITS"`

	// EnforcePhotoStepExit blocks leaving the photo step until MinPhotos is met.
	// When false, the minimum is only enforced at submission time.
	EnforcePhotoStepExit bool `json:"enforce_photo_step_exit,omitempty" env:"INTAKE_ENFORCE_PHOTO_STEP_EXIT"`

	// MaxUploadBytes limits a single photo upload request on the web surface.
	MaxUploadBytes int64 `json:"max_upload_bytes" env:"INTAKE_MAX_UPLOAD_BYTES"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" env:"INTAKE_DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" env:"INTAKE_DB_MAX_IDLE_CONNS"`

	// PhotoDirs lists absolute directories that photo files referenced by
	// MCP tools may be read from. ~/.intake/photos is always allowed.
	PhotoDirs []string `json:"photo_dirs,omitempty" env:"INTAKE_PHOTO_DIRS" envSeparator:","`

	// AllowUnsafePaths lifts the PhotoDirs restriction. Symlinks stay rejected.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" env:"INTAKE_ALLOW_UNSAFE_PATHS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" env:"INTAKE_DISABLED_TOOLS" envSeparator:","`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" env:"INTAKE_LOG_LEVEL"`

	// LogFormat is json or console.
	LogFormat string `json:"log_format,omitempty" env:"INTAKE_LOG_FORMAT"`
}

// DefaultMaxInspirationPhotos is the inspiration cap when none is configured.
const DefaultMaxInspirationPhotos = 1

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SubmitTimeoutSeconds: 30,
		MaxEdgePixels:        1600,
		JPEGQuality:          0.78,
		MinPhotos:            1,
		MaxCurrentPhotos:     2,
		MaxInspirationPhotos: intPtr(DefaultMaxInspirationPhotos),
		MinPhoneDigits:       7,
		MaxUploadBytes:       25 << 20,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// SubmitTimeout returns SubmitTimeoutSeconds as a duration.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

// InspirationCap returns the configured inspiration cap, which may be zero.
func (c *Config) InspirationCap() int {
	if c.MaxInspirationPhotos == nil {
		return DefaultMaxInspirationPhotos
	}
	return *c.MaxInspirationPhotos
}

// MaxPhotos is the cross-bucket photo cap.
func (c *Config) MaxPhotos() int {
	return c.MaxCurrentPhotos + c.InspirationCap()
}

// Load loads configuration from baseDir/config.json, then applies INTAKE_*
// environment overrides. Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.intake.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return applyEnv(cfg)
}

// LoadWithRepo loads configuration from both global (~/.intake) and deployment (.intake) directories.
// Deployment config is found by walking upward from startDir to find the nearest .intake/config.json.
// Deployment config takes precedence for scalar values; arrays are merged (deduplicated).
// Environment variables win over both.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return applyEnv(Merge(Merge(DefaultConfig(), global), repo))
}

// FindRepoConfig walks upward from startDir to find the nearest .intake/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".intake", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate rejects configurations the interview cannot run with.
func (c *Config) Validate() error {
	if c.MinPhotos < 1 {
		return fmt.Errorf("min_photos must be at least 1, got %d", c.MinPhotos)
	}
	if c.MaxCurrentPhotos < 1 {
		return fmt.Errorf("max_current_photos must be at least 1, got %d", c.MaxCurrentPhotos)
	}
	if c.InspirationCap() < 0 {
		return fmt.Errorf("max_inspiration_photos must not be negative, got %d", c.InspirationCap())
	}
	if c.MinPhotos > c.MaxPhotos() {
		return fmt.Errorf("min_photos (%d) exceeds the total photo cap (%d)", c.MinPhotos, c.MaxPhotos())
	}
	if c.SubmitTimeoutSeconds <= 0 {
		return fmt.Errorf("submit_timeout_seconds must be positive, got %d", c.SubmitTimeoutSeconds)
	}
	if c.MaxEdgePixels <= 0 {
		return fmt.Errorf("max_edge_pixels must be positive, got %d", c.MaxEdgePixels)
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// applyEnv overlays INTAKE_* environment variables onto cfg.
func applyEnv(cfg *Config) (*Config, error) {
	overlay := &Config{}
	if err := env.Parse(overlay); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return Merge(cfg, overlay), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Endpoint = firstString(overlay.Endpoint, base.Endpoint)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = firstString(overlay.LogFormat, base.LogFormat)

	result.SubmitTimeoutSeconds = firstInt(overlay.SubmitTimeoutSeconds, base.SubmitTimeoutSeconds)
	result.MaxEdgePixels = firstInt(overlay.MaxEdgePixels, base.MaxEdgePixels)
	result.MinPhotos = firstInt(overlay.MinPhotos, base.MinPhotos)
	result.MaxCurrentPhotos = firstInt(overlay.MaxCurrentPhotos, base.MaxCurrentPhotos)
	result.MaxInspirationPhotos = base.MaxInspirationPhotos
	if overlay.MaxInspirationPhotos != nil {
		result.MaxInspirationPhotos = intPtr(*overlay.MaxInspirationPhotos)
	}
	result.MinPhoneDigits = firstInt(overlay.MinPhoneDigits, base.MinPhoneDigits)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.JPEGQuality = overlay.JPEGQuality
	if result.JPEGQuality == 0 {
		result.JPEGQuality = base.JPEGQuality
	}
	result.MaxUploadBytes = overlay.MaxUploadBytes
	if result.MaxUploadBytes == 0 {
		result.MaxUploadBytes = base.MaxUploadBytes
	}

	// Booleans: overlay wins if true, else base
	result.EnforcePhotoStepExit = base.EnforcePhotoStepExit || overlay.EnforcePhotoStepExit
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.PhotoDirs = mergeStringSlice(base.PhotoDirs, overlay.PhotoDirs)

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func intPtr(n int) *int {
	return &n
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
