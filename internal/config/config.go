package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directories used by the pipeline.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	BackupDir string `toml:"backup_dir"`
}

// Remote contains connection settings for the generation service.
type Remote struct {
	BaseURL               string `toml:"base_url"`
	APIKey                string `toml:"api_key"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	RetryAttempts         int    `toml:"retry_attempts"`
	PollIntervalMillis    int    `toml:"poll_interval_millis"`
}

// Transport sizes the shared HTTP connection pool.
type Transport struct {
	MaxLeases           int `toml:"max_leases"`
	MaxIdleConnsPerHost int `toml:"max_idle_conns_per_host"`
}

// Quote contains cost estimation settings.
type Quote struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Generation contains request shaping limits.
type Generation struct {
	MaxVariations           int      `toml:"max_variations"`
	DefaultMaterialChannels []string `toml:"default_material_channels"`
}

// Download contains the retry and deadline policy for result retrieval.
//
// Attempt k of a batch receives min(retry_timeout * 2^k, max_retry_timeout)
// for the first group it resolves and status_check_timeout for every other
// group. The final attempt has no deadline.
type Download struct {
	MaxRetries                int `toml:"max_retries"`
	RetryTimeoutSeconds       int `toml:"retry_timeout_seconds"`
	MaxRetryTimeoutSeconds    int `toml:"max_retry_timeout_seconds"`
	StatusCheckTimeoutSeconds int `toml:"status_check_timeout_seconds"`
}

// Storage contains gocloud blob URLs for downloaded artifacts and asset targets.
type Storage struct {
	ArtifactsURL string `toml:"artifacts_url"`
	AssetsURL    string `toml:"assets_url"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for genfetch.
//
// Configuration sections by subsystem:
//   - Paths: state, output, log and backup directories
//   - Remote: generation service endpoint and credentials
//   - Transport: connection pool and lease limits
//   - Quote: cost estimation timeout
//   - Generation: variation and channel limits
//   - Download: retry count and deadline budgets
//   - Storage: artifact and asset blob locations
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Remote        Remote        `toml:"remote"`
	Transport     Transport     `toml:"transport"`
	Quote         Quote         `toml:"quote"`
	Generation    Generation    `toml:"generation"`
	Download      Download      `toml:"download"`
	Storage       Storage       `toml:"storage"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("genfetch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories the pipeline writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.OutputDir, c.Paths.BackupDir, c.ArtifactsDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RecoveryDBPath is the SQLite database backing the recovery log.
func (c *Config) RecoveryDBPath() string {
	return filepath.Join(c.Paths.StateDir, "recovery.db")
}

// LockPath is the file lock guarding resume and precache passes across processes.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "genfetch.lock")
}

// ArtifactsDir is the default local directory for downloaded artifact bytes.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.Paths.StateDir, "artifacts")
}

// RequestTimeout returns the per-request HTTP timeout for the remote service.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Remote.RequestTimeoutSeconds) * time.Second
}

// PollInterval returns how often pending download URLs are polled.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Remote.PollIntervalMillis) * time.Millisecond
}

// QuoteTimeout bounds a single cost estimation round trip.
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.Quote.TimeoutSeconds) * time.Second
}

// RetryTimeout is the base deadline for the first group of an attempt.
func (c *Config) RetryTimeout() time.Duration {
	return time.Duration(c.Download.RetryTimeoutSeconds) * time.Second
}

// MaxRetryTimeout caps the escalated first-group deadline.
func (c *Config) MaxRetryTimeout() time.Duration {
	return time.Duration(c.Download.MaxRetryTimeoutSeconds) * time.Second
}

// StatusCheckTimeout is the deadline for every group after the first in an attempt.
func (c *Config) StatusCheckTimeout() time.Duration {
	return time.Duration(c.Download.StatusCheckTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
