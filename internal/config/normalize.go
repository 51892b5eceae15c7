package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRemote()
	c.normalizeGeneration()
	c.normalizeStorage()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BackupDir) == "" && c.Paths.StateDir != "" {
		c.Paths.BackupDir = filepath.Join(c.Paths.StateDir, "backups")
	}
	if c.Paths.BackupDir, err = expandPath(strings.TrimSpace(c.Paths.BackupDir)); err != nil {
		return fmt.Errorf("paths.backup_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRemote() {
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	if c.Remote.BaseURL == "" {
		if value, ok := os.LookupEnv("GENFETCH_BASE_URL"); ok {
			c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	c.Remote.APIKey = strings.TrimSpace(c.Remote.APIKey)
	if c.Remote.APIKey == "" {
		if value, ok := os.LookupEnv("GENFETCH_API_KEY"); ok {
			c.Remote.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Remote.PollIntervalMillis <= 0 {
		c.Remote.PollIntervalMillis = defaultRemotePollIntervalMillis
	}
}

func (c *Config) normalizeGeneration() {
	channels := make([]string, 0, len(c.Generation.DefaultMaterialChannels))
	seen := make(map[string]struct{}, len(c.Generation.DefaultMaterialChannels))
	for _, channel := range c.Generation.DefaultMaterialChannels {
		channel = strings.ToLower(strings.TrimSpace(channel))
		if channel == "" {
			continue
		}
		if _, ok := seen[channel]; ok {
			continue
		}
		seen[channel] = struct{}{}
		channels = append(channels, channel)
	}
	c.Generation.DefaultMaterialChannels = channels
}

func (c *Config) normalizeStorage() {
	c.Storage.ArtifactsURL = strings.TrimSpace(c.Storage.ArtifactsURL)
	if c.Storage.ArtifactsURL == "" {
		c.Storage.ArtifactsURL = fileBucketURL(c.ArtifactsDir())
	}
	c.Storage.AssetsURL = strings.TrimSpace(c.Storage.AssetsURL)
	if c.Storage.AssetsURL == "" {
		c.Storage.AssetsURL = fileBucketURL(c.Paths.OutputDir)
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func fileBucketURL(dir string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}
	return u.String()
}
