package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("remote.base_url is required. Set GENFETCH_BASE_URL or edit %s (create with 'genfetch config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Remote.BaseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("remote.base_url must be an absolute http(s) URL, got %q", c.Remote.BaseURL)
	}
	if c.Remote.RequestTimeoutSeconds <= 0 {
		return errors.New("remote.request_timeout_seconds must be positive")
	}
	if c.Remote.RetryAttempts < 1 {
		return errors.New("remote.retry_attempts must be >= 1")
	}
	return nil
}

func (c *Config) validateTransport() error {
	return ensurePositiveMap(map[string]int{
		"transport.max_leases":              c.Transport.MaxLeases,
		"transport.max_idle_conns_per_host": c.Transport.MaxIdleConnsPerHost,
		"quote.timeout_seconds":             c.Quote.TimeoutSeconds,
	})
}

func (c *Config) validateGeneration() error {
	if c.Generation.MaxVariations < 1 {
		return errors.New("generation.max_variations must be >= 1")
	}
	if len(c.Generation.DefaultMaterialChannels) == 0 {
		return errors.New("generation.default_material_channels must list at least one channel")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.MaxRetries < 0 {
		return errors.New("download.max_retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"download.retry_timeout_seconds":        c.Download.RetryTimeoutSeconds,
		"download.max_retry_timeout_seconds":    c.Download.MaxRetryTimeoutSeconds,
		"download.status_check_timeout_seconds": c.Download.StatusCheckTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Download.MaxRetryTimeoutSeconds < c.Download.RetryTimeoutSeconds {
		return errors.New("download.max_retry_timeout_seconds must be >= download.retry_timeout_seconds")
	}
	if c.Download.StatusCheckTimeoutSeconds > c.Download.RetryTimeoutSeconds {
		return errors.New("download.status_check_timeout_seconds must not exceed download.retry_timeout_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
