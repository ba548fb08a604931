package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedDateLocales = map[string]struct{}{
	"fr": {},
	"en": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.IncomingDir) == "" {
		return errors.New("paths.incoming_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	return nil
}

func (c *Config) validateMatching() error {
	if c.Matching.WindowToleranceMinutes < 1 || c.Matching.WindowToleranceMinutes > 120 {
		return fmt.Errorf("matching.window_tolerance_minutes must be between 1 and 120, got %d", c.Matching.WindowToleranceMinutes)
	}
	if _, ok := supportedDateLocales[c.Matching.DateTokenLocale]; !ok {
		return fmt.Errorf("matching.date_token_locale: unsupported locale %q", c.Matching.DateTokenLocale)
	}
	return nil
}

func (c *Config) validateRemote() error {
	if !c.Remote.Enabled {
		return nil
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url must be set when remote storage is enabled")
	}
	parsed, err := url.Parse(c.Remote.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.base_url %q is not a valid URL", c.Remote.BaseURL)
	}
	if c.Remote.Bucket == "" {
		return errors.New("remote.bucket must be set when remote storage is enabled")
	}
	if c.Remote.RequestTimeout <= 0 {
		return errors.New("remote.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.SettleSeconds < 0 {
		return errors.New("workflow.settle_seconds must not be negative")
	}
	if c.Workflow.OperationTimeout <= 0 {
		return errors.New("workflow.operation_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}
