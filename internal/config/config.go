package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/naocr/internal/engine/tesseract"
	"github.com/MeKo-Tech/naocr/internal/output"
)

// Config represents the complete configuration for the naocr application.
// It covers every command (files, pdf, screen, serve) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine" json:"engine"`
	Session SessionConfig `mapstructure:"session" yaml:"session" json:"session"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output" json:"output"`
	PDF     PDFConfig     `mapstructure:"pdf" yaml:"pdf" json:"pdf"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// EngineConfig contains OCR engine settings.
type EngineConfig struct {
	Language       string `mapstructure:"language" yaml:"language" json:"language"`
	TessdataPrefix string `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	MinDimension   int    `mapstructure:"min_dimension" yaml:"min_dimension" json:"min_dimension"`
	MaxDimension   int    `mapstructure:"max_dimension" yaml:"max_dimension" json:"max_dimension"`
	PageSegMode    int    `mapstructure:"page_seg_mode" yaml:"page_seg_mode" json:"page_seg_mode"`
}

// SessionConfig contains multi-page session settings.
type SessionConfig struct {
	// ProgressInterval is the minimum time between progress reports. Zero
	// reports before every page.
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval" json:"progress_interval"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// PDFConfig contains PDF page extraction settings.
type PDFConfig struct {
	PageRange string `mapstructure:"page_range" yaml:"page_range" json:"page_range"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// BaseDir confines the page paths WebSocket clients may name.
	BaseDir   string          `mapstructure:"base_dir" yaml:"base_dir" json:"base_dir"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig limits recognition runs per client IP. Zero limits are
// not enforced.
type RateLimitConfig struct {
	Enabled       bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RunsPerMinute int   `mapstructure:"runs_per_minute" yaml:"runs_per_minute" json:"runs_per_minute"`
	RunsPerHour   int   `mapstructure:"runs_per_hour" yaml:"runs_per_hour" json:"runs_per_hour"`
	MaxRunsPerDay int   `mapstructure:"max_runs_per_day" yaml:"max_runs_per_day" json:"max_runs_per_day"`
	MaxDataPerDay int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	eng := tesseract.DefaultOptions()
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			Language:     eng.Language,
			MinDimension: eng.MinDimension,
			MaxDimension: eng.MaxDimension,
			PageSegMode:  eng.PageSegMode,
		},
		Session: SessionConfig{
			ProgressInterval: time.Second,
		},
		Output: OutputConfig{
			Format: output.FormatText,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      120,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				RunsPerMinute: 60,
				RunsPerHour:   1000,
				MaxDataPerDay: 1 << 30,
			},
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if err := c.validateBasicEnums(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if c.Session.ProgressInterval < 0 {
		return fmt.Errorf("invalid progress interval: %v (must not be negative)", c.Session.ProgressInterval)
	}
	return c.validateServer()
}

func (c *Config) validateBasicEnums() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Output.Format != "" && !output.ValidFormat(c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(output.Formats, ", "))
	}
	return nil
}

func (c *Config) validateEngine() error {
	if _, err := tesseract.Languages(c.Engine.Language); err != nil {
		return fmt.Errorf("invalid engine language: %w", err)
	}
	if c.Engine.MinDimension < 0 || c.Engine.MaxDimension < 0 {
		return fmt.Errorf("invalid engine dimensions: min=%d max=%d (must not be negative)", c.Engine.MinDimension, c.Engine.MaxDimension)
	}
	if c.Engine.MaxDimension > 0 && c.Engine.MinDimension > c.Engine.MaxDimension {
		return fmt.Errorf("invalid engine dimensions: min_dimension %d exceeds max_dimension %d", c.Engine.MinDimension, c.Engine.MaxDimension)
	}
	if c.Engine.PageSegMode < 0 || c.Engine.PageSegMode > 13 {
		return fmt.Errorf("invalid page segmentation mode: %d (must be between 0 and 13)", c.Engine.PageSegMode)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}
	if c.Server.BaseDir != "" {
		fi, err := os.Stat(c.Server.BaseDir)
		if err != nil {
			return fmt.Errorf("invalid base dir: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("invalid base dir: %s is not a directory", c.Server.BaseDir)
		}
	}
	rl := c.Server.RateLimit
	if rl.RunsPerMinute < 0 || rl.RunsPerHour < 0 || rl.MaxRunsPerDay < 0 || rl.MaxDataPerDay < 0 {
		return errors.New("invalid rate limit: limits must not be negative")
	}
	return nil
}

// EngineOptions converts the engine section into tesseract options.
func (c *Config) EngineOptions() tesseract.Options {
	return tesseract.Options{
		Language:       c.Engine.Language,
		TessdataPrefix: c.Engine.TessdataPrefix,
		MinDimension:   c.Engine.MinDimension,
		MaxDimension:   c.Engine.MaxDimension,
		PageSegMode:    c.Engine.PageSegMode,
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
