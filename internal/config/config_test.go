package config

import (
	"os"
	"testing"
	"time"
)

const (
	infoLevel  = "info"
	debugLevel = "debug"
)

// TestDefaultConfig verifies that DefaultConfig returns expected values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected log_level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Verbose {
		t.Error("Expected verbose to be false")
	}
	if cfg.Engine.Language != "eng" {
		t.Errorf("Expected engine language 'eng', got %s", cfg.Engine.Language)
	}
	if cfg.Session.ProgressInterval != time.Second {
		t.Errorf("Expected progress interval 1s, got %v", cfg.Session.ProgressInterval)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("Expected output format 'text', got %s", cfg.Output.Format)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected server port 8080, got %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

// TestValidateBasicEnums tests log level and output format validation.
func TestValidateBasicEnums(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		format    string
		wantError bool
	}{
		{"valid log level and format", infoLevel, "text", false},
		{"valid debug", debugLevel, "json", false},
		{"valid warn", "warn", "csv", false},
		{"invalid log level", "invalid", "text", true},
		{"invalid format", infoLevel, "xml", true},
		{"empty format is valid", infoLevel, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = tt.logLevel
			cfg.Output.Format = tt.format

			err := cfg.validateBasicEnums()
			if (err != nil) != tt.wantError {
				t.Errorf("validateBasicEnums() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

// TestValidate covers the engine, session and server sections.
func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*Config)
		wantError bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bcp47 language", func(c *Config) { c.Engine.Language = "de+en" }, false},
		{"bad language", func(c *Config) { c.Engine.Language = "not a language" }, true},
		{"negative min dimension", func(c *Config) { c.Engine.MinDimension = -1 }, true},
		{"min above max", func(c *Config) { c.Engine.MinDimension, c.Engine.MaxDimension = 500, 100 }, true},
		{"unbounded max", func(c *Config) { c.Engine.MaxDimension = 0 }, false},
		{"page seg mode out of range", func(c *Config) { c.Engine.PageSegMode = 14 }, true},
		{"zero progress interval", func(c *Config) { c.Session.ProgressInterval = 0 }, false},
		{"negative progress interval", func(c *Config) { c.Session.ProgressInterval = -time.Second }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }, true},
		{"zero timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, true},
		{"negative shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = -1 }, true},
		{"existing base dir", func(c *Config) { c.Server.BaseDir = os.TempDir() }, false},
		{"missing base dir", func(c *Config) { c.Server.BaseDir = "/does/not/exist" }, true},
		{"negative runs per minute", func(c *Config) { c.Server.RateLimit.RunsPerMinute = -1 }, true},
		{"negative data quota", func(c *Config) { c.Server.RateLimit.MaxDataPerDay = -1 }, true},
		{"unlimited rate", func(c *Config) { c.Server.RateLimit = RateLimitConfig{Enabled: true} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

// TestEngineOptions verifies the engine section conversion.
func TestEngineOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Language = "deu"
	cfg.Engine.TessdataPrefix = "/usr/share/tessdata"
	cfg.Engine.PageSegMode = 6

	opts := cfg.EngineOptions()
	if opts.Language != "deu" || opts.TessdataPrefix != "/usr/share/tessdata" || opts.PageSegMode != 6 {
		t.Errorf("Unexpected engine options: %+v", opts)
	}
	if opts.MinDimension != cfg.Engine.MinDimension || opts.MaxDimension != cfg.Engine.MaxDimension {
		t.Errorf("Dimension bounds not carried over: %+v", opts)
	}
}
