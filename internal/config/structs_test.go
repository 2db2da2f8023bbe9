package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigYAMLUnmarshaling(t *testing.T) {
	data := `
log_level: warn
engine:
  language: deu+eng
  tessdata_prefix: /opt/tessdata
  min_dimension: 800
  max_dimension: 3000
  page_seg_mode: 6
session:
  progress_interval: 500ms
server:
  cors_origin: https://example.org
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, EngineConfig{Language: "deu+eng", TessdataPrefix: "/opt/tessdata", MinDimension: 800, MaxDimension: 3000, PageSegMode: 6}, cfg.Engine)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.ProgressInterval)
	assert.Equal(t, "https://example.org", cfg.Server.CORSOrigin)
}

func TestConfigYAMLKeys(t *testing.T) {
	out, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(out, &generic))
	for _, key := range []string{"log_level", "verbose", "engine", "session", "output", "pdf", "server"} {
		assert.Contains(t, generic, key)
	}
	engine, ok := generic["engine"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, engine, "tessdata_prefix")
}

func TestConfigJSONKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 9090

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	server, ok := result["server"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 9090, server["port"], 0)
	assert.Contains(t, result, "pdf")
}
