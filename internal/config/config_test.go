package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.ChunkSize)

	types, err := cfg.TagTypes()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultExcludedTagTypes, types)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", ConfigFile)

	cfg := Default()
	cfg.Listen = "127.0.0.1:9999"
	cfg.ExcludedTagTypes = []string{"builtin"}
	cfg.WebhookURLs = []string{"https://hooks.example.org/a"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("listen = \":1234\"\nlog_format = \"text\"\n"), 0600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", loaded.Listen)
	assert.Equal(t, "text", loaded.LogFormat)
	assert.Equal(t, 20, loaded.ChunkSize)
	assert.Equal(t, []string{"local", "builtin"}, loaded.ExcludedTagTypes)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("chunk_size = \"ten\"\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REFBRIDGE_LISTEN", ":7000")
	t.Setenv("REFBRIDGE_CHUNK_SIZE", "5")
	t.Setenv("REFBRIDGE_MAX_REQUEST_BODY", "2048")
	t.Setenv("REFBRIDGE_EXCLUDED_TAG_TYPES", "")
	t.Setenv("REFBRIDGE_WEBHOOK_URLS", "https://a.example.org, ,https://b.example.org")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, 5, cfg.ChunkSize)
	assert.Equal(t, int64(2048), cfg.MaxRequestBody)
	assert.Empty(t, cfg.ExcludedTagTypes)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.WebhookURLs)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	t.Setenv("REFBRIDGE_CHUNK_SIZE", "many")
	assert.Error(t, Default().ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen", func(c *Config) { c.Listen = "" }},
		{"tls half set", func(c *Config) { c.TLSCert = "cert.pem" }},
		{"zero chunk", func(c *Config) { c.ChunkSize = 0 }},
		{"bad tag type", func(c *Config) { c.ExcludedTagTypes = []string{"annotated"} }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "repo", "demo")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "msg=shown") && strings.Contains(out, "repo=demo"))
}
