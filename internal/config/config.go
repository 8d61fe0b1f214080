// Package config manages the refbridge-server configuration file. Settings
// come from defaults, then an optional TOML file, then REFBRIDGE_*
// environment variables; command-line flags are applied last by the caller.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile = "refbridge.toml"
	ReposDir   = "repos"
	TokensFile = "tokens.json"

	envPrefix = "REFBRIDGE_"
)

// Config represents the server configuration
type Config struct {
	Listen            string   `toml:"listen"`
	DataDir           string   `toml:"data_dir"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	TLSCert           string   `toml:"tls_cert,omitempty"`
	TLSKey            string   `toml:"tls_key,omitempty"`
	ChunkSize         int      `toml:"chunk_size"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	MaxRequestBody    int64    `toml:"max_request_body"`
	ExcludedTagTypes  []string `toml:"excluded_tag_types"`
	AdminToken        string   `toml:"admin_token,omitempty"`
	WebhookURLs       []string `toml:"webhook_urls,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	excluded := make([]string, len(models.DefaultExcludedTagTypes))
	for i, t := range models.DefaultExcludedTagTypes {
		excluded[i] = string(t)
	}
	return &Config{
		Listen:            "0.0.0.0:8720",
		DataDir:           "/var/lib/refbridge-server",
		LogLevel:          "info",
		LogFormat:         "json",
		ChunkSize:         20,
		RequestsPerMinute: 300,
		MaxRequestBody:    1 << 20,
		ExcludedTagTypes:  excluded,
	}
}

// Load overlays the TOML file at path on the defaults. A missing file is
// an error; callers that treat the file as optional check first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file may hold the admin token.
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overlays REFBRIDGE_* environment variables. List values are
// comma separated.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"LISTEN":      &c.Listen,
		"DATA_DIR":    &c.DataDir,
		"LOG_LEVEL":   &c.LogLevel,
		"LOG_FORMAT":  &c.LogFormat,
		"TLS_CERT":    &c.TLSCert,
		"TLS_KEY":     &c.TLSKey,
		"ADMIN_TOKEN": &c.AdminToken,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CHUNK_SIZE":          &c.ChunkSize,
		"REQUESTS_PER_MINUTE": &c.RequestsPerMinute,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv(envPrefix + "MAX_REQUEST_BODY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_REQUEST_BODY: %w", envPrefix, err)
		}
		c.MaxRequestBody = n
	}

	if v, ok := os.LookupEnv(envPrefix + "EXCLUDED_TAG_TYPES"); ok {
		c.ExcludedTagTypes = SplitList(v)
	}
	if v := os.Getenv(envPrefix + "WEBHOOK_URLS"); v != "" {
		c.WebhookURLs = SplitList(v)
	}
	return nil
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values the server cannot start with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxRequestBody < 1 {
		return fmt.Errorf("max_request_body must be positive, got %d", c.MaxRequestBody)
	}
	if _, err := c.TagTypes(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// TagTypes returns the excluded tag types. An empty list excludes nothing.
func (c *Config) TagTypes() ([]models.TagType, error) {
	types := make([]models.TagType, 0, len(c.ExcludedTagTypes))
	for _, s := range c.ExcludedTagTypes {
		t, ok := models.ParseTagType(s)
		if !ok {
			return nil, fmt.Errorf("unknown tag type %q", s)
		}
		types = append(types, t)
	}
	return types, nil
}

// ReposPath returns the directory holding one subdirectory per repository.
func (c *Config) ReposPath() string {
	return filepath.Join(c.DataDir, ReposDir)
}

// TokensPath returns the path of the token store file.
func (c *Config) TokensPath() string {
	return filepath.Join(c.DataDir, TokensFile)
}

// ParseLevel maps a log level name onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger builds the server logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
