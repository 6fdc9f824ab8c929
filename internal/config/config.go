// Package config loads the server configuration from defaults, an optional
// TOML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "ANKI_MCP_CONFIG"

// MaxRetriesLimit bounds MaxRetries. At the default one second base delay
// the last wait is already over six days.
const MaxRetriesLimit = 20

// maxSeconds is the largest number of seconds a Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// Duration wraps time.Duration so it can be written as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds everything needed to talk to AnkiConnect and run the server.
type Config struct {
	AnkiConnectURL  string   `toml:"anki_connect_url"`
	Version         int      `toml:"anki_connect_version"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ConnectTimeout  Duration `toml:"connection_timeout"`
	PoolTimeout     Duration `toml:"pool_timeout"`
	MaxRetries      int      `toml:"max_retries"`
	RetryDelay      Duration `toml:"retry_delay"`
	DefaultNoteType string   `toml:"default_note_type"`
	MaxConcurrent   int      `toml:"max_concurrent_requests"`
	RateLimit       float64  `toml:"rate_limit"`
	LogLevel        string   `toml:"log_level"`
	LogFormat       string   `toml:"log_format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		AnkiConnectURL:  "http://localhost:8765",
		Version:         6,
		RequestTimeout:  Duration{30 * time.Second},
		ConnectTimeout:  Duration{10 * time.Second},
		MaxRetries:      3,
		RetryDelay:      Duration{time.Second},
		DefaultNoteType: "Basic",
		MaxConcurrent:   10,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load builds the configuration. An empty path falls back to ANKI_MCP_CONFIG;
// if that is empty too, no file is read.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup(EnvConfigPath)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
			return
		}
		*dst = f
	}
	// Durations in the environment are given in (fractional) seconds.
	seconds := func(key string, dst *Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number of seconds", key, v))
			return
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxSeconds {
			errs = append(errs, fmt.Errorf("%s: %q is out of range", key, v))
			return
		}
		dst.Duration = time.Duration(f * float64(time.Second))
	}

	str("ANKI_CONNECT_URL", &c.AnkiConnectURL)
	integer("ANKI_CONNECT_VERSION", &c.Version)
	seconds("REQUEST_TIMEOUT", &c.RequestTimeout)
	seconds("CONNECTION_TIMEOUT", &c.ConnectTimeout)
	seconds("POOL_TIMEOUT", &c.PoolTimeout)
	integer("MAX_RETRIES", &c.MaxRetries)
	seconds("RETRY_DELAY", &c.RetryDelay)
	str("DEFAULT_NOTE_TYPE", &c.DefaultNoteType)
	integer("MAX_CONCURRENT_REQUESTS", &c.MaxConcurrent)
	float("RATE_LIMIT", &c.RateLimit)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.AnkiConnectURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("anki connect url %q must be an absolute http(s) URL", c.AnkiConnectURL))
	}
	if c.Version <= 0 {
		errs = append(errs, errors.New("anki connect version must be greater than 0"))
	}
	if c.RequestTimeout.Duration <= 0 {
		errs = append(errs, errors.New("request timeout must be greater than 0"))
	}
	if c.ConnectTimeout.Duration <= 0 {
		errs = append(errs, errors.New("connection timeout must be greater than 0"))
	}
	if c.PoolTimeout.Duration < 0 {
		errs = append(errs, errors.New("pool timeout must not be negative"))
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetriesLimit {
		errs = append(errs, fmt.Errorf("max retries must be between 0 and %d", MaxRetriesLimit))
	}
	if c.RetryDelay.Duration < 0 {
		errs = append(errs, errors.New("retry delay must not be negative"))
	}
	if strings.TrimSpace(c.DefaultNoteType) == "" {
		errs = append(errs, errors.New("default note type must not be empty"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("max concurrent requests must be greater than 0"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IdleTimeout is how long a pooled connection may sit unused. A zero
// PoolTimeout means the request timeout.
func (c *Config) IdleTimeout() time.Duration {
	if c.PoolTimeout.Duration == 0 {
		return c.RequestTimeout.Duration
	}
	return c.PoolTimeout.Duration
}

// MaxAttempts is the initial attempt plus the configured retries.
func (c *Config) MaxAttempts() int {
	return c.MaxRetries + 1
}

// Summary returns the settings worth reporting to a user, keyed by their
// environment variable names.
func (c *Config) Summary() map[string]string {
	return map[string]string{
		"ANKI_CONNECT_URL":        c.AnkiConnectURL,
		"ANKI_CONNECT_VERSION":    strconv.Itoa(c.Version),
		"REQUEST_TIMEOUT":         c.RequestTimeout.String(),
		"CONNECTION_TIMEOUT":      c.ConnectTimeout.String(),
		"POOL_TIMEOUT":            c.IdleTimeout().String(),
		"MAX_RETRIES":             strconv.Itoa(c.MaxRetries),
		"RETRY_DELAY":             c.RetryDelay.String(),
		"DEFAULT_NOTE_TYPE":       c.DefaultNoteType,
		"MAX_CONCURRENT_REQUESTS": strconv.Itoa(c.MaxConcurrent),
		"RATE_LIMIT":              strconv.FormatFloat(c.RateLimit, 'f', -1, 64),
		"LOG_LEVEL":               c.LogLevel,
	}
}
