package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envMap builds a lookup function backed by a map so tests never touch the
// process environment.
func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8765", cfg.AnkiConnectURL)
	assert.Equal(t, 6, cfg.Version)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout(), "pool timeout falls back to the request timeout")
	assert.Equal(t, 4, cfg.MaxAttempts())
	assert.Equal(t, time.Second, cfg.RetryDelay.Duration)
	assert.Equal(t, "Basic", cfg.DefaultNoteType)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Zero(t, cfg.RateLimit)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{
		"ANKI_CONNECT_URL":        "http://127.0.0.1:9999",
		"ANKI_CONNECT_VERSION":    "5",
		"REQUEST_TIMEOUT":         "2.5",
		"CONNECTION_TIMEOUT":      "1",
		"POOL_TIMEOUT":            "7",
		"MAX_RETRIES":             "0",
		"RETRY_DELAY":             "0.25",
		"DEFAULT_NOTE_TYPE":       "Cloze",
		"MAX_CONCURRENT_REQUESTS": "3",
		"RATE_LIMIT":              "20",
		"LOG_LEVEL":               "debug",
		"LOG_FORMAT":              "json",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9999", cfg.AnkiConnectURL)
	assert.Equal(t, 5, cfg.Version)
	assert.Equal(t, 2500*time.Millisecond, cfg.RequestTimeout.Duration)
	assert.Equal(t, time.Second, cfg.ConnectTimeout.Duration)
	assert.Equal(t, 7*time.Second, cfg.IdleTimeout())
	assert.Equal(t, 1, cfg.MaxAttempts())
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay.Duration)
	assert.Equal(t, "Cloze", cfg.DefaultNoteType)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 20.0, cfg.RateLimit)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anki-mcp.toml")
	content := `
anki_connect_url = "http://anki.local:8765"
request_timeout = "5s"
max_retries = 1
default_note_type = "Basic (and reversed card)"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := load("", envMap(map[string]string{
		EnvConfigPath: path,
		"MAX_RETRIES": "2",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://anki.local:8765", cfg.AnkiConnectURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout.Duration)
	assert.Equal(t, 2, cfg.MaxRetries, "environment wins over the file")
	assert.Equal(t, "Basic (and reversed card)", cfg.DefaultNoteType)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.toml"), envMap(nil))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero version", map[string]string{"ANKI_CONNECT_VERSION": "0"}},
		{"non-numeric version", map[string]string{"ANKI_CONNECT_VERSION": "six"}},
		{"zero request timeout", map[string]string{"REQUEST_TIMEOUT": "0"}},
		{"negative connect timeout", map[string]string{"CONNECTION_TIMEOUT": "-1"}},
		{"negative retries", map[string]string{"MAX_RETRIES": "-1"}},
		{"too many retries", map[string]string{"MAX_RETRIES": "70"}},
		{"retry delay beyond a duration", map[string]string{"RETRY_DELAY": "1e12"}},
		{"infinite request timeout", map[string]string{"REQUEST_TIMEOUT": "+Inf"}},
		{"nan retry delay", map[string]string{"RETRY_DELAY": "NaN"}},
		{"negative retry delay", map[string]string{"RETRY_DELAY": "-0.5"}},
		{"zero concurrency", map[string]string{"MAX_CONCURRENT_REQUESTS": "0"}},
		{"negative rate limit", map[string]string{"RATE_LIMIT": "-3"}},
		{"relative url", map[string]string{"ANKI_CONNECT_URL": "localhost:8765"}},
		{"unknown log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"unknown log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"blank note type", map[string]string{"DEFAULT_NOTE_TYPE": "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load("", envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_RetryLimitIsAccepted(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{"MAX_RETRIES": "20"}))
	require.NoError(t, err)
	assert.Equal(t, MaxRetriesLimit+1, cfg.MaxAttempts())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration{2 * time.Second}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
