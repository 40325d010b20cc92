// ABOUTME: Tests for the larder binary's init command and log handler
// ABOUTME: Runs init against scripted answers in a temp directory

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/larder/internal/config"
)

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "larder.yaml")
	dbPath := filepath.Join(dir, "data", "larder.db")

	answers := strings.Join([]string{
		cfgPath,
		"127.0.0.1:9090",
		"https://larder.example.com",
		"https://app.example.com",
		dbPath,
		"no",
		"debug",
		"json",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+cfgPath)

	info, err := os.Stat(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.DirExists(t, filepath.Join(dir, "data"))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "https://larder.example.com", cfg.WebAuthn.BaseURL)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.GreaterOrEqual(t, len(cfg.Sync.TicketSecret), 32)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "larder.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("original"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(cfgPath+"\nno\n"), &out))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestNewTicketSecret_Unique(t *testing.T) {
	a, err := newTicketSecret()
	require.NoError(t, err)
	b, err := newTicketSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 44)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.With("component", "auth").WithGroup("req").Warn("slow", "ms", 120)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "slow")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "req.ms=")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
}
