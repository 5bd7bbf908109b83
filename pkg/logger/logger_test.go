package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONWithServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blinkdb.log")
	log, err := New(Config{Level: "debug", Format: "json", OutputFile: path})
	require.NoError(t, err)

	log.Debug("root split")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	require.Equal(t, "root split", entry["msg"])
	require.Equal(t, "DEBUG", entry["level"])
	require.Equal(t, DefaultService, entry["service"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blinkdb.log")
	log, err := New(Config{Level: "chatty", OutputFile: path, Service: "bench"})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "hidden")
	require.Contains(t, string(data), "shown")
	require.Contains(t, string(data), `"service":"bench"`)
}

func TestNew_BadOutputFile(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
}

func TestNamed_ComponentLevelOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blinkdb.log")
	cfg := Config{
		Level:      "warn",
		OutputFile: path,
		Components: map[string]string{"blink": "debug", "lineproto": "error"},
	}
	root, err := New(cfg)
	require.NoError(t, err)

	root.Info("root info hidden")
	Named(root, cfg, "blink").Debug("blink debug shown")
	Named(root, cfg, "lineproto").Warn("lineproto warn hidden")
	Named(root, cfg, "bench").Warn("bench warn shown")
	require.NoError(t, root.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.NotContains(t, out, "root info hidden")
	require.NotContains(t, out, "lineproto warn hidden")
	require.Contains(t, out, "bench warn shown")
	require.Contains(t, out, "blink debug shown")
	require.Contains(t, out, `"logger":"blink"`)
	require.Contains(t, out, `"service":"blinkdb"`)
}
