package internal

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigPath(t *testing.T) {
	t.Cleanup(func() { ConfigPath = "" })

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".noderedmind", "config.json"), GetConfigPath())

	ConfigPath = "/etc/noderedmind.json"
	assert.Equal(t, "/etc/noderedmind.json", GetConfigPath())
}

func TestLoadConfigFromFlagPath(t *testing.T) {
	t.Cleanup(func() { ConfigPath = "" })
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 7001, "username": "flows"}`), 0o600))

	ConfigPath = path
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Port)
	assert.Equal(t, "flows", cfg.Username)
}

func TestFormatVersion(t *testing.T) {
	oldVersion, oldCommit := version, gitCommit
	t.Cleanup(func() { version, gitCommit = oldVersion, oldCommit })

	version, gitCommit = "1.2.3", ""
	assert.Equal(t, "1.2.3", FormatVersion())

	gitCommit = "abc123"
	assert.Equal(t, "1.2.3 (git: abc123)", FormatVersion())
}

func TestFormatBuildInfo(t *testing.T) {
	oldBuild, oldGo := buildTime, goVersion
	t.Cleanup(func() { buildTime, goVersion = oldBuild, oldGo })

	buildTime, goVersion = "2026-01-01", ""
	build, goVer := FormatBuildInfo()
	assert.Equal(t, "2026-01-01", build)
	assert.Equal(t, runtime.Version(), goVer)
}
