package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 6789, cfg.Port)
	assert.False(t, cfg.SSL)
	assert.Equal(t, "nodered", cfg.CertName)
	assert.Equal(t, "nodered", cfg.Username)
	assert.Equal(t, 50, cfg.Priority)
	assert.Equal(t, 15*time.Second, cfg.WaitTimeout())
	assert.True(t, cfg.EchoToOrigin)
	assert.Equal(t, BackendJSON, cfg.ClientDB.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultCertDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "hivemind"), DefaultCertDir())
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 6789, cfg.Port)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": 7000,
		"username": "flows",
		"blacklist": {"messages": ["speak", 42]},
		"timeout": 3
	}`), 0o600))

	t.Setenv("NODEREDMIND_HOST", "0.0.0.0")
	t.Setenv("NODEREDMIND_BLACKLIST_SKILLS", "a.skill,b.skill")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "flows", cfg.Username)
	assert.Equal(t, 3*time.Second, cfg.WaitTimeout())
	assert.Equal(t, FlexibleStringSlice{"speak", "42"}, cfg.Blacklist.Messages)
	assert.Equal(t, FlexibleStringSlice{"a.skill", "b.skill"}, cfg.Blacklist.Skills)
	assert.Equal(t, "0.0.0.0:7000", cfg.Addr())
	// untouched defaults survive the overlay
	assert.Equal(t, "nodered", cfg.CertName)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 0, "timeout": 0}`), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "timeout")

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateBackends(t *testing.T) {
	tests := []struct {
		name    string
		db      ClientDBConfig
		wantErr bool
	}{
		{"json", ClientDBConfig{Backend: BackendJSON, Path: "x.json"}, false},
		{"json without path", ClientDBConfig{Backend: BackendJSON}, true},
		{"redis", ClientDBConfig{Backend: BackendRedis, RedisURL: "redis://localhost:6379"}, false},
		{"redis without url", ClientDBConfig{Backend: BackendRedis}, true},
		{"postgres", ClientDBConfig{Backend: BackendPostgres, DatabaseURL: "postgres://x"}, false},
		{"unknown", ClientDBConfig{Backend: "sqlite"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ClientDB = tt.db
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.SSL = true
	cfg.Blacklist.Intents = FlexibleStringSlice{"x:y"}
	require.NoError(t, SaveConfig(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, loaded.SSL)
	assert.Equal(t, FlexibleStringSlice{"x:y"}, loaded.Blacklist.Intents)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), expandHome("~/x"))
	assert.Equal(t, "/abs", expandHome("/abs"))
	assert.Equal(t, "", expandHome(""))
}
