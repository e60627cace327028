package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyland-inc/noderedmind/pkg/config"
)

const Logo = "🔴"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// ConfigPath overrides GetConfigPath when set by the --config flag.
var ConfigPath string

func GetConfigPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".noderedmind", "config.json")
}

func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(GetConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", GetConfigPath(), err)
	}
	return cfg, nil
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
