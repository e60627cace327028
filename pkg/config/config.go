package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so blacklist entries can be written as "123" or 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Host      string `env:"NODEREDMIND_HOST"       json:"host"`
	Port      int    `env:"NODEREDMIND_PORT"       json:"port"`
	SSL       bool   `env:"NODEREDMIND_SSL"        json:"ssl"`
	CertDir   string `env:"NODEREDMIND_CERT_DIR"   json:"cert_dir"`
	CertName  string `env:"NODEREDMIND_CERT_NAME"  json:"cert_name"`
	Username  string `env:"NODEREDMIND_USERNAME"   json:"username"`
	Password  string `env:"NODEREDMIND_PASSWORD"   json:"password,omitempty"`
	AccessKey string `env:"NODEREDMIND_ACCESS_KEY" json:"access_key,omitempty"`

	Blacklist BlacklistConfig `json:"blacklist"`

	// Timeout is the interaction wait bound in seconds.
	Timeout  int `env:"NODEREDMIND_TIMEOUT"  json:"timeout"`
	Priority int `env:"NODEREDMIND_PRIORITY" json:"priority"`

	ClientDB ClientDBConfig `json:"client_db"`
	MDNS     MDNSConfig     `json:"mdns"`

	MetricsEnabled bool   `env:"NODEREDMIND_METRICS_ENABLED" json:"metrics_enabled"`
	EchoToOrigin   bool   `env:"NODEREDMIND_ECHO_TO_ORIGIN"  json:"echo_to_origin"`
	LogFormat      string `env:"NODEREDMIND_LOG_FORMAT"      json:"log_format"`
}

type BlacklistConfig struct {
	Messages FlexibleStringSlice `env:"NODEREDMIND_BLACKLIST_MESSAGES" json:"messages"`
	Skills   FlexibleStringSlice `env:"NODEREDMIND_BLACKLIST_SKILLS"   json:"skills"`
	Intents  FlexibleStringSlice `env:"NODEREDMIND_BLACKLIST_INTENTS"  json:"intents"`
}

// Client store backends.
const (
	BackendJSON     = "json"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type ClientDBConfig struct {
	Backend     string `env:"NODEREDMIND_CLIENT_DB_BACKEND" json:"backend"`
	Path        string `env:"NODEREDMIND_CLIENT_DB_PATH"    json:"path"`
	RedisURL    string `env:"REDIS_URL"                     json:"redis_url,omitempty"`
	DatabaseURL string `env:"DATABASE_URL"                  json:"database_url,omitempty"`
}

type MDNSConfig struct {
	Enabled bool   `env:"NODEREDMIND_MDNS_ENABLED" json:"enabled"`
	Service string `env:"NODEREDMIND_MDNS_SERVICE" json:"service"`
	Domain  string `env:"NODEREDMIND_MDNS_DOMAIN"  json:"domain"`
	Name    string `env:"NODEREDMIND_MDNS_NAME"    json:"name,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:     "127.0.0.1",
		Port:     6789,
		CertDir:  DefaultCertDir(),
		CertName: "nodered",
		Username: "nodered",
		Timeout:  15,
		Priority: 50,
		ClientDB: ClientDBConfig{
			Backend: BackendJSON,
			Path:    "~/.noderedmind/clients.json",
		},
		MDNS: MDNSConfig{
			Service: "_hivemind._tcp",
			Domain:  "local.",
		},
		MetricsEnabled: true,
		EchoToOrigin:   true,
		LogFormat:      "console",
	}
}

// DefaultCertDir is $XDG_DATA_HOME/hivemind, falling back to
// ~/.local/share/hivemind.
func DefaultCertDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "hivemind")
	}
	return filepath.Join("~", ".local", "share", "hivemind")
}

// LoadConfig reads the JSON file at path over the defaults, then applies the
// environment. A .env file in the working directory is loaded first when
// present. A missing config file is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %d", c.Timeout))
	}
	switch c.ClientDB.Backend {
	case BackendJSON:
		if c.ClientDB.Path == "" {
			errs = append(errs, errors.New("client_db.path is required for the json backend"))
		}
	case BackendRedis:
		if c.ClientDB.RedisURL == "" {
			errs = append(errs, errors.New("client_db.redis_url is required for the redis backend"))
		}
	case BackendPostgres:
		if c.ClientDB.DatabaseURL == "" {
			errs = append(errs, errors.New("client_db.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown client_db.backend %q", c.ClientDB.Backend))
	}
	return errors.Join(errs...)
}

// Addr is the listen address of the relay.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) CertDirPath() string {
	return expandHome(c.CertDir)
}

func (c *Config) ClientDBPath() string {
	return expandHome(c.ClientDB.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
