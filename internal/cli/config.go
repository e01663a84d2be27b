package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultLive is the live directory used when neither an argument nor the
// config file names one.
const DefaultLive = "/run/s6-rc"

// Config is the optional YAML configuration shared by all commands.
// Command-line flags override it.
type Config struct {
	// Live is the live directory for sync and watch.
	Live string `yaml:"live"`

	// Timeout bounds a sync. Accepts Go duration strings such as "5s".
	Timeout time.Duration `yaml:"timeout"`

	// GID owns the event fifodirs. Unset means the current group, -1 none.
	GID *int `yaml:"gid"`

	// ReplaceStale replaces scandir symlinks left by another database.
	ReplaceStale bool `yaml:"replace_stale"`

	// Debounce delays reloads after the compiled link changes.
	Debounce time.Duration `yaml:"debounce"`

	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads the YAML config at path. An empty path yields the zero Config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("config %s: negative timeout %v", path, cfg.Timeout)
	}
	return cfg, nil
}

// LiveDir picks the live directory from args, then the config, then the default.
func (c *Config) LiveDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if c.Live != "" {
		return c.Live
	}
	return DefaultLive
}
