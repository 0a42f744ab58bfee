package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is the profile section of ~/.skein/config.yaml. Other keys in the
// file belong to the CLI settings and are ignored here.
type Config struct {
	Profiles       map[string]Profile `yaml:"profiles"`
	DefaultProfile string             `yaml:"default_profile"`
}

// Profile names a backend URI.
type Profile struct {
	URI         string `yaml:"uri"`
	Description string `yaml:"description,omitempty"`
}

// ConfigDir returns ~/.skein, or "" if the home directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".skein")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// LoadConfig reads profiles from path (ConfigPath when empty). A missing
// file yields an empty config, not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Profiles: make(map[string]Profile)}

	if path == "" {
		path = ConfigPath()
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	return cfg, nil
}

// Names returns the profile names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
