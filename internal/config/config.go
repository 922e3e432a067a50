// Package config handles global tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/bibfix/config.yml.
type GlobalConfig struct {
	S2APIKey      string  `yaml:"s2_api_key,omitempty"`
	Similarity    float64 `yaml:"similarity,omitempty"`
	Delay         string  `yaml:"delay,omitempty"`
	CacheTTL      string  `yaml:"cache_ttl,omitempty"`
	CacheDisabled bool    `yaml:"cache_disabled,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "bibfix"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// Defaults applied when neither a flag nor the config file says
// otherwise.
const (
	DefaultSimilarity = 0.7
	DefaultDelay      = time.Second
	DefaultCacheTTL   = 168 * time.Hour
)

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/bibfix/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}

	globalConfigCache = &cfg
	return &cfg, nil
}

// SaveGlobalConfig writes the global configuration file, creating its
// directory as needed, and drops the in-process cache so the next
// load sees the new values.
func SaveGlobalConfig(cfg *GlobalConfig) error {
	path := GlobalConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding global config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing global config: %w", err)
	}

	globalConfigCache = nil
	return nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

// GetS2APIKey returns the Semantic Scholar API key from global config.
func GetS2APIKey() string {
	cfg, _ := LoadGlobalConfig()
	return cfg.S2APIKey
}

// SimilarityOrDefault returns the configured similarity gate, or the
// default when unset.
func (c *GlobalConfig) SimilarityOrDefault() float64 {
	if c.Similarity > 0 {
		return c.Similarity
	}
	return DefaultSimilarity
}

// DelayOrDefault returns the configured inter-record delay, or the
// default when unset or unparseable.
func (c *GlobalConfig) DelayOrDefault() time.Duration {
	if c.Delay == "" {
		return DefaultDelay
	}
	d, err := time.ParseDuration(c.Delay)
	if err != nil {
		return DefaultDelay
	}
	return d
}

// CacheTTLOrDefault returns the configured cache lifetime, or the
// default when unset or unparseable.
func (c *GlobalConfig) CacheTTLOrDefault() time.Duration {
	if c.CacheTTL == "" {
		return DefaultCacheTTL
	}
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return DefaultCacheTTL
	}
	return d
}

// ValidateSimilarity checks that a threshold lies within [0, 1].
func ValidateSimilarity(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("similarity must be between 0 and 1, got %v", v)
	}
	return nil
}

// ValidateDuration checks that a value parses as a non-negative
// duration (e.g. "1s", "500ms", "168h").
func ValidateDuration(v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q (use forms like 1s, 500ms, 168h)", v)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", v)
	}
	return nil
}
