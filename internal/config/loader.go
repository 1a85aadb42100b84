package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from configPath, or from a default
// location if configPath is empty, falling back to DefaultConfig when
// nothing is found.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = findDefaultConfig()
	}
	if configPath == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// findDefaultConfig looks for a config file in the working directory and
// the user's home directory, preferring the working directory.
func findDefaultConfig() string {
	candidates := []string{
		"evotrace.yaml",
		"evotrace.yml",
		".evotrace.yaml",
		".evotrace.yml",
		"evotrace.toml",
		"evotrace.json",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, candidate := range candidates {
			path := filepath.Join(home, candidate)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}

// SaveConfig writes cfg to path in viper's format for that file extension
// (determined from path's suffix; yaml/json/toml are all supported by the
// loaders this package already depends on).
func SaveConfig(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("thresholds", cfg.Thresholds)
	v.Set("lsh", cfg.LSH)
	v.Set("filtering", cfg.Filtering)
	v.Set("performance", cfg.Performance)
	v.Set("grouping", cfg.Grouping)

	return v.WriteConfig()
}
