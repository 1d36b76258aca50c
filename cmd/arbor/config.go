package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".arbor"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for arbor settings.
const envPrefix = "ARBOR"

// Config is the CLI configuration: defaults, then the config file, then
// ARBOR_* variables, then flags.
type Config struct {
	Format        string        `mapstructure:"format"`
	Timeout       time.Duration `mapstructure:"timeout"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LogLevel      string        `mapstructure:"log_level"`
	Queries       string        `mapstructure:"queries"`
}

// flagKeys maps config keys to the persistent flags that override them.
var flagKeys = map[string]string{
	"format":      "format",
	"timeout":     "timeout",
	"stale_after": "stale-after",
	"log_level":   "log-level",
	"queries":     "queries",
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// loadConfig merges the config sources for cmd. A missing config file is
// not an error.
func loadConfig(configPath string, cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	v.SetDefault("format", "json")
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("stale_after", 5*time.Minute)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("log_level", "warn")
	v.SetDefault("queries", "")

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Only flags set on the command line win over the file and environment.
	for key, name := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.InheritedFlags().Lookup(name)
		}
		if f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if err := validateFormat(c.Format); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s: must not be negative", c.Timeout)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("invalid stale_after %s: must be positive", c.StaleAfter)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("invalid sweep_interval %s: must not be negative", c.SweepInterval)
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log_level %q: must be one of %s", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	return nil
}
