// Package config loads typingproof's CLI configuration via viper, the way
// the teacher's auditr/config package does: a mapstructure-tagged Config
// struct, defaults set in Load, and a lazily-initialized package global.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoggingCfg configures internal/typingproof/logger.
type LoggingCfg struct {
	Level        string `mapstructure:"level"`
	ConsoleLevel string `mapstructure:"console_level"`
	DebugFile    string `mapstructure:"debug_file"`
	InfoFile     string `mapstructure:"info_file"`
	Development  bool   `mapstructure:"development"`
}

// WorkerCfg sizes the PoSW background worker pool. The PoSW iteration
// count itself is NOT configurable here — it is a fixed design constant
// (posw.Iterations) and stamping a different value per deployment would
// break cross-deployment verification.
type WorkerCfg struct {
	Enabled    bool `mapstructure:"enabled"`
	PoolSize   int  `mapstructure:"pool_size"`
}

// OutputCfg holds output directory and format settings. `typingproof
// export` does not read them; it writes to its --output flag or stdout.
type OutputCfg struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// SimulateCfg holds simulation settings loaded with the CLI config.
// cmd/simulate does not read them; it takes its parameters from its own
// YAML file (simulate.Config).
type SimulateCfg struct {
	Seed         int64 `mapstructure:"seed"`
	Events       int   `mapstructure:"events"`
	PasteChance  float64 `mapstructure:"paste_chance"`
}

// Config is the root CLI configuration.
type Config struct {
	Version   string      `mapstructure:"version"`
	Worker    WorkerCfg   `mapstructure:"worker"`
	Output    OutputCfg   `mapstructure:"output"`
	Simulate  SimulateCfg `mapstructure:"simulate"`
	Logging   LoggingCfg  `mapstructure:"logging"`
}

var cfg *Config

// Load populates the global Config from a viper instance, setting
// defaults first.
func Load(v *viper.Viper) error {
	v.SetDefault("version", "0.1")
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.pool_size", 4)
	v.SetDefault("output.format", "json")
	v.SetDefault("output.dir", ".")
	v.SetDefault("simulate.seed", 1)
	v.SetDefault("simulate.events", 200)
	v.SetDefault("simulate.paste_chance", 0.05)
	v.SetDefault("logging.level", "info")

	if ver := v.Get("version"); ver != nil {
		if _, ok := ver.(string); !ok {
			return fmt.Errorf("version must be a string")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	cfg = &c
	return nil
}

// Get returns the loaded config, initializing an empty one if Load was
// never called.
func Get() *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	return cfg
}
