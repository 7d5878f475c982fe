package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/isgasho/flize/internal/logger"
	"github.com/isgasho/flize/internal/stress"
)

// Config is the full ebrstress configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (EBRSTRESS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	Logging logger.Config `mapstructure:"logging" yaml:"logging"`
	Stress  stress.Config `mapstructure:"stress" yaml:"stress"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address serving /metrics. Empty disables the endpoint.
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port" yaml:"listen"`
}

// flagKeys maps run flags to configuration keys.
var flagKeys = map[string]string{
	"readers":          "stress.readers",
	"writers":          "stress.writers",
	"duration":         "stress.duration",
	"read-hold":        "stress.read_hold",
	"repin-every":      "stress.repin_every",
	"collect-interval": "stress.collect_interval",
	"advance-rate":     "stress.advance_rate",
	"track-pins":       "stress.track_pins",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"log-output":       "logging.output",
	"metrics-listen":   "metrics.listen",
}

var validate = validator.New()

// loadConfig resolves the configuration from defaults, the optional file at
// configPath, the environment and the flags in fs (which may be nil).
func loadConfig(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EBRSTRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("configuration file not found: %s", configPath)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %q: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := stress.DefaultConfig()
	v.SetDefault("stress.readers", d.Readers)
	v.SetDefault("stress.writers", d.Writers)
	v.SetDefault("stress.duration", d.Duration)
	v.SetDefault("stress.read_hold", d.ReadHold)
	v.SetDefault("stress.repin_every", d.RepinEvery)
	v.SetDefault("stress.collect_interval", d.CollectInterval)
	v.SetDefault("stress.advance_rate", d.AdvanceRate)
	v.SetDefault("stress.track_pins", d.TrackPins)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("metrics.listen", "")
}
