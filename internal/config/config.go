// Package config loads application configuration and initializes the
// global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store Store `yaml:"store" mapstructure:"store"`
	Data  Data  `yaml:"data" mapstructure:"data"`
	Match Match `yaml:"match" mapstructure:"match"`
	Log   Log   `yaml:"log" mapstructure:"log"`
}

// Store configures the results database backend.
type Store struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`             // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"` // postgres only
	Path        string `yaml:"path" mapstructure:"path"`                 // sqlite only
}

// Data points at the input tables.
type Data struct {
	RegionDefs      string `yaml:"region_defs" mapstructure:"region_defs"`
	ObservationsDir string `yaml:"observations_dir" mapstructure:"observations_dir"`
	MatchingVars    string `yaml:"matching_vars" mapstructure:"matching_vars"`
	CentroidsSHP    string `yaml:"centroids_shp" mapstructure:"centroids_shp"`
	MeasuresFile    string `yaml:"measures_file" mapstructure:"measures_file"`
	OutputDir       string `yaml:"output_dir" mapstructure:"output_dir"`
}

// Match configures peer selection.
type Match struct {
	PeerCount   int      `yaml:"peer_count" mapstructure:"peer_count"`
	Parallelism int      `yaml:"parallelism" mapstructure:"parallelism"`
	Targets     []string `yaml:"targets" mapstructure:"targets"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("THRIVING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "thriving.db")
	v.SetDefault("data.output_dir", "out")
	v.SetDefault("match.peer_count", 8)
	v.SetDefault("match.parallelism", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command depends on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return eris.New("config: store.path required for sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url required for postgres driver")
		}
	case "", "none":
		// Running without persistence is allowed.
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Match.PeerCount < 0 {
		return eris.New("config: match.peer_count must be positive")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg Log) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
