package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// #region config
// Config is the process configuration, read from STORY_ENGINE_* variables.
// An empty DefaultLane keeps the lane file's default_lane, or feature_film.
type Config struct {
	DBPath             string        `env:"STORY_ENGINE_DB"                    envDefault:"story_engine.db"`
	LanesFile          string        `env:"STORY_ENGINE_LANES_FILE"`
	DefaultLane        string        `env:"STORY_ENGINE_DEFAULT_LANE"`
	CompsAddr          string        `env:"STORY_ENGINE_COMPS_ADDR"            envDefault:"localhost:50061"`
	CompsTimeout       time.Duration `env:"STORY_ENGINE_COMPS_TIMEOUT"         envDefault:"10s"`
	WriteTimeout       time.Duration `env:"STORY_ENGINE_WRITE_TIMEOUT"         envDefault:"5s"`
	MinCompsConfidence float64       `env:"STORY_ENGINE_MIN_COMPS_CONFIDENCE"  envDefault:"0.35"`
	LogLevel           string        `env:"STORY_ENGINE_LOG_LEVEL"             envDefault:"info"`
	LogJSON            bool          `env:"STORY_ENGINE_LOG_JSON"              envDefault:"false"`
}

// #endregion config

// #region load
// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	if c.CompsTimeout <= 0 {
		errs = append(errs, fmt.Errorf("comps timeout %s must be positive", c.CompsTimeout))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("write timeout %s is negative", c.WriteTimeout))
	}
	if c.MinCompsConfidence < 0 || c.MinCompsConfidence > 1 {
		errs = append(errs, fmt.Errorf("min comps confidence %g outside [0,1]", c.MinCompsConfidence))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// #endregion load
