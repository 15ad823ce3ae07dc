package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// FeatureConfig holds non-sensitive settings that tune behaviour without a
// rebuild.
// Source: TOML configuration file
type FeatureConfig struct {
	Gate   GateConfig   `toml:"gate"`
	Tasks  TasksConfig  `toml:"tasks"`
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
}

// GateConfig sets the datastore free-space thresholds checked before a snapshot is taken.
type GateConfig struct {
	MinFreePercent     int64 `toml:"min_free_percent" default:"10" validate:"gte=1,lte=100"`
	CapacityMultiplier int64 `toml:"capacity_multiplier" default:"2" validate:"gte=1"`
}

type TasksConfig struct {
	// Timeout bounds a whole task wait. Zero means no bound.
	Timeout        Duration `toml:"timeout"`
	MaxWaitSeconds int32    `toml:"max_wait_seconds" default:"60" validate:"gte=1,lte=3600"`
}

type ServerConfig struct {
	Listen string `toml:"listen" default:":8080" validate:"required"`
}

type StoreConfig struct {
	Path string `toml:"path" default:"./data" validate:"required"`
}

// Duration decodes TOML strings such as "90s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validate = validator.New()

// DefaultFeatureConfig returns the configuration used when no file is present.
func DefaultFeatureConfig() *FeatureConfig {
	cfg := &FeatureConfig{}
	// Static defaults; Set only fails on malformed tags.
	_ = defaults.Set(cfg)
	return cfg
}

// LoadFeatureConfig loads feature configuration from a TOML file. A missing
// file yields the defaults.
func LoadFeatureConfig(path string) (*FeatureConfig, error) {
	cfg := &FeatureConfig{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load feature config: %w", err)
		}
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply feature config defaults: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid feature config: %w", err)
	}
	return cfg, nil
}
