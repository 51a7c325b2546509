// Package config loads the engine's environment-driven configuration
// (spec section 6) using spf13/viper, following the mapstructure-tagged
// struct style of the market-maker example's internal/config package -
// the teacher's own config machinery is Cosmos app.toml/config.toml
// generation, which has no analogue in a single-process engine library.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment variable spec section 6 names.
type Config struct {
	StateDir                   string        `mapstructure:"state_dir"`
	PersistState               bool          `mapstructure:"persist_state"`
	AdminKey                   string        `mapstructure:"admin_key"`
	FundingInterval            time.Duration `mapstructure:"funding_interval_ms"`
	LiquidationSweepInterval   time.Duration `mapstructure:"liquidation_sweep_interval_ms"`
	MaxLeverage                int           `mapstructure:"max_leverage"`
}

// Load reads STATE_DIR, PERSIST_STATE, ADMIN_KEY, FUNDING_INTERVAL_MS,
// LIQUIDATION_SWEEP_INTERVAL_MS and MAX_LEVERAGE from the environment,
// falling back to the defaults below when unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("state_dir", "./data")
	v.SetDefault("persist_state", true)
	v.SetDefault("admin_key", "")
	v.SetDefault("funding_interval_ms", 3_600_000)
	v.SetDefault("liquidation_sweep_interval_ms", 5_000)
	v.SetDefault("max_leverage", 50)

	bind := func(key, env string) error { return v.BindEnv(key, env) }
	if err := bind("state_dir", "STATE_DIR"); err != nil {
		return nil, err
	}
	if err := bind("persist_state", "PERSIST_STATE"); err != nil {
		return nil, err
	}
	if err := bind("admin_key", "ADMIN_KEY"); err != nil {
		return nil, err
	}
	if err := bind("funding_interval_ms", "FUNDING_INTERVAL_MS"); err != nil {
		return nil, err
	}
	if err := bind("liquidation_sweep_interval_ms", "LIQUIDATION_SWEEP_INTERVAL_MS"); err != nil {
		return nil, err
	}
	if err := bind("max_leverage", "MAX_LEVERAGE"); err != nil {
		return nil, err
	}

	cfg := &Config{
		StateDir:                 v.GetString("state_dir"),
		PersistState:             v.GetBool("persist_state"),
		AdminKey:                 v.GetString("admin_key"),
		FundingInterval:          time.Duration(v.GetInt64("funding_interval_ms")) * time.Millisecond,
		LiquidationSweepInterval: time.Duration(v.GetInt64("liquidation_sweep_interval_ms")) * time.Millisecond,
		MaxLeverage:              v.GetInt("max_leverage"),
	}
	return cfg, nil
}

// AdminConfigured reports whether an admin key was set; admin-only routes
// return 503 when it was not (spec section 6).
func (c *Config) AdminConfigured() bool {
	return c.AdminKey != ""
}
