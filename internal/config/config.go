package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the server runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	AdminAddress        string        `mapstructure:"admin_address"`
	LogLevel            string        `mapstructure:"log_level"`
	MaxClients          int64         `mapstructure:"max_clients"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	BindWaitTimeout     time.Duration `mapstructure:"bind_wait_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

const (
	defaultListenAddress       = "0.0.0.0:12345"
	defaultLogLevel            = "info"
	defaultMaxClients          = 10
	defaultReadTimeout         = 30 * time.Second
	defaultBindWaitTimeout     = 60 * time.Second
	defaultSweepInterval       = 30 * time.Second
	defaultShutdownGracePeriod = 10 * time.Second
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with SYNQ_ and can
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNQ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("admin_address", "")
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("max_clients", defaultMaxClients)
	v.SetDefault("read_timeout", defaultReadTimeout.String())
	v.SetDefault("bind_wait_timeout", defaultBindWaitTimeout.String())
	v.SetDefault("sweep_interval", defaultSweepInterval.String())
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"read_timeout", defaultReadTimeout, &cfg.ReadTimeout},
		{"bind_wait_timeout", defaultBindWaitTimeout, &cfg.BindWaitTimeout},
		{"sweep_interval", defaultSweepInterval, &cfg.SweepInterval},
		{"shutdown_grace_period", defaultShutdownGracePeriod, &cfg.ShutdownGracePeriod},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			*d.dst = d.fallback
			continue
		}
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = defaultMaxClients
	}

	return cfg, nil
}
