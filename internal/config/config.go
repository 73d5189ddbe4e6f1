// Package config loads the engine's configuration from environment
// variables and an optional YAML file via github.com/spf13/viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved set of options the engine runs with.
type Config struct {
	// ConvergenceTenants is the feature-flag allowlist: only these
	// tenants are routed onto the convergence engine.
	ConvergenceTenants []string

	// Worker tuning.
	LBMaxRetries        int
	LBRetryIntervalMin  time.Duration
	LBRetryIntervalMax  time.Duration
	CreateMaxRetries    int
	CreateBackoffBase   time.Duration
	DeleteTimeout       time.Duration
	Concurrency         int
	GlobalCreateLimit   int
	DrainTimeout        time.Duration
	CycleTimeout        time.Duration

	// RegionOverrides maps a cloud service name to an override base URL
	// (empty map means use the gateway's compiled-in defaults).
	RegionOverrides map[string]string

	// Ambient knobs.
	LogLevel    string
	ListenAddr  string
	StorePath   string
	RedisAddr   string
	Development bool
}

// Default returns the configuration every option falls back to when
// unset by env or file.
func Default() *Config {
	return &Config{
		LBMaxRetries:       12,
		LBRetryIntervalMin: 5 * time.Second,
		LBRetryIntervalMax: 7 * time.Second,
		CreateMaxRetries:   3,
		CreateBackoffBase:  15 * time.Second,
		DeleteTimeout:      time.Hour,
		Concurrency:        10,
		GlobalCreateLimit:  2,
		DrainTimeout:       5 * time.Minute,
		CycleTimeout:       20 * time.Minute,
		RegionOverrides:    map[string]string{},
		LogLevel:           "info",
		ListenAddr:         ":8080",
		StorePath:          "convergence.db",
		RedisAddr:          "127.0.0.1:6379",
	}
}

// Load builds a Config from defaults, an optional YAML file at path (a
// missing file is not an error), and the CONVERGENCE_-prefixed
// environment, in increasing precedence.
func Load(path string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("convergence")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("convergence-tenants", def.ConvergenceTenants)
	v.SetDefault("worker.lb_max_retries", def.LBMaxRetries)
	v.SetDefault("worker.lb_retry_interval_range", []int{5, 7})
	v.SetDefault("worker.create_max_retries", def.CreateMaxRetries)
	v.SetDefault("worker.create_backoff_base", def.CreateBackoffBase.String())
	v.SetDefault("worker.delete_timeout", def.DeleteTimeout.String())
	v.SetDefault("worker.concurrency", def.Concurrency)
	v.SetDefault("worker.global_create_limit", def.GlobalCreateLimit)
	v.SetDefault("worker.drain_timeout", def.DrainTimeout.String())
	v.SetDefault("worker.cycle_timeout", def.CycleTimeout.String())
	v.SetDefault("regionOverrides", def.RegionOverrides)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("store_path", def.StorePath)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("development", def.Development)

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config file %q: %w", path, err)
			}
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("stat config file %q: %w", path, statErr)
		}
	}

	interval := v.GetIntSlice("worker.lb_retry_interval_range")
	if len(interval) != 2 {
		interval = []int{5, 7}
	}

	createBackoff, err := time.ParseDuration(v.GetString("worker.create_backoff_base"))
	if err != nil {
		return nil, fmt.Errorf("worker.create_backoff_base: %w", err)
	}
	deleteTimeout, err := time.ParseDuration(v.GetString("worker.delete_timeout"))
	if err != nil {
		return nil, fmt.Errorf("worker.delete_timeout: %w", err)
	}
	drainTimeout, err := time.ParseDuration(v.GetString("worker.drain_timeout"))
	if err != nil {
		return nil, fmt.Errorf("worker.drain_timeout: %w", err)
	}
	cycleTimeout, err := time.ParseDuration(v.GetString("worker.cycle_timeout"))
	if err != nil {
		return nil, fmt.Errorf("worker.cycle_timeout: %w", err)
	}

	return &Config{
		ConvergenceTenants:  v.GetStringSlice("convergence-tenants"),
		LBMaxRetries:        v.GetInt("worker.lb_max_retries"),
		LBRetryIntervalMin:  time.Duration(interval[0]) * time.Second,
		LBRetryIntervalMax:  time.Duration(interval[1]) * time.Second,
		CreateMaxRetries:    v.GetInt("worker.create_max_retries"),
		CreateBackoffBase:   createBackoff,
		DeleteTimeout:       deleteTimeout,
		Concurrency:         v.GetInt("worker.concurrency"),
		GlobalCreateLimit:   v.GetInt("worker.global_create_limit"),
		DrainTimeout:        drainTimeout,
		CycleTimeout:        cycleTimeout,
		RegionOverrides:     v.GetStringMapString("regionOverrides"),
		LogLevel:            v.GetString("log_level"),
		ListenAddr:          v.GetString("listen_addr"),
		StorePath:           v.GetString("store_path"),
		RedisAddr:           v.GetString("redis_addr"),
		Development:         v.GetBool("development"),
	}, nil
}

// TenantConvergenceEnabled implements pkg/controller's FeatureFlags
// interface: tenantID is on the convergence-tenants allowlist.
func (c *Config) TenantConvergenceEnabled(tenantID string) bool {
	for _, t := range c.ConvergenceTenants {
		if t == tenantID {
			return true
		}
	}
	return false
}
