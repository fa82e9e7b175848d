package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PREVIEWD_DISCOVERY_PORTS for discovery.ports.
const EnvPrefix = "PREVIEWD"

// DefaultDiscoveryPorts are the well-known framework dev ports checked when
// no explicit list is configured.
var DefaultDiscoveryPorts = []int{3000, 3001, 4000, 4200, 4321, 5000, 5173, 5174, 8000, 8080, 8081, 8888}

// MinUserPort is the lowest port discovery will ever check.
const MinUserPort = 1024

type Config struct {
	DataDir    string
	LogDir     string
	API        APIConfig
	Discovery  DiscoveryConfig
	Registry   RegistryConfig
	Validation ValidationConfig
	Supervisor SupervisorConfig
	History    HistoryConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

type APIConfig struct {
	Listen string
}

type DiscoveryConfig struct {
	Enabled     bool
	Ports       []int
	Interval    time.Duration
	Concurrency int
}

type RegistryConfig struct {
	StaleTimeout    time.Duration
	CleanupInterval time.Duration
}

type ValidationConfig struct {
	PIDTolerance time.Duration
}

type SupervisorConfig struct {
	IdleTimeout time.Duration // zero disables idle cleanup
	PortMin     int
	PortMax     int
	LogCapacity int
	StopGrace   time.Duration
}

type HistoryConfig struct {
	DSNs []string
}

type MetricsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// RegistryPath is the shared registry file under DataDir.
func (c *Config) RegistryPath() string { return filepath.Join(c.DataDir, "servers.json") }

// LockDir holds one crash-recovery lock file per managed project.
func (c *Config) LockDir() string { return filepath.Join(c.DataDir, "locks") }

// APIPort is the port part of API.Listen; it tags registry records owned by
// this instance. Zero when the address has no numeric port.
func (c *Config) APIPort() int {
	_, p, err := net.SplitHostPort(c.API.Listen)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}

// DefaultDataDir is <user config dir>/previewd, or a temp dir fallback.
func DefaultDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, "previewd")
	}
	return filepath.Join(os.TempDir(), "previewd")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("log_dir", "")
	v.SetDefault("api.listen", "127.0.0.1:7777")
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.ports", "")
	v.SetDefault("discovery.interval_secs", 30)
	v.SetDefault("discovery.concurrency", 8)
	v.SetDefault("registry.stale_timeout_mins", 5)
	v.SetDefault("registry.cleanup_interval_mins", 1)
	v.SetDefault("validation.pid_tolerance_secs", 5)
	v.SetDefault("supervisor.idle_timeout_mins", 60)
	v.SetDefault("supervisor.port_min", 4000)
	v.SetDefault("supervisor.port_max", 4999)
	v.SetDefault("supervisor.log_capacity", 1000)
	v.SetDefault("supervisor.stop_grace_secs", 5)
	v.SetDefault("history.dsn", []string{})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
}

// Load reads configuration from defaults, an optional TOML file and
// PREVIEWD_* environment variables, in increasing precedence. Invalid
// values are replaced by defaults or clamped into range and reported via
// logger; only an unreadable explicit file is an error.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errdefs.WrapErr(errdefs.ErrConfiguration, err, "read config %s", path)
		}
	}
	r := reader{v: v, logger: logger}

	cfg := &Config{
		DataDir: r.str("data_dir"),
		LogDir:  r.str("log_dir"),
		API:     APIConfig{Listen: r.str("api.listen")},
		Discovery: DiscoveryConfig{
			Enabled:     r.boolean("discovery.enabled", true),
			Ports:       r.ports("discovery.ports"),
			Interval:    time.Duration(r.clamped("discovery.interval_secs", 30, 10, 300)) * time.Second,
			Concurrency: r.clamped("discovery.concurrency", 8, 1, 64),
		},
		Registry: RegistryConfig{
			StaleTimeout:    time.Duration(r.clamped("registry.stale_timeout_mins", 5, 1, 240)) * time.Minute,
			CleanupInterval: time.Duration(r.clamped("registry.cleanup_interval_mins", 1, 1, 60)) * time.Minute,
		},
		Validation: ValidationConfig{
			PIDTolerance: time.Duration(r.clamped("validation.pid_tolerance_secs", 5, 1, 60)) * time.Second,
		},
		Supervisor: SupervisorConfig{
			IdleTimeout: time.Duration(r.clamped("supervisor.idle_timeout_mins", 60, 0, 7*24*60)) * time.Minute,
			PortMin:     r.clamped("supervisor.port_min", 4000, MinUserPort, 65535),
			PortMax:     r.clamped("supervisor.port_max", 4999, MinUserPort, 65535),
			LogCapacity: r.clamped("supervisor.log_capacity", 1000, 10, 100000),
			StopGrace:   time.Duration(r.clamped("supervisor.stop_grace_secs", 5, 1, 60)) * time.Second,
		},
		History: HistoryConfig{DSNs: r.list("history.dsn")},
		Metrics: MetricsConfig{Enabled: r.boolean("metrics.enabled", true)},
		Log: LogConfig{
			Level:      r.str("log.level"),
			Format:     r.str("log.format"),
			File:       r.str("log.file"),
			MaxSizeMB:  r.clamped("log.max_size_mb", 0, 0, 1024),
			MaxBackups: r.clamped("log.max_backups", 0, 0, 100),
			MaxAgeDays: r.clamped("log.max_age_days", 0, 0, 365),
			Compress:   r.boolean("log.compress", false),
		},
	}
	if cfg.Supervisor.PortMin > cfg.Supervisor.PortMax {
		logger.Warn("supervisor port range inverted, using defaults", "min", cfg.Supervisor.PortMin, "max", cfg.Supervisor.PortMax)
		cfg.Supervisor.PortMin, cfg.Supervisor.PortMax = 4000, 4999
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	return cfg, nil
}

// ParseDiscoveryPorts parses a comma separated port list. Non-numeric
// entries and ports below 1024 or above 65535 are dropped; duplicates are
// removed keeping first occurrence.
func ParseDiscoveryPorts(s string) []int {
	var out []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			continue
		}
		out = appendPort(out, n)
	}
	return out
}

func appendPort(out []int, n int) []int {
	if n < MinUserPort || n > 65535 || slices.Contains(out, n) {
		return out
	}
	return append(out, n)
}

type reader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (r reader) str(key string) string { return strings.TrimSpace(cast.ToString(r.v.Get(key))) }

func (r reader) boolean(key string, def bool) bool {
	b, err := cast.ToBoolE(r.v.Get(key))
	if err != nil {
		r.logger.Warn("invalid boolean config value, using default", "key", key, "value", r.v.Get(key), "default", def)
		return def
	}
	return b
}

// clamped reads an integer. Unparseable values fall back to def; values
// outside [lo, hi] are clamped.
func (r reader) clamped(key string, def, lo, hi int) int {
	raw := r.v.Get(key)
	n, err := cast.ToIntE(raw)
	if err != nil {
		r.logger.Warn("invalid numeric config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	if n < lo || n > hi {
		c := min(max(n, lo), hi)
		r.logger.Warn("config value out of range, clamped", "key", key, "value", n, "clamped", c)
		return c
	}
	return n
}

func (r reader) list(key string) []string {
	raw := r.v.Get(key)
	if s, ok := raw.(string); ok {
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return cast.ToStringSlice(raw)
}

func (r reader) ports(key string) []int {
	raw := r.v.Get(key)
	var ports []int
	switch t := raw.(type) {
	case nil:
	case string:
		if strings.TrimSpace(t) == "" {
			return slices.Clone(DefaultDiscoveryPorts)
		}
		ports = ParseDiscoveryPorts(t)
	default:
		for _, item := range cast.ToSlice(raw) {
			if n, err := cast.ToIntE(item); err == nil {
				ports = appendPort(ports, n)
			}
		}
	}
	if len(ports) == 0 {
		r.logger.Warn("no usable discovery ports configured, using defaults", "value", fmt.Sprint(raw))
		return slices.Clone(DefaultDiscoveryPorts)
	}
	return ports
}
