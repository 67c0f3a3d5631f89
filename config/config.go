// Package config loads the process-wide cache configuration.
//
// Values are resolved once at startup in this order, later sources winning:
//
//  1. [Default]
//  2. an optional YAML file (path from TIERCACHE_CONFIG or [Load]'s argument)
//  3. an optional .env file in the working directory
//  4. the process environment
//
// Environment variables:
//
// Memory tier:
//   - CACHE_MEMORY_ENABLED: enable the in-process tier (default: true)
//   - CACHE_MEMORY_TTL: lifetime of a memory entry (default: 1h)
//   - CACHE_SWEEP_INTERVAL: how often expired memory entries are removed (default: 30m)
//
// Codec and facade:
//   - CACHE_COMPRESSION_THRESHOLD: payloads longer than this many bytes are compressed (default: 1024)
//   - CACHE_DEFAULT_HOURS: durable TTL used when a caller passes a non-positive one (default: 24)
//
// Durable tier (Redis):
//   - REDIS_URL: full connection URL, takes precedence over the discrete settings
//   - REDIS_HOST / REDIS_PORT (default: 6379) / REDIS_USERNAME / REDIS_PASSWORD / REDIS_DB
//   - REDIS_PREFIX: key namespace (default: tiercache)
//   - REDIS_TIMEOUT: bound on every durable operation including retries (default: 2s)
//   - REDIS_MAX_RETRIES: retries after the first attempt (default: 2)
//
// Durable tier (SQLite), used only when Redis is not configured:
//   - CACHE_SQLITE_PATH: database file path (default: unset, tier disabled)
//
// Durations, in the YAML file and the environment alike, accept Go syntax
// plus day and week units ("90m", "1h", "1d").
package config

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file read by Load when no path is given.
const EnvConfigFile = "TIERCACHE_CONFIG"

// DurableKind identifies which durable tier a configuration selects.
type DurableKind string

const (
	DurableNone   DurableKind = "none"
	DurableRedis  DurableKind = "redis"
	DurableSQLite DurableKind = "sqlite"
)

// TierConfig is the immutable configuration shared by every cache tier.
type TierConfig struct {
	MemoryEnabled        bool          `yaml:"memory_enabled" env:"CACHE_MEMORY_ENABLED"`
	MemoryTTL            time.Duration `yaml:"memory_ttl" env:"CACHE_MEMORY_TTL"`
	SweepInterval        time.Duration `yaml:"sweep_interval" env:"CACHE_SWEEP_INTERVAL"`
	CompressionThreshold int           `yaml:"compression_threshold" env:"CACHE_COMPRESSION_THRESHOLD"`
	DefaultTTLHours      int           `yaml:"default_ttl_hours" env:"CACHE_DEFAULT_HOURS"`

	Redis  RedisConfig  `yaml:"redis" envPrefix:"REDIS_"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig describes the network durable tier. It is considered configured
// when either URL or Host is set.
type RedisConfig struct {
	URL        string        `yaml:"url" env:"URL"`
	Host       string        `yaml:"host" env:"HOST"`
	Port       int           `yaml:"port" env:"PORT"`
	Username   string        `yaml:"username" env:"USERNAME"`
	Password   string        `yaml:"password" env:"PASSWORD"`
	DB         int           `yaml:"db" env:"DB"`
	Prefix     string        `yaml:"prefix" env:"PREFIX"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// SQLiteConfig describes the file-backed durable tier.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"CACHE_SQLITE_PATH"`
}

// Addr returns host:port for the discrete Redis settings.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return r.Host + ":" + strconv.Itoa(port)
}

// Configured reports whether enough Redis settings are present to use it.
func (r RedisConfig) Configured() bool {
	return r.URL != "" || r.Host != ""
}

// Default returns the built-in configuration.
func Default() TierConfig {
	return TierConfig{
		MemoryEnabled:        true,
		MemoryTTL:            time.Hour,
		SweepInterval:        30 * time.Minute,
		CompressionThreshold: 1024,
		DefaultTTLHours:      24,
		Redis: RedisConfig{
			Port:       6379,
			Prefix:     "tiercache",
			Timeout:    2 * time.Second,
			MaxRetries: 2,
		},
	}
}

// Durable reports which durable tier this configuration selects. Redis wins
// over SQLite when both are configured.
func (c TierConfig) Durable() DurableKind {
	switch {
	case c.Redis.Configured():
		return DurableRedis
	case c.SQLite.Path != "":
		return DurableSQLite
	default:
		return DurableNone
	}
}

// Validate rejects settings the tiers cannot honour.
func (c TierConfig) Validate() error {
	if c.MemoryEnabled && c.MemoryTTL <= 0 {
		return errors.Newf("config: memory TTL must be positive, got %s", c.MemoryTTL)
	}
	if c.MemoryEnabled && c.SweepInterval <= 0 {
		return errors.Newf("config: sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.CompressionThreshold < 0 {
		return errors.Newf("config: compression threshold must not be negative, got %d", c.CompressionThreshold)
	}
	if c.DefaultTTLHours <= 0 {
		return errors.Newf("config: default cache duration must be at least one hour, got %d", c.DefaultTTLHours)
	}
	if c.Redis.Configured() {
		if c.Redis.Timeout <= 0 {
			return errors.Newf("config: redis timeout must be positive, got %s", c.Redis.Timeout)
		}
		if c.Redis.MaxRetries < 0 {
			return errors.Newf("config: redis max retries must not be negative, got %d", c.Redis.MaxRetries)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// FromEnv overlays environment variables onto cfg. Unset variables leave
// the existing value alone.
func FromEnv(cfg *TierConfig) error {
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			durationType: func(v string) (interface{}, error) {
				return str2duration.ParseDuration(v)
			},
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return errors.Wrap(err, "config: parsing environment")
	}
	return nil
}

// yamlDurationKeys are the mapping keys whose values decode into a time.Duration.
var yamlDurationKeys = map[string]bool{
	"memory_ttl":     true,
	"sweep_interval": true,
	"timeout":        true,
}

// UnmarshalYAML decodes c with durations parsed the same way as FromEnv.
func (c *TierConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := normalizeDurations(node); err != nil {
		return err
	}
	type plain TierConfig
	return node.Decode((*plain)(c))
}

// normalizeDurations rewrites duration strings under node into Go syntax.
func normalizeDurations(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if !yamlDurationKeys[key.Value] || val.Kind != yaml.ScalarNode || val.ShortTag() != "!!str" {
				continue
			}
			d, err := str2duration.ParseDuration(val.Value)
			if err != nil {
				return errors.Wrapf(err, "line %d: %s", val.Line, key.Value)
			}
			val.Value = d.String()
		}
	}
	for _, child := range node.Content {
		if err := normalizeDurations(child); err != nil {
			return err
		}
	}
	return nil
}

// FromFile overlays a YAML file onto cfg.
func FromFile(cfg *TierConfig, path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: reading %s", path)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return errors.Wrapf(err, "config: parsing %s", path)
	}
	return nil
}

// Load resolves the configuration from all sources and validates it. An
// empty path falls back to TIERCACHE_CONFIG; no file at all is fine.
func Load(path string) (TierConfig, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := FromFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, errors.Wrap(err, "config: loading .env")
	}
	if err := FromEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
