// Package config loads expsync settings from defaults, an optional config
// file, a .env file and EXPSYNC_* environment variables, in increasing order
// of precedence.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// EXPSYNC_DATABASE_DSN or EXPSYNC_SERVER_PORT.
const EnvPrefix = "EXPSYNC"

type ServerConfig struct {
	Address        string   `mapstructure:"address" yaml:"address" toml:"address" json:"address"`
	Port           int      `mapstructure:"port" yaml:"port" toml:"port" json:"port"`
	Mode           string   `mapstructure:"mode" yaml:"mode" toml:"mode" json:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn" yaml:"dsn" toml:"dsn" json:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns" json:"max_open_conns"`
}

type RedisConfig struct {
	// URL is empty to disable caching.
	URL string        `mapstructure:"url" yaml:"url" toml:"url" json:"url"`
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" toml:"ttl" json:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret" json:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer" yaml:"issuer" toml:"issuer" json:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" toml:"token_ttl" json:"token_ttl"`
}

type LogConfig struct {
	// File is empty to log to stderr only.
	File       string `mapstructure:"file" yaml:"file" toml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" toml:"max_age_days" json:"max_age_days"`
}

type InboxConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir" toml:"dir" json:"dir"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" toml:"debounce" json:"debounce"`
}

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server" toml:"server" json:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database" toml:"database" json:"database"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis" toml:"redis" json:"redis"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth" toml:"auth" json:"auth"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" toml:"log" json:"log"`
	Inbox    InboxConfig    `mapstructure:"inbox" yaml:"inbox" toml:"inbox" json:"inbox"`
}

// Options control where Load looks for configuration.
type Options struct {
	// File is an explicit config file. When empty, expsync.{yaml,toml,json}
	// is searched for in SearchPaths.
	File string

	// SearchPaths default to the working directory and $HOME/.config/expsync.
	SearchPaths []string

	// EnvFile is loaded into the process environment before reading
	// overrides. Missing files are ignored. Default: ".env".
	EnvFile string
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// New returns a viper instance with defaults, search paths and environment
// binding set up but nothing read yet. Callers may bind flags to it before
// calling Load.
func New(opts Options) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("expsync")
		paths := opts.SearchPaths
		if len(paths) == 0 {
			paths = defaultSearchPaths()
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads .env, the config file (if any) and the environment into a
// Config. A missing config file is not an error; a malformed one is.
func Load(v *viper.Viper, opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required", ErrInvalidConfig)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("%w: server.mode must be debug, release or test, got %q", ErrInvalidConfig, c.Server.Mode)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("%w: auth.token_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}

// Render encodes the configuration as yaml, toml or json.
func (c *Config) Render(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		return yaml.Marshal(c)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil
	case "json":
		return json.MarshalIndent(c, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported format %q (want yaml, toml or json)", format)
	}
}

// Redacted returns a copy safe to print: the JWT secret is masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Auth.JWTSecret != "" {
		cp.Auth.JWTSecret = "********"
	}
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &cp
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.dsn", "expsync.db")
	v.SetDefault("database.max_open_conns", 0)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "expsync")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("inbox.dir", "inbox")
	v.SetDefault("inbox.debounce", 500*time.Millisecond)
}

func defaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "expsync"))
	}
	return paths
}
