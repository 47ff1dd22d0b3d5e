package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultJWTSecret is the placeholder signing secret shipped in app.yaml.
// The admin API is not mounted while it is in use.
const DefaultJWTSecret = "changeme-secret"

type Config struct {
	Server            ServerConfig   `mapstructure:"server"`
	Database          DatabaseConfig `mapstructure:"database"`
	Index             IndexConfig    `mapstructure:"index"`
	Metadata          MetadataConfig `mapstructure:"metadata"`
	Activity          ActivityConfig `mapstructure:"activity"`
	Log               LogConfig      `mapstructure:"log"`
	JWTSecret         string         `mapstructure:"jwt_secret"`
	AdminPasswordHash string         `mapstructure:"admin_password_hash"`
	LoginPerMinute    float64        `mapstructure:"login_per_minute"`
	LoginBurst        int            `mapstructure:"login_burst"`
}

type ServerConfig struct {
	Port      int `mapstructure:"port"`
	BodyLimit int `mapstructure:"body_limit"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// IndexConfig tunes metadata index construction.
type IndexConfig struct {
	Concurrency     int `mapstructure:"concurrency"` // 0 = GOMAXPROCS
	SearchCacheSize int `mapstructure:"search_cache_size"`
}

// MetadataConfig names an optional document loaded at startup.
type MetadataConfig struct {
	File string `mapstructure:"file"`
}

// ActivityConfig controls the admin activity log.
type ActivityConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	BufferSize      int  `mapstructure:"buffer_size"`
	FlushIntervalMs int  `mapstructure:"flush_interval_ms"`
	RetentionDays   int  `mapstructure:"retention_days"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		return filepath.Join(d.Path, d.Name+".db")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite or unset.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "" || d.Driver == "sqlite"
}

// AdminDisabledReason returns why the document admin API cannot be served,
// or "" when it can.
func (c *Config) AdminDisabledReason() string {
	switch {
	case c.AdminPasswordHash == "":
		return "admin_password_hash is empty"
	case c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret:
		return "jwt_secret is unset or still the default"
	}
	return ""
}

// SetDefaults registers the default for every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit", 16*1024*1024)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "permissions")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("index.concurrency", 0)
	v.SetDefault("index.search_cache_size", 20)
	v.SetDefault("metadata.file", "")
	v.SetDefault("jwt_secret", DefaultJWTSecret)
	v.SetDefault("admin_password_hash", "")
	v.SetDefault("login_per_minute", 10)
	v.SetDefault("login_burst", 5)
	v.SetDefault("activity.enabled", true)
	v.SetDefault("activity.buffer_size", 100)
	v.SetDefault("activity.flush_interval_ms", 2000)
	v.SetDefault("activity.retention_days", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads app.yaml from the working directory (or two levels up) and
// overlays environment variables. A missing file leaves the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")
	return load(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
