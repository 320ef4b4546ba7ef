package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. MEALSYNC_PORT.
const EnvPrefix = "MEALSYNC"

// Config is the daemon configuration.
type Config struct {
	Port     string
	DBPath   string
	LogLevel string
	LogFile  string

	RemoteURL    string
	RemoteAPIKey string
	RemoteToken  string
	UserID       string

	SyncInterval time.Duration
	PullOnStart  bool

	APIToken    string
	CORSOrigins []string

	Backup Backup
}

// Backup holds S3 backup settings.
type Backup struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Interval   time.Duration
	Retention  time.Duration
}

var defaults = map[string]any{
	"port":              "8080",
	"db_path":           "mealsync.db",
	"log_level":         "info",
	"log_file":          "",
	"remote_url":        "",
	"remote_api_key":    "",
	"remote_token":      "",
	"user_id":           "",
	"sync_interval":     "5m",
	"pull_on_start":     true,
	"api_token":         "",
	"cors_origins":      "*",
	"backup_endpoint":   "",
	"backup_bucket":     "",
	"backup_region":     "us-east-1",
	"backup_access_key": "",
	"backup_secret_key": "",
	"backup_passphrase": "",
	"backup_interval":   "24h",
	"backup_retention":  "720h",
}

// Load reads configuration from, in increasing priority: defaults, the
// optional config file, a .env file in the working directory and the
// process environment.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:         v.GetString("port"),
		DBPath:       v.GetString("db_path"),
		LogLevel:     v.GetString("log_level"),
		LogFile:      v.GetString("log_file"),
		RemoteURL:    strings.TrimRight(v.GetString("remote_url"), "/"),
		RemoteAPIKey: v.GetString("remote_api_key"),
		RemoteToken:  v.GetString("remote_token"),
		UserID:       v.GetString("user_id"),
		SyncInterval: v.GetDuration("sync_interval"),
		PullOnStart:  v.GetBool("pull_on_start"),
		APIToken:     v.GetString("api_token"),
		CORSOrigins:  splitList(v.GetString("cors_origins")),
		Backup: Backup{
			Endpoint:   v.GetString("backup_endpoint"),
			Bucket:     v.GetString("backup_bucket"),
			Region:     v.GetString("backup_region"),
			AccessKey:  v.GetString("backup_access_key"),
			SecretKey:  v.GetString("backup_secret_key"),
			Passphrase: v.GetString("backup_passphrase"),
			Interval:   v.GetDuration("backup_interval"),
			Retention:  v.GetDuration("backup_retention"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db path is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", c.SyncInterval)
	}
	if c.Backup.Interval < 0 || c.Backup.Retention < 0 {
		return errors.New("backup interval and retention must not be negative")
	}
	return nil
}

// RemoteEnabled reports whether a backend is configured. Without one the
// diary runs offline.
func (c *Config) RemoteEnabled() bool {
	return c.RemoteURL != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
