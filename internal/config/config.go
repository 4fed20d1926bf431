// Package config loads the shared settings of the triage binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Database struct {
	Path string `mapstructure:"path"`
}

type Auth struct {
	// Mode is "tokenfile" (credentials.json/token.json, gmail.modify scope)
	// or "localcred" (gmailctl layout under Dir; its token must carry
	// gmail.modify).
	Mode            string `mapstructure:"mode"`
	Dir             string `mapstructure:"dir"`
	CredentialsPath string `mapstructure:"credentials_path"`
	TokenPath       string `mapstructure:"token_path"`
}

type Gmail struct {
	RPS         int           `mapstructure:"rps"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

type Ingest struct {
	Limit          int    `mapstructure:"limit"`
	StashPasswords bool   `mapstructure:"stash_passwords"`
	KeyringDir     string `mapstructure:"keyring_dir"`
}

type Server struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Auth     Auth     `mapstructure:"auth"`
	Gmail    Gmail    `mapstructure:"gmail"`
	Ingest   Ingest   `mapstructure:"ingest"`
	Server   Server   `mapstructure:"server"`
	LogLevel string   `mapstructure:"log_level"`
	DryRun   bool     `mapstructure:"dry_run"`
}

// DefaultPath is ~/.config/gmailtriage/config.yaml.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gmailtriage")
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("database.path", filepath.Join(baseDir(), "triage.db"))
	v.SetDefault("auth.mode", "tokenfile")
	v.SetDefault("auth.dir", filepath.Join(home, ".gmailctl"))
	v.SetDefault("auth.credentials_path", "")
	v.SetDefault("auth.token_path", "")
	v.SetDefault("gmail.rps", 4)
	v.SetDefault("gmail.call_timeout", 30*time.Second)
	v.SetDefault("gmail.concurrency", 1)
	v.SetDefault("ingest.limit", 10)
	v.SetDefault("ingest.stash_passwords", false)
	v.SetDefault("ingest.keyring_dir", filepath.Join(baseDir(), "keyring"))
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("dry_run", false)
}

// Load reads the YAML file at path and applies TRIAGE_* environment
// overrides, e.g. TRIAGE_GMAIL_RPS. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Auth.Mode {
	case "localcred", "tokenfile":
	default:
		return fmt.Errorf("auth.mode must be localcred or tokenfile, got %q", c.Auth.Mode)
	}
	if c.Gmail.Concurrency < 1 {
		c.Gmail.Concurrency = 1
	}
	if c.Ingest.Limit < 1 {
		return fmt.Errorf("ingest.limit must be positive, got %d", c.Ingest.Limit)
	}
	return nil
}
