// Package config loads mihomocli settings from settings.yaml, MIHOMOCLI_*
// environment variables (optionally seeded from .env files) and defaults.
// Command-line flags are bound on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/John-Robertt/mihomocli/internal/fetch"
	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/rules"
)

const EnvPrefix = "MIHOMOCLI"

const (
	CacheBackendDir    = "dir"
	CacheBackendSQLite = "sqlite"
)

type Settings struct {
	UserAgent      string        `mapstructure:"user_agent"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	AllowAlternate bool          `mapstructure:"allow_alternate"`

	DevRules  DevRulesSettings  `mapstructure:"dev_rules"`
	Cache     CacheSettings     `mapstructure:"cache"`
	Log       LogSettings       `mapstructure:"log"`
	Serve     ServeSettings     `mapstructure:"serve"`
	Resources ResourcesSettings `mapstructure:"resources"`
}

type DevRulesSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Via     string `mapstructure:"via"`
}

type CacheSettings struct {
	// Backend is "dir" (one file pair per subscription) or "sqlite".
	Backend string `mapstructure:"backend"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
	// Writers lists "console" and/or "file".
	Writers []string `mapstructure:"writers"`
}

type ServeSettings struct {
	Listen string `mapstructure:"listen"`
}

type ResourcesSettings struct {
	// Mirrors are URL prefixes tried in order; the file name is appended.
	Mirrors []string `mapstructure:"mirrors"`
}

func Default() Settings {
	return Settings{
		UserAgent:      fetch.DefaultUserAgent,
		FetchTimeout:   30 * time.Second,
		MaxConcurrency: 4,
		DevRules:       DevRulesSettings{Enabled: true, Via: rules.DefaultDevVia},
		Cache:          CacheSettings{Backend: CacheBackendDir},
		Log:            LogSettings{Level: "info", Writers: []string{"console"}},
		Serve:          ServeSettings{Listen: "127.0.0.1:25500"},
		Resources: ResourcesSettings{Mirrors: []string{
			"https://github.com/MetaCubeX/meta-rules-dat/releases/download/latest/",
		}},
	}
}

type ConfigError struct {
	AppError model.AppError
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func newConfigError(path, code, msg string, cause error) error {
	return &ConfigError{
		AppError: model.AppError{Code: code, Message: msg, Stage: "config", URL: path},
		Cause:    cause,
	}
}

// New builds a viper instance with defaults, environment binding and the
// settings file when it exists. envFiles that exist are loaded into the
// process environment first without overriding variables already set.
func New(settingsFile string, envFiles ...string) (*viper.Viper, error) {
	var present []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return nil, newConfigError(strings.Join(present, ","), "CONFIG_ENV_ERROR", "读取 .env 失败", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, newConfigError(settingsFile, "CONFIG_READ_ERROR", "读取配置文件失败", err)
		}
	}
	return v, nil
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("fetch_timeout", d.FetchTimeout)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("allow_alternate", d.AllowAlternate)
	v.SetDefault("dev_rules.enabled", d.DevRules.Enabled)
	v.SetDefault("dev_rules.via", d.DevRules.Via)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.writers", d.Log.Writers)
	v.SetDefault("serve.listen", d.Serve.Listen)
	v.SetDefault("resources.mirrors", d.Resources.Mirrors)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, newConfigError(v.ConfigFileUsed(), "CONFIG_INVALID", "配置格式不合法", err)
	}
	if err := s.Validate(); err != nil {
		return nil, newConfigError(v.ConfigFileUsed(), "CONFIG_INVALID", "配置值不合法", err)
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	switch s.Cache.Backend {
	case CacheBackendDir, CacheBackendSQLite:
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", CacheBackendDir, CacheBackendSQLite, s.Cache.Backend)
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", s.Log.Level)
	}
	if s.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", s.MaxConcurrency)
	}
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %s", s.FetchTimeout)
	}
	return nil
}
