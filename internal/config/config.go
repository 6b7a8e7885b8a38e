package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "PIISENTINEL"

var (
	validDetectors = map[string]bool{"all": true, "phone": true, "aadhar": true, "passport": true, "upi_id": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Loader reads configuration from defaults, a YAML file and environment variables
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader; an empty configPath searches the default locations
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-sentinel/")
	v.AddConfigPath("$HOME/.pii-sentinel/")

	// Environment variable overrides
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, "", reflect.ValueOf(*GetDefaults()))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	return &Loader{v: v, path: configPath}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads, unmarshals and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch starts watching the configuration file for changes. Invalid
// configurations are reported to onError and never reach callback.
func (l *Loader) Watch(callback func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks a configuration for values the services cannot run with
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.Server.RateLimit.RequestsPerMin)
	}

	for _, d := range config.Privacy.Detectors {
		if !validDetectors[d] {
			return fmt.Errorf("unknown detector: %s", d)
		}
	}

	if t := config.Privacy.CombinatorialThreshold; t < 1 || t > 5 {
		return fmt.Errorf("invalid combinatorial threshold: %d (must be between 1 and 5)", t)
	}

	if config.Scan.BatchSize <= 0 {
		return fmt.Errorf("invalid scan batch size: %d", config.Scan.BatchSize)
	}

	if config.Scan.Workers <= 0 {
		return fmt.Errorf("invalid scan worker count: %d", config.Scan.Workers)
	}

	if strings.TrimSpace(config.Scan.RecordIDColumn) == "" {
		return fmt.Errorf("scan record id column must not be empty")
	}

	if len(config.Scan.JSONColumns) == 0 {
		return fmt.Errorf("scan json columns must not be empty")
	}

	if config.Storage.Enabled && config.Storage.DatabaseURL == "" {
		return fmt.Errorf("storage is enabled but database_url is empty")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache is enabled but redis_url is empty")
	}

	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Metrics.Enabled && !strings.HasPrefix(config.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path: %q", config.Metrics.Path)
	}

	return nil
}

// setDefaults registers every field of val as a viper default so that
// environment overrides apply even to keys absent from the config file.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		field := val.Field(i)
		if field.Kind() == reflect.Struct {
			setDefaults(v, key, field)
			continue
		}
		v.SetDefault(key, field.Interface())
	}
}
