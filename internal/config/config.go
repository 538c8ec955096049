// Package config loads padctl configuration from file, environment and
// command line flags, in increasing order of precedence.
package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/logger"
	"codeberg.org/mutker/padctl/internal/settings"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "PADCTL"
	DefaultLogLevel  = LogLevelWarning

	configName = "padctl"
	configType = "toml"
)

type Config struct {
	LogLevel LogLevel `mapstructure:"log_level"`
	Debug    bool     `mapstructure:"debug"`
	Verbose  bool     `mapstructure:"verbose"`
	UserID   string   `mapstructure:"user_id"`
	PIDFile  string   `mapstructure:"pid_file"`

	Device      Device               `mapstructure:"device"`
	Session     Session              `mapstructure:"session"`
	Calories    Calories             `mapstructure:"calories"`
	Preferences settings.Preferences `mapstructure:"preferences"`
	Database    Database             `mapstructure:"database"`
	Telemetry   Telemetry            `mapstructure:"telemetry"`
}

type Device struct {
	Address              string        `mapstructure:"address"`
	Simulate             bool          `mapstructure:"simulate"`
	ConfirmTimeout       time.Duration `mapstructure:"confirm_timeout"`
	LivenessWindow       time.Duration `mapstructure:"liveness_window"`
	CommandSpacing       time.Duration `mapstructure:"command_spacing"`
	ReconnectMaxInterval time.Duration `mapstructure:"reconnect_max_interval"`
}

type Session struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	Integration     string        `mapstructure:"integration"`
	StrideLengthM   float64       `mapstructure:"stride_length_m"`
	PersistAttempts int           `mapstructure:"persist_attempts"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	FlushTimeout    time.Duration `mapstructure:"flush_timeout"`
}

type Calories struct {
	Model    string  `mapstructure:"model"`
	MET      float64 `mapstructure:"met"`
	Factor   float64 `mapstructure:"factor"`
	WeightKg float64 `mapstructure:"weight_kg"`
}

type Database struct {
	Path            string `mapstructure:"path"`
	BackupOnMigrate bool   `mapstructure:"backup_on_migrate"`
	BackupDir       string `mapstructure:"backup_dir"`
}

type Telemetry struct {
	Enabled      bool          `mapstructure:"enabled"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

var defaults = map[string]any{
	"log_level": string(DefaultLogLevel),
	"debug":     false,
	"verbose":   false,
	"user_id":   "default",
	"pid_file":  "/run/padctl/padctl.pid",

	"device.address":                "",
	"device.simulate":               false,
	"device.confirm_timeout":        5 * time.Second,
	"device.liveness_window":        10 * time.Second,
	"device.command_spacing":        690 * time.Millisecond,
	"device.reconnect_max_interval": 30 * time.Second,

	"session.idle_timeout":     2 * time.Minute,
	"session.integration":      "trapezoid",
	"session.stride_length_m":  0.7,
	"session.persist_attempts": 5,
	"session.persist_interval": 500 * time.Millisecond,
	"session.retry_interval":   30 * time.Second,
	"session.flush_timeout":    5 * time.Second,

	"calories.model":     "met_bands",
	"calories.met":       3.5,
	"calories.factor":    1.036,
	"calories.weight_kg": 70.0,

	"preferences.max_speed":   6.0,
	"preferences.start_speed": 2.0,
	"preferences.sensitivity": 2,
	"preferences.child_lock":  false,
	"preferences.units_miles": false,

	"database.path":              "/var/lib/padctl/padctl.db",
	"database.backup_on_migrate": true,
	"database.backup_dir":        "",

	"telemetry.enabled":       false,
	"telemetry.batch_size":    30,
	"telemetry.batch_timeout": 10 * time.Second,
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"debug":     "debug",
	"verbose":   "verbose",
	"user":      "user_id",
	"pid-file":  "pid_file",
	"address":   "device.address",
	"simulate":  "device.simulate",
	"db":        "database.path",
	"telemetry": "telemetry.enabled",
}

// WithFlags binds the known flags of fs. Only flags set on the command line
// override other sources.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *options) error {
		o.flags = fs
		return nil
	}
}

// Load reads defaults, the config file, the environment and flags.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
	}

	for _, path := range o.dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errFactory.WithData(ErrReadConfig, struct {
				Path  string
				Error string
			}{
				Path:  path,
				Error: err.Error(),
			})
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		for name, key := range flagKeys {
			f := o.flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(ErrBindFlags, err)
			}
		}
	}

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath("/etc/padctl")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "padctl"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errFactory.WithData(ErrReadConfig, struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}

	return nil
}

// Validate checks ranges and enumerations. Device addressing is checked
// by the link when the daemon starts.
func (c *Config) Validate() error {
	errFactory := errors.New()
	invalid := func(field string, value any, reason string) error {
		return errFactory.Wrap(ErrInvalidConfig, &ValidationError{Field: field, Value: value, Reason: reason})
	}

	if _, err := logger.ParseLevel(string(c.LogLevel)); err != nil {
		return err
	}
	if c.UserID == "" {
		return invalid("user_id", c.UserID, "must not be empty")
	}

	for field, d := range map[string]time.Duration{
		"device.confirm_timeout":        c.Device.ConfirmTimeout,
		"device.liveness_window":        c.Device.LivenessWindow,
		"device.reconnect_max_interval": c.Device.ReconnectMaxInterval,
		"session.idle_timeout":          c.Session.IdleTimeout,
		"session.persist_interval":      c.Session.PersistInterval,
		"session.retry_interval":        c.Session.RetryInterval,
		"session.flush_timeout":         c.Session.FlushTimeout,
	} {
		if d <= 0 {
			return invalid(field, d, "must be positive")
		}
	}
	if c.Device.CommandSpacing < 0 {
		return invalid("device.command_spacing", c.Device.CommandSpacing, "must not be negative")
	}

	switch c.Session.Integration {
	case "trapezoid", "hold":
	default:
		return invalid("session.integration", c.Session.Integration, "must be trapezoid or hold")
	}
	if c.Session.StrideLengthM <= 0 {
		return invalid("session.stride_length_m", c.Session.StrideLengthM, "must be positive")
	}
	if c.Session.PersistAttempts < 1 {
		return invalid("session.persist_attempts", c.Session.PersistAttempts, "must be at least 1")
	}

	switch c.Calories.Model {
	case "met_bands", "fixed_met":
	default:
		return invalid("calories.model", c.Calories.Model, "must be met_bands or fixed_met")
	}
	if c.Calories.WeightKg <= 0 {
		return invalid("calories.weight_kg", c.Calories.WeightKg, "must be positive")
	}

	if err := c.Preferences.Validate(); err != nil {
		return errFactory.Wrap(ErrInvalidConfig, err)
	}

	if c.Database.Path == "" {
		return invalid("database.path", c.Database.Path, "must not be empty")
	}
	if c.Telemetry.Enabled && (c.Telemetry.BatchSize <= 0 || c.Telemetry.BatchTimeout <= 0) {
		return invalid("telemetry.batch_size", c.Telemetry.BatchSize, "batching must be positive when enabled")
	}

	return nil
}
