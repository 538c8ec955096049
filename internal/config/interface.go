package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Option configures Load.
type Option func(*options) error

type options struct {
	configPath string
	envPrefix  string
	flags      *pflag.FlagSet
	dotenv     []string
}

// WithConfigFile names an explicit configuration file. A missing explicit
// file is an error; a missing searched-for file is not.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix.
// Default is "PADCTL".
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithDotEnv loads the given .env files into the environment before
// reading it. Files that do not exist are skipped.
func WithDotEnv(paths ...string) Option {
	return func(o *options) error {
		o.dotenv = append(o.dotenv, paths...)
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

func (l LogLevel) String() string {
	return string(l)
}

// ValidationError names the offending configuration key.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (%v): %s", e.Field, e.Value, e.Reason)
}
