package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/padctl/internal/config"
	"codeberg.org/mutker/padctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "padctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()

	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
user_id = "alice"

[device]
address = "ws://bridge:8765/pad"
confirm_timeout = "3s"

[session]
idle_timeout = "90s"
integration = "hold"

[calories]
model = "fixed_met"
weight_kg = 82.5

[preferences]
max_speed = 5.0
start_speed = 1.5
sensitivity = 3
units_miles = true

[database]
path = "/tmp/pad.db"

[telemetry]
enabled = true
`)
	t.Setenv("PADCTL_CONFIG", path)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, "ws://bridge:8765/pad", cfg.Device.Address)
	assert.Equal(t, 3*time.Second, cfg.Device.ConfirmTimeout)
	assert.Equal(t, 10*time.Second, cfg.Device.LivenessWindow)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, "hold", cfg.Session.Integration)
	assert.Equal(t, "fixed_met", cfg.Calories.Model)
	assert.InDelta(t, 82.5, cfg.Calories.WeightKg, 1e-9)
	assert.InDelta(t, 5.0, cfg.Preferences.MaxSpeed, 1e-9)
	assert.Equal(t, 3, cfg.Preferences.Sensitivity)
	assert.True(t, cfg.Preferences.UnitsMiles)
	assert.Equal(t, "/tmp/pad.db", cfg.Database.Path)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 30, cfg.Telemetry.BatchSize)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PADCTL_CONFIG", "")
	chdir(t, t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "default", cfg.UserID)
	assert.Equal(t, 5*time.Second, cfg.Device.ConfirmTimeout)
	assert.Equal(t, 690*time.Millisecond, cfg.Device.CommandSpacing)
	assert.Equal(t, 2*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, "trapezoid", cfg.Session.Integration)
	assert.InDelta(t, 0.7, cfg.Session.StrideLengthM, 1e-9)
	assert.Equal(t, "met_bands", cfg.Calories.Model)
	assert.InDelta(t, 6.0, cfg.Preferences.MaxSpeed, 1e-9)
	assert.True(t, cfg.Database.BackupOnMigrate)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[session]
idle_timeout = "90s"
`)
	t.Setenv("PADCTL_CONFIG", path)
	t.Setenv("PADCTL_SESSION_IDLE_TIMEOUT", "45s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Session.IdleTimeout)
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Setenv("PADCTL_CONFIG", writeConfig(t, `log_level = "error"`))
	t.Setenv("PADCTL_DEVICE_ADDRESS", "ws://env/pad")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "", "")
	fs.String("address", "", "")
	fs.String("db", "", "")
	require.NoError(t, fs.Parse([]string{"--log-level", "info", "--address", "ws://flag/pad"}))

	cfg, err := config.Load(config.WithFlags(fs))
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelInfo, cfg.LogLevel)
	assert.Equal(t, "ws://flag/pad", cfg.Device.Address)
	assert.Equal(t, "/var/lib/padctl/padctl.db", cfg.Database.Path, "unset flags keep defaults")
}

func TestDotEnv(t *testing.T) {
	t.Setenv("PADCTL_CONFIG", "")
	chdir(t, t.TempDir())

	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("PADCTL_USER_ID=bob\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PADCTL_USER_ID") })

	cfg, err := config.Load(config.WithDotEnv(env, filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.UserID)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	t.Setenv("PADCTL_CONFIG", writeConfig(t, "This is not a valid TOML file"))

	_, err := config.Load()
	assert.True(t, errors.HasCode(err, config.ErrReadConfig))
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := config.Load(config.WithConfigFile(filepath.Join(t.TempDir(), "nope.toml")))
	assert.True(t, errors.HasCode(err, config.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv("PADCTL_CONFIG", writeConfig(t, `log_level = "invalid"`))

	_, err := config.Load()
	assert.True(t, errors.HasCode(err, config.ErrInvalidLogLevel))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"integration", "[session]\nintegration = \"simpson\"", "session.integration"},
		{"calorie model", "[calories]\nmodel = \"guess\"", "calories.model"},
		{"weight", "[calories]\nweight_kg = 0", "calories.weight_kg"},
		{"idle timeout", "[session]\nidle_timeout = \"0s\"", "session.idle_timeout"},
		{"empty user", "user_id = \"\"", "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PADCTL_CONFIG", writeConfig(t, tt.content))

			_, err := config.Load()
			require.True(t, errors.HasCode(err, config.ErrInvalidConfig), "got %v", err)

			var verr *config.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestInvalidPreferences(t *testing.T) {
	t.Setenv("PADCTL_CONFIG", writeConfig(t, "[preferences]\nmax_speed = 9.0"))

	_, err := config.Load()
	assert.True(t, errors.HasCode(err, config.ErrInvalidConfig))
}

func TestEnvPrefix(t *testing.T) {
	t.Setenv("PADCTL_CONFIG", "")
	t.Setenv("PADCTL_USER_ID", "ignored")
	t.Setenv("WALK_USER_ID", "bob")
	chdir(t, t.TempDir())

	cfg, err := config.Load(config.WithEnvPrefix("WALK"))
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.UserID)
}
