package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggerTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithOutput(&buf, true, false, true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	log := logger.New("device")
	log.Info().Int("speed", 30).Msg("Speed changed")

	out := buf.String()
	assert.Contains(t, out, "Speed changed")
	assert.Contains(t, out, "component=device")
	assert.Contains(t, out, "speed=30")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithOutput(&buf, false, false, true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	logger.New("session").Info().Msg("hidden")
	logger.New("session").Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithOutput(&buf, true, false, true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	err := errors.New().New(errors.ErrPersistenceFailure)
	logger.New("store").ErrorWithCode(err).Msg("write failed")

	assert.Contains(t, buf.String(), "persistence_failure")
}

func TestNopDiscards(t *testing.T) {
	log := logger.Nop()
	assert.NotPanics(t, func() {
		log.Error().Str("k", "v").Msg("nothing")
		log.With("child").Debug().Send()
	})
}

func TestParseLevel(t *testing.T) {
	lvl, err := logger.ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, logger.WarnLevel, lvl)

	lvl, err = logger.ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, lvl)

	_, err = logger.ParseLevel("loud")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}
