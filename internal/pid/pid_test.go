package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "padctl.pid")

	require.NoError(t, pid.Write(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	err = pid.Write(path)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))

	require.NoError(t, pid.Remove(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, pid.Remove(path))
}

func TestStaleFileReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padctl.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid\n"), 0o600))

	require.NoError(t, pid.Write(path))
}

func TestRemoveLeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padctl.pid")
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o600))

	require.NoError(t, pid.Remove(path))
	assert.FileExists(t, path)
}
