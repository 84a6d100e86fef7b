package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaplab/swapd/internal/config"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// tempHome isolates a test from the user's real ~/.swapd.
func tempHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SWAPD_HOME", dir)
	config.SetConfigDir(dir)
	t.Cleanup(func() { config.SetConfigDir("") })
	return dir
}

func TestVerboseAndQuietAreExclusive(t *testing.T) {
	tempHome(t)
	_, _, err := execute(t, "--verbose", "--quiet", "config", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestConfigGetSetRoundTrip(t *testing.T) {
	dir := tempHome(t)

	_, _, err := execute(t, "--config-dir", dir, "config", "set", "cores", "6")
	require.NoError(t, err)

	out, _, err := execute(t, "--config-dir", dir, "config", "get", "cores")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)
}

func TestConfigListPrintsEveryKey(t *testing.T) {
	dir := tempHome(t)

	out, _, err := execute(t, "--config-dir", dir, "config", "list")
	require.NoError(t, err)
	for _, key := range config.Keys() {
		assert.Contains(t, out, key)
	}
}

func TestProvisionCreatesImage(t *testing.T) {
	dir := tempHome(t)

	image := filepath.Join(dir, "swap.img")
	require.NoError(t, config.Set("image_path", image))
	require.NoError(t, config.Set("cores", "1"))
	require.NoError(t, config.Set("segment_size", "64KB"))

	_, _, err := execute(t, "--config-dir", dir, "provision")
	require.NoError(t, err)

	info, err := os.Stat(image)
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), info.Size())
}

func TestProvisionRefusesOverwrite(t *testing.T) {
	dir := tempHome(t)

	image := filepath.Join(dir, "swap.img")
	require.NoError(t, config.Set("image_path", image))
	require.NoError(t, config.Set("cores", "1"))
	require.NoError(t, config.Set("segment_size", "64KB"))

	_, _, err := execute(t, "--config-dir", dir, "provision")
	require.NoError(t, err)
	_, _, err = execute(t, "--config-dir", dir, "provision")
	require.Error(t, err)
	_, _, err = execute(t, "--config-dir", dir, "provision", "--force")
	require.NoError(t, err)
}
