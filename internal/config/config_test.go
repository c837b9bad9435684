package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmcast/shmcast/internal/protocol"
)

func resetConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	cfg = nil
	configPathOverride = ""
	t.Cleanup(func() {
		viper.Reset()
		cfg = nil
		configPathOverride = ""
	})
}

func TestDefaults(t *testing.T) {
	resetConfig(t)
	require.NoError(t, Init())

	c := Get()
	assert.Equal(t, "/dev/shm/shmcast", c.Region.Path)
	assert.Equal(t, uint32(1920), c.Region.Width)
	assert.Equal(t, uint32(1080), c.Region.Height)
	assert.Equal(t, "bgra32", c.Region.Format)
	assert.Equal(t, uint32(3), c.Region.BufferCount)
	assert.Equal(t, "127.0.0.1:8970", c.Host.ListenAddress)
	assert.Equal(t, 60, c.Agent.TargetFPS)
	assert.Equal(t, uint32(48000), c.Agent.SampleRate)
}

func TestFileOverridesMergePerKey(t *testing.T) {
	resetConfig(t)

	path := filepath.Join(t.TempDir(), "shmcast.toml")
	content := `
[region]
width = 1280
height = 720

[agent]
target_fps = 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	SetConfigPath(path)
	require.NoError(t, Init())

	c := Get()
	assert.Equal(t, uint32(1280), c.Region.Width)
	assert.Equal(t, uint32(720), c.Region.Height)
	assert.Equal(t, 30, c.Agent.TargetFPS)

	// Keys the file does not mention keep their defaults.
	assert.Equal(t, "bgra32", c.Region.Format)
	assert.Equal(t, uint32(3), c.Region.BufferCount)
}

func TestGetBeforeInitReturnsDefaults(t *testing.T) {
	resetConfig(t)
	c := Get()
	assert.Equal(t, DefaultConfig.Region.Path, c.Region.Path)
}

func TestRegionPixelFormat(t *testing.T) {
	f, err := RegionConfig{Format: ""}.PixelFormat()
	require.NoError(t, err)
	assert.Equal(t, protocol.FormatBGRA32, f)

	f, err = RegionConfig{Format: "nv12"}.PixelFormat()
	require.NoError(t, err)
	assert.Equal(t, protocol.FormatNV12, f)

	_, err = RegionConfig{Format: "cmyk"}.PixelFormat()
	assert.ErrorIs(t, err, protocol.ErrUnsupportedFormat)
}
