package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	base := Config{Width: 640, Height: 480, Format: FormatBGRA32, BufferCount: 3, AudioCapacity: 4096}

	assert.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"zero height", func(c *Config) { c.Height = 0 }},
		{"unknown format", func(c *Config) { c.Format = PixelFormat(7) }},
		{"single buffer", func(c *Config) { c.BufferCount = 1 }},
		{"zero buffers", func(c *Config) { c.BufferCount = 0 }},
		{"five buffers", func(c *Config) { c.BufferCount = 5 }},
		{"no audio ring", func(c *Config) { c.AudioCapacity = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigDegraded(t *testing.T) {
	cfg := Config{Width: 64, Height: 48, Format: FormatBGRA32, BufferCount: 2, AudioCapacity: 4096}
	assert.NoError(t, cfg.Validate(), "two buffers is legal")
	assert.True(t, cfg.Degraded(), "but below the triple-buffer threshold")

	cfg.BufferCount = 3
	assert.False(t, cfg.Degraded())
	cfg.BufferCount = 4
	assert.False(t, cfg.Degraded())
}

func TestLayoutSections(t *testing.T) {
	cfg := Config{Width: 1920, Height: 1080, Format: FormatBGRA32, BufferCount: 3, AudioCapacity: 1 << 20}
	lay, err := NewLayout(cfg)
	require.NoError(t, err)

	assert.Equal(t, uint64(1920*1080*4), lay.BufferSize)

	// Sections are cache-line aligned and strictly ordered.
	offsets := []int{
		lay.MetadataOffset, lay.DataOffset, lay.CursorMetaOffset,
		lay.AudioOffset, lay.AudioDataOffset, lay.TotalSize,
	}
	for i := 1; i < len(offsets); i++ {
		assert.Greater(t, offsets[i], offsets[i-1])
	}
	assert.Zero(t, lay.DataOffset%64)
	assert.Zero(t, lay.CursorMetaOffset%64)
	assert.Zero(t, lay.AudioOffset%64)

	// Buffers tile the data section without overlap.
	for i := uint32(0); i < 3; i++ {
		off := lay.BufferOffsetFor(i)
		assert.Equal(t, lay.DataOffset+int(i)*int(lay.BufferSize), off)
	}
	assert.LessOrEqual(t, lay.BufferOffsetFor(2)+int(lay.BufferSize), lay.CursorMetaOffset)
}

func TestLayoutNV12(t *testing.T) {
	cfg := Config{Width: 640, Height: 480, Format: FormatNV12, BufferCount: 2, AudioCapacity: 4096}
	lay, err := NewLayout(cfg)
	require.NoError(t, err)

	// Y plane plus half-res interleaved UV.
	assert.Equal(t, uint64(640*480+320*240*2), lay.BufferSize)
}

func TestCheckRegionExactBoundary(t *testing.T) {
	cfg := Config{Width: 64, Height: 48, Format: FormatBGRA32, BufferCount: 3, AudioCapacity: 4096}
	lay, err := NewLayout(cfg)
	require.NoError(t, err)

	assert.NoError(t, lay.CheckRegion(lay.TotalSize))
	assert.NoError(t, lay.CheckRegion(lay.TotalSize+1))
	assert.ErrorIs(t, lay.CheckRegion(lay.TotalSize-1), ErrInsufficientRegion)
}

func TestNextIndexSkipsNothing(t *testing.T) {
	cfg := Config{Width: 64, Height: 48, Format: FormatBGRA32, BufferCount: 3, AudioCapacity: 4096}
	lay, err := NewLayout(cfg)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), lay.NextIndex(0))
	assert.Equal(t, uint32(2), lay.NextIndex(1))
	assert.Equal(t, uint32(0), lay.NextIndex(2))
}
