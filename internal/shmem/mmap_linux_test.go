//go:build linux

package shmem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	w, err := Create(path, 8192)
	require.NoError(t, err)
	assert.Equal(t, 8192, w.Size())
	assert.Equal(t, path, w.Name())

	copy(w.Bytes(), []byte("shared"))

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, r.Size())
	assert.Equal(t, []byte("shared"), r.Bytes()[:6])

	// The two mappings alias the same pages.
	w.Bytes()[0] = 'S'
	assert.Equal(t, byte('S'), r.Bytes()[0])

	require.NoError(t, r.Close())
	require.NoError(t, w.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
