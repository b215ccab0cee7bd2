package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderBackendRoundTrip(t *testing.T) {
	b := NewFolderBackend(t.TempDir())
	ctx := context.Background()
	data := []byte("some file body")

	hash, err := b.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(data), hash)

	ok, err := b.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := b.Fetch(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFolderBackendMiss(t *testing.T) {
	b := NewFolderBackend(t.TempDir())
	ctx := context.Background()
	missing := HashBytes([]byte("never stored"))

	ok, err := b.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.Fetch(ctx, missing)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFolderBackendPutIsIdempotent(t *testing.T) {
	b := NewFolderBackend(t.TempDir())
	ctx := context.Background()
	data := []byte("dedupe me")

	h1, err := b.Put(ctx, data)
	require.NoError(t, err)
	h2, err := b.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestFetchDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	b := NewFolderBackend(dir)
	ctx := context.Background()

	hash, err := b.Put(ctx, []byte("original"))
	require.NoError(t, err)

	// Overwrite the stored object with bytes for different content.
	other := NewFolderBackend(t.TempDir())
	otherHash, err := other.Put(ctx, []byte("tampered"))
	require.NoError(t, err)
	src := filepath.Join(other.root, filepath.FromSlash(shardKey(otherHash))+".zst")
	dst := filepath.Join(dir, filepath.FromSlash(shardKey(hash))+".zst")
	raw, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, raw, 0644))

	_, err = b.Fetch(ctx, hash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestShardKeySpreadsByPrefix(t *testing.T) {
	h := HashBytes([]byte("x"))
	key := shardKey(h)
	assert.Equal(t, h[0:2]+"/"+h[2:4]+"/"+h, key)
}
