package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := store.Exists(ctx, "models/a.bin")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "models/a.bin")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "models/a.bin", strings.NewReader("payload")))

	ok, err = store.Exists(ctx, "models/a.bin")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Get(ctx, "models/a.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	// Puts replace.
	require.NoError(t, store.Put(ctx, "models/a.bin", strings.NewReader("v2")))
	rc, err = store.Get(ctx, "models/a.bin")
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "v2", string(data))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}
