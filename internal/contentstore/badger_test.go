package contentstore_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagedata/datamarket/internal/contentstore"
	derrors "github.com/vantagedata/datamarket/pkg/errors"
)

func setupStore(t *testing.T) *contentstore.BadgerStore {
	store, err := contentstore.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	payload := []byte("timestamp,heart_rate\n2025-01-01T00:00:00Z,72\n")
	ref, err := store.Put(ctx, payload)
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), ref)

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	ok, err := store.Has(ctx, ref)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestPutIsIdempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	payload := []byte("same bytes")
	first, err := store.Put(ctx, payload)
	require.NoError(t, err)
	second, err := store.Put(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := store.Put(ctx, []byte("different bytes"))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestGetMissing(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "deadbeef")
	assert.True(t, derrors.Is(err, derrors.ErrNotFound))

	ok, err := store.Has(ctx, "deadbeef")
	assert.NoError(t, err)
	assert.False(t, ok)
}
