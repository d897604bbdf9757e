package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGenerationGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	ok, err := store.Save(ctx, "tab-7", 2, []byte(`{"tldr":"new"}`))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Save(ctx, "tab-7", 1, []byte(`{"tldr":"stale"}`))
	require.NoError(t, err)
	require.False(t, ok)

	payload, err := store.Load(ctx, "tab-7")
	require.NoError(t, err)
	require.JSONEq(t, `{"tldr":"new"}`, string(payload))

	ok, err = store.Save(ctx, "tab-7", 3, []byte(`{"tldr":"newer"}`))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStoreNotFoundAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	_, err := store.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Save(ctx, "k", 1, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Load(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	_, err := store.Save(ctx, "k", 5, []byte("x"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Save(ctx, "k", 1, []byte("y"))
	require.NoError(t, err)
	require.True(t, ok, "expired records do not guard newer writes")
}

func TestMemoryStoreReserve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	first, err := store.Reserve(ctx, "tab-1")
	require.NoError(t, err)
	second, err := store.Reserve(ctx, "tab-1")
	require.NoError(t, err)
	require.Greater(t, second, first)

	other, err := store.Reserve(ctx, "tab-2")
	require.NoError(t, err)
	require.Equal(t, uint64(1), other)

	ok, err := store.Save(ctx, "tab-3", 40, []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	next, err := store.Reserve(ctx, "tab-3")
	require.NoError(t, err)
	require.Equal(t, uint64(41), next, "reserved generations pass the stored one")

	require.NoError(t, store.Delete(ctx, "tab-1"))
	after, err := store.Reserve(ctx, "tab-1")
	require.NoError(t, err)
	require.Greater(t, after, second)
}
