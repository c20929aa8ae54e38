package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeychainRoundTrip(t *testing.T) {
	t.Parallel()

	kc, err := NewFileKeychain(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	_, err = kc.ReadPassword(ctx, "svc", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kc.WritePassword(ctx, "svc", "k1", "secret-value"))

	got, err := kc.ReadPassword(ctx, "svc", "k1")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", got)

	require.NoError(t, kc.DeletePassword(ctx, "svc", "k1"))

	_, err = kc.ReadPassword(ctx, "svc", "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an already-absent secret is not an error.
	require.NoError(t, kc.DeletePassword(ctx, "svc", "k1"))
}

func TestKeyName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "accountsync-evernote-42-shard1", KeyName("accountsync", 42, "shard1"))
}

func TestErrNotFoundIsSentinel(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.Is(ErrNotFound, ErrNotFound))
}
