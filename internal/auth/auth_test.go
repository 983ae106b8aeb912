package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/defiintel/internal/testutil"
)

func newTestManager(opts ...Option) (*Manager, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(NewMemoryStore(), opts...)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestGenerateKey(t *testing.T) {
	m, _ := newTestManager()

	raw, key, err := m.GenerateKey(context.Background(), "  ci pipeline ", 0)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "sk_"))
	assert.Len(t, raw, 67) // "sk_" + 64 hex chars
	assert.True(t, strings.HasPrefix(key.ID, "ak_"))
	assert.Equal(t, "ci pipeline", key.Name)
	assert.Equal(t, hashKey(raw), key.Hash)
	assert.NotContains(t, key.Hash, raw)
	assert.Nil(t, key.ExpiresAt)
}

func TestValidateKey(t *testing.T) {
	ctx := context.Background()

	t.Run("raw and bearer forms", func(t *testing.T) {
		m, _ := newTestManager()
		raw, issued, err := m.GenerateKey(ctx, "primary", 0)
		require.NoError(t, err)

		key, err := m.ValidateKey(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, issued.ID, key.ID)

		key, err = m.ValidateKey(ctx, "Bearer "+raw)
		require.NoError(t, err)
		assert.Equal(t, issued.ID, key.ID)
	})

	t.Run("empty and unknown keys", func(t *testing.T) {
		m, _ := newTestManager()
		_, err := m.ValidateKey(ctx, "")
		assert.ErrorIs(t, err, ErrNoAPIKey)
		_, err = m.ValidateKey(ctx, "sk_nope")
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
		_, err = m.ValidateKey(ctx, "no-prefix")
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})

	t.Run("revoked key", func(t *testing.T) {
		m, _ := newTestManager()
		raw, key, err := m.GenerateKey(ctx, "old", 0)
		require.NoError(t, err)
		require.NoError(t, m.RevokeKey(ctx, key.ID))

		_, err = m.ValidateKey(ctx, raw)
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})

	t.Run("expired key", func(t *testing.T) {
		m, now := newTestManager()
		raw, _, err := m.GenerateKey(ctx, "short", time.Hour)
		require.NoError(t, err)

		_, err = m.ValidateKey(ctx, raw)
		require.NoError(t, err)

		*now = now.Add(time.Hour)
		_, err = m.ValidateKey(ctx, raw)
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})

	t.Run("records last use", func(t *testing.T) {
		m, _ := newTestManager()
		raw, key, err := m.GenerateKey(ctx, "busy", 0)
		require.NoError(t, err)

		_, err = m.ValidateKey(ctx, raw)
		require.NoError(t, err)

		keys, err := m.ListKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, key.ID, keys[0].ID)
		require.NotNil(t, keys[0].LastUsed)
	})

	t.Run("admin key", func(t *testing.T) {
		m, _ := newTestManager(WithAdminKey("operator-secret"))
		key, err := m.ValidateKey(ctx, "Bearer operator-secret")
		require.NoError(t, err)
		assert.True(t, key.Admin())

		_, err = m.ValidateKey(ctx, "operator-secreT")
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})
}

func TestRevokeKey_Unknown(t *testing.T) {
	m, _ := newTestManager()
	assert.ErrorIs(t, m.RevokeKey(context.Background(), "ak_missing"), ErrKeyNotFound)
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := base.Add(24 * time.Hour)

	first := &APIKey{ID: "ak_1", Hash: "h1", Name: "first", CreatedAt: base, ExpiresAt: &exp}
	second := &APIKey{ID: "ak_2", Hash: "h2", Name: "second", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	t.Run("get by hash", func(t *testing.T) {
		got, err := store.GetByHash(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, "ak_1", got.ID)
		assert.Equal(t, "first", got.Name)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, exp.Equal(*got.ExpiresAt))

		_, err = store.GetByHash(ctx, "missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		got, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ak_2", got[0].ID)
	})

	t.Run("update", func(t *testing.T) {
		used := base.Add(time.Hour)
		upd := &APIKey{ID: "ak_2", Hash: "h2", Name: "second", CreatedAt: second.CreatedAt, LastUsed: &used, Revoked: true}
		require.NoError(t, store.Update(ctx, upd))

		got, err := store.GetByHash(ctx, "h2")
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		require.NotNil(t, got.LastUsed)
		assert.True(t, used.Equal(*got.LastUsed))

		assert.ErrorIs(t, store.Update(ctx, &APIKey{ID: "ak_missing"}), ErrKeyNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	storeContract(t, NewPostgresStore(db))
}
