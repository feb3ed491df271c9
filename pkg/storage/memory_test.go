package storage

import (
	"context"
	"testing"

	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStorageCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()

	require.NoError(t, s.Create(ctx, "a", 1))
	assert.ErrorIs(t, s.Create(ctx, "a", 2), pkgerrors.ErrEntityExists)

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, s.Update(ctx, "a", 42))
	v, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestInMemoryStorageEmptyKey(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()

	assert.ErrorIs(t, s.Create(ctx, "", 1), pkgerrors.ErrEmptyKey)
	_, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyKey)
}

func TestInMemoryStorageList(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()

	require.NoError(t, s.Create(ctx, "b", 2))
	require.NoError(t, s.Create(ctx, "a", 1))
	require.NoError(t, s.Create(ctx, "c", 3))

	values, total, err := s.List(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	assert.Equal(t, []any{1, 2}, values)

	values, total, err = s.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	assert.Equal(t, []any{3}, values)
}
