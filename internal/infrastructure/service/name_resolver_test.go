package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

type mapStore struct {
	names  map[shared.UserID]string
	writes int
	err    error
}

func (m *mapStore) DisplayName(_ context.Context, _ shared.ChatID, userID shared.UserID) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	name, ok := m.names[userID]
	if !ok {
		return "", errors.New("miss")
	}
	return name, nil
}

func (m *mapStore) RememberName(_ context.Context, _ shared.ChatID, userID shared.UserID, name string) error {
	m.writes++
	m.names[userID] = name
	return nil
}

type countingLookup struct {
	name  string
	err   error
	calls int
}

func (c *countingLookup) DisplayName(context.Context, shared.ChatID, shared.UserID) (string, error) {
	c.calls++
	return c.name, c.err
}

func TestNameResolver_CacheHitSkipsLookup(t *testing.T) {
	store := &mapStore{names: map[shared.UserID]string{7: "Ana"}}
	lookup := &countingLookup{name: "other"}
	r := NewNameResolver(store, lookup, nil)

	name, err := r.DisplayName(context.Background(), -100, 7)
	require.NoError(t, err)
	assert.Equal(t, "Ana", name)
	assert.Zero(t, lookup.calls)
}

func TestNameResolver_MissWritesBack(t *testing.T) {
	store := &mapStore{names: map[shared.UserID]string{}}
	lookup := &countingLookup{name: "Luis"}
	r := NewNameResolver(store, lookup, nil)

	name, err := r.DisplayName(context.Background(), -100, 8)
	require.NoError(t, err)
	assert.Equal(t, "Luis", name)
	assert.Equal(t, "Luis", store.names[8])

	_, _ = r.DisplayName(context.Background(), -100, 8)
	assert.Equal(t, 1, lookup.calls)
}

func TestNameResolver_CacheErrorFallsThrough(t *testing.T) {
	store := &mapStore{names: map[shared.UserID]string{}, err: errors.New("redis down")}
	r := NewNameResolver(store, &countingLookup{name: "Eva"}, nil)

	name, err := r.DisplayName(context.Background(), -100, 9)
	require.NoError(t, err)
	assert.Equal(t, "Eva", name)
}

func TestNameResolver_Unknown(t *testing.T) {
	r := NewNameResolver(nil, nil, nil)
	_, err := r.DisplayName(context.Background(), -100, 9)
	assert.ErrorIs(t, err, ErrNameUnknown)

	r = NewNameResolver(nil, &countingLookup{}, nil)
	_, err = r.DisplayName(context.Background(), -100, 9)
	assert.ErrorIs(t, err, ErrNameUnknown)

	assert.NoError(t, r.RememberName(context.Background(), -100, 9, "x"))
}

func TestNameResolver_LookupError(t *testing.T) {
	boom := errors.New("forbidden")
	r := NewNameResolver(nil, &countingLookup{err: boom}, nil)
	_, err := r.DisplayName(context.Background(), -100, 9)
	assert.ErrorIs(t, err, boom)
}
