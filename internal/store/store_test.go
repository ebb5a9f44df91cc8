package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "drafts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "tok")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SetVersion(ctx, "tok", quest.Lite))
			d, err := s.Get(ctx, "tok")
			require.NoError(t, err)
			assert.Equal(t, quest.Lite, d.Version)
			assert.False(t, d.HasData())

			require.NoError(t, s.SaveData(ctx, "tok", json.RawMessage(`{"Aspirations":"fly"}`)))
			require.NoError(t, s.SaveData(ctx, "tok", json.RawMessage(`{"Aspirations":"swim"}`)))
			d, err = s.Get(ctx, "tok")
			require.NoError(t, err)
			assert.True(t, d.HasData())
			assert.JSONEq(t, `{"Aspirations":"swim"}`, string(d.Data), "last write wins")
			assert.Equal(t, quest.Lite, d.Version, "saving data keeps the version")

			require.NoError(t, s.Submit(ctx, "tok", "purpose-quest", json.RawMessage(`{"Aspirations":"done"}`)))
			d, err = s.Get(ctx, "tok")
			require.NoError(t, err)
			assert.True(t, d.Submitted)
			assert.Equal(t, "purpose-quest", d.ProductSlug)
			assert.False(t, d.UpdatedAt.IsZero())

			assert.ErrorIs(t, s.SaveData(ctx, "tok", json.RawMessage(`{}`)), ErrSubmitted)
			assert.ErrorIs(t, s.SetVersion(ctx, "tok", quest.Simple), ErrSubmitted)
			assert.ErrorIs(t, s.Submit(ctx, "tok", "x", nil), ErrSubmitted)

			assert.NoError(t, s.Ping(ctx))
		})
	}
}

func TestStore_DataWithoutVersion(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveData(ctx, "legacy", json.RawMessage(`{"a":1}`)))
			d, err := s.Get(ctx, "legacy")
			require.NoError(t, err)
			assert.False(t, d.Version.IsSet())
		})
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveData(ctx, "tok", json.RawMessage(`{"a":"b"}`)))
	d, _ := m.Get(ctx, "tok")
	d.Data[2] = 'X'
	again, _ := m.Get(ctx, "tok")
	assert.JSONEq(t, `{"a":"b"}`, string(again.Data))
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open("sqlite", ":memory:")
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())

	_, err = Open("postgres", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
