package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := NewSQLiteStore()
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStore_NewestFirst(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := NewMessage(RoleUser, "capital of France", "")
			reply := NewMessage(RoleAssistant, "Paris", "llama-3.1-70b-versatile")
			require.NoError(t, s.Append(ctx, user))
			require.NoError(t, s.Append(ctx, reply))

			got, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, 2, s.Len())

			require.Equal(t, reply.ID, got[0].ID)
			require.Equal(t, RoleAssistant, got[0].Role)
			require.Equal(t, "Paris", got[0].Text)
			require.Equal(t, "llama-3.1-70b-versatile", got[0].ModelID)
			require.Equal(t, user.ID, got[1].ID)
			require.Empty(t, got[1].ModelID)
		})
	}
}

func TestMemoryStore_ListIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, NewMessage(RoleUser, "hi", "")))

	got, _ := s.List(ctx)
	got[0].Text = "changed"

	again, _ := s.List(ctx)
	require.Equal(t, "hi", again[0].Text)
}

func TestSQLiteStore_SessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLiteStore()
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLiteStore()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Append(ctx, NewMessage(RoleUser, "only in a", "")))

	got, err := b.List(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSQLiteStore_FallsBackAfterClose(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, NewMessage(RoleUser, "kept", "")))
	require.NoError(t, s.Close())

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "kept", got[0].Text)
}
