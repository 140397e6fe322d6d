package session

import (
	"context"
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	alice := New(store.Sessions(), "alice")
	bob := New(store.Sessions(), "bob")
	assert.Equal(t, "alice", alice.ClientID())
	assert.Equal(t, DefaultClientID, New(store.Sessions(), "").ClientID())

	selected, err := alice.SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, selected)

	require.NoError(t, alice.SelectDocument(ctx, 42))
	selected, err = alice.SelectedDocument(ctx)
	require.NoError(t, err)
	require.NotNil(t, selected)
	assert.Equal(t, core.ID(42), *selected)

	selected, err = bob.SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, selected, "sessions are per client")

	require.NoError(t, alice.ClearSelection(ctx))
	selected, err = alice.SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, selected)
}

func TestSession_Malformed(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.Sessions().Set(ctx, "c", SelectedDocumentKey, "not-a-number"))
	selected, err := New(store.Sessions(), "c").SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, selected)
}

func TestSession_Nil(t *testing.T) {
	var s *Session
	ctx := context.Background()

	selected, err := s.SelectedDocument(ctx)
	assert.NoError(t, err)
	assert.Nil(t, selected)
	assert.NoError(t, s.SelectDocument(ctx, 1))
	assert.NoError(t, s.ClearSelection(ctx))
	assert.Empty(t, s.ClientID())
}
