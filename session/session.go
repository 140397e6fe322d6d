// Package session holds per-client state between calls, currently the
// selected document that scopes questions.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

const (
	// DefaultClientID is used when the caller does not identify itself.
	DefaultClientID = "default"

	// SelectedDocumentKey is the session key of the selected document ID.
	SelectedDocumentKey = "selected_document"
)

// Session is one client's view of the session store. A nil *Session is
// valid and behaves as a client with no selection that forgets writes.
type Session struct {
	store    storage.SessionStore
	clientID string
}

// New returns the session of clientID. An empty clientID selects DefaultClientID.
func New(store storage.SessionStore, clientID string) *Session {
	if clientID == "" {
		clientID = DefaultClientID
	}
	return &Session{store: store, clientID: clientID}
}

// ClientID returns the client the session belongs to.
func (s *Session) ClientID() string {
	if s == nil {
		return ""
	}
	return s.clientID
}

// SelectedDocument returns the selected document ID, or nil if none is set.
// A stored value that does not parse is treated as no selection.
func (s *Session) SelectedDocument(ctx context.Context) (*core.ID, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	value, err := s.store.Get(ctx, s.clientID, SelectedDocumentKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil || n == 0 {
		slog.Warn("ignoring malformed session selection", "client", s.clientID, "value", value)
		return nil, nil
	}
	id := core.ID(n)
	return &id, nil
}

// SelectDocument makes id the client's selected document.
func (s *Session) SelectDocument(ctx context.Context, id core.ID) error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Set(ctx, s.clientID, SelectedDocumentKey, id.String())
}

// ClearSelection removes the client's selected document.
func (s *Session) ClearSelection(ctx context.Context) error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, s.clientID, SelectedDocumentKey)
}
