// Package session owns the mutable per-client context: the session token and
// the current user and installation snapshots, mirrored to a Store.
//
// All mutation happens under one lock, so each read-then-write of a snapshot
// is atomic. Two logins racing still end with whichever finished last.
package session

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/rs/zerolog"
)

type Session struct {
	mu           sync.RWMutex
	store        Store
	log          zerolog.Logger
	sessionToken string
	user         *Document
	installation *Document
}

// New returns an empty session backed by store. A nil store keeps state in
// memory only.
func New(store Store, logger zerolog.Logger) *Session {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Session{store: store, log: logger.With().Str("component", "session").Logger()}
}

// Restore loads the persisted snapshots. A corrupt document is logged and
// removed so the next save starts clean.
func (s *Session) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.load(ctx, CurrentUser, "user")
	if err != nil {
		return err
	}
	inst, err := s.load(ctx, CurrentInstallation, "installation")
	if err != nil {
		return err
	}
	s.user, s.installation = user, inst
	s.sessionToken = ""
	if user != nil {
		s.sessionToken = user.SessionToken
	}
	return nil
}

func (s *Session) load(ctx context.Context, name, class string) (*Document, error) {
	raw, err := s.store.Load(ctx, name)
	if stderrors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := Decode(raw, class)
	if stderrors.Is(err, ErrNewerFormat) {
		s.log.Warn().Err(err).Str("document", name).Msg("ignoring session document from a newer SDK")
		return nil, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("document", name).Msg("discarding unreadable session document")
		return nil, s.store.Delete(ctx, name)
	}
	return &doc, nil
}

// SessionToken returns "" when nobody is logged in.
func (s *Session) SessionToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionToken
}

// CurrentUser returns a copy of the current user snapshot.
func (s *Session) CurrentUser() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyDoc(s.user)
}

// CurrentUserID returns the objectId of the current user, or "".
func (s *Session) CurrentUserID() string {
	d, ok := s.CurrentUser()
	if !ok {
		return ""
	}
	v, _ := d.Data.Get("objectId")
	return v.AsString()
}

// SetCurrentUser makes doc the current user; its SessionToken becomes the
// session token.
func (s *Session) SetCurrentUser(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, CurrentUser, doc); err != nil {
		return err
	}
	d, _ := copyDoc(&doc)
	s.user = &d
	s.sessionToken = doc.SessionToken
	return nil
}

// ClearCurrentUser logs out locally.
func (s *Session) ClearCurrentUser(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearUserLocked(ctx)
}

func (s *Session) clearUserLocked(ctx context.Context) error {
	s.user = nil
	s.sessionToken = ""
	return s.store.Delete(ctx, CurrentUser)
}

// Invalidate clears the current user when token is still the active session
// token. It reports whether anything was cleared; a token that was replaced by
// a newer login in the meantime leaves the session alone.
func (s *Session) Invalidate(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || token != s.sessionToken {
		return false, nil
	}
	s.log.Info().Msg("session token rejected by server, clearing current user")
	return true, s.clearUserLocked(ctx)
}

func (s *Session) CurrentInstallation() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyDoc(s.installation)
}

// CurrentInstallationID returns the objectId of the current installation, or "".
func (s *Session) CurrentInstallationID() string {
	d, ok := s.CurrentInstallation()
	if !ok {
		return ""
	}
	v, _ := d.Data.Get("objectId")
	return v.AsString()
}

func (s *Session) SetCurrentInstallation(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, CurrentInstallation, doc); err != nil {
		return err
	}
	d, _ := copyDoc(&doc)
	s.installation = &d
	return nil
}

func (s *Session) ClearCurrentInstallation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installation = nil
	return s.store.Delete(ctx, CurrentInstallation)
}

func (s *Session) persist(ctx context.Context, name string, doc Document) error {
	body, err := doc.Encode()
	if err != nil {
		return err
	}
	return s.store.Save(ctx, name, body)
}

func copyDoc(d *Document) (Document, bool) {
	if d == nil {
		return Document{}, false
	}
	c := *d
	c.Data = d.Data.Clone()
	return c, true
}
