// Package session scopes intake lists and download records to one client
// conversation with the service. Sessions are in-memory and expire after
// a TTL of inactivity; expiry releases every preview resource the
// session still holds.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/convbox/downloads"
	"github.com/hazyhaar/convbox/idgen"
	"github.com/hazyhaar/convbox/intake"
)

// Session is one client's working state.
type Session struct {
	ID        string
	CreatedAt time.Time

	Images    *intake.List
	Documents *intake.List
	Downloads *downloads.Store

	mu       sync.Mutex
	lastSeen time.Time
}

// Touch records activity, deferring expiry.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) seen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) close() {
	s.Images.Close()
	s.Documents.Close()
}

// Config bounds session stores.
type Config struct {
	TTL    time.Duration // idle expiry (default: 30m)
	Images intake.Config // acceptance rules for the image list
	PDFs   intake.Config // acceptance rules for the document list
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store holds live sessions. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
	newID    idgen.Generator
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore(cfg Config) *Store {
	cfg.defaults()
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		newID:    idgen.Prefixed("sess_", idgen.Default),
		now:      time.Now,
	}
}

// Create opens a new session with fresh intake lists and download store.
func (s *Store) Create() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	sess := &Session{
		ID:        s.newID(),
		CreatedAt: now,
		Images:    intake.NewList(s.cfg.Images),
		Documents: intake.NewList(s.cfg.PDFs),
		Downloads: downloads.NewStore(),
		lastSeen:  now,
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns the session for id and marks it active.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session: no session %q", id)
	}
	sess.Touch(s.now().UTC())
	return sess, nil
}

// Delete removes a session and releases its resources. Idempotent.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep expires sessions idle past the TTL and returns how many were
// removed.
func (s *Store) Sweep() int {
	now := s.now().UTC()
	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.seen()) > s.cfg.TTL {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range expired {
		sess.close()
		s.cfg.Logger.Debug("session expired", "session_id", sess.ID)
	}
	return len(expired)
}

// Janitor sweeps expired sessions on the given interval until ctx ends.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.cfg.Logger.Info("swept idle sessions", "count", n)
			}
		}
	}
}
