// Package memory is the in-memory Storage adapter. A single mutex guards all
// maps; the compound operations are atomic by construction. Intended for
// development and tests, but honors every contract the SQL adapter does.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clave-auth/clave/internal/store/core"
)

type Store struct {
	mu      sync.Mutex
	clients map[string]*core.Client
	users   map[string]*core.User // by ID
	byName  map[string]string    // username -> ID
	codes   map[string]*core.AuthorizationCode
	tokens  map[string]*core.Token
}

func New() *Store {
	return &Store{
		clients: make(map[string]*core.Client),
		users:   make(map[string]*core.User),
		byName:  make(map[string]string),
		codes:   make(map[string]*core.AuthorizationCode),
		tokens:  make(map[string]*core.Token),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// ─── Clients ───

func (s *Store) CreateClient(ctx context.Context, c *core.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ClientID]; ok {
		return core.ErrAlreadyExists
	}
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ─── Users ───

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[u.Username]; ok {
		return core.ErrAlreadyExists
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byName[u.Username] = u.ID
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ─── Authorization codes ───

func (s *Store) SaveAuthorizationCode(ctx context.Context, ac *core.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[ac.CodeDigest]; ok {
		return core.ErrAlreadyExists
	}
	cp := *ac
	s.codes[ac.CodeDigest] = &cp
	return nil
}

// ConsumeCode flips the consumed flag under the store lock, so exactly one
// caller observes the unconsumed record. Consumed entries stay around for
// replay detection.
func (s *Store) ConsumeCode(ctx context.Context, codeDigest string) (*core.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.codes[codeDigest]
	if !ok {
		return nil, core.ErrNotFound
	}
	if ac.Consumed {
		return nil, core.ErrCodeConsumed
	}
	ac.Consumed = true
	cp := *ac
	return &cp, nil
}

// ─── Tokens ───

func (s *Store) SaveToken(ctx context.Context, t *core.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return core.ErrAlreadyExists
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *Store) GetToken(ctx context.Context, id string) (*core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) RevokeToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return core.ErrNotFound
	}
	revoke(t)
	return nil
}

func (s *Store) RevokeTokensByCode(ctx context.Context, codeDigest string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.CodeDigest == codeDigest && t.RevokedAt == nil {
			revoke(t)
			n++
		}
	}
	return n, nil
}

func (s *Store) RevokeTokensByParent(ctx context.Context, parentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.ParentID == parentID && t.RevokedAt == nil {
			revoke(t)
			n++
		}
	}
	return n, nil
}

// RotateRefreshToken revokes old and inserts replacement under one lock
// acquisition: no interleaving can observe one without the other. An
// already-revoked old token loses the rotation, so of two concurrent
// rotations of the same refresh token only one can win.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, replacement *core.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tokens[oldID]
	if !ok || old.RevokedAt != nil {
		return core.ErrNotFound
	}
	if _, dup := s.tokens[replacement.ID]; dup {
		return core.ErrAlreadyExists
	}
	revoke(old)
	cp := *replacement
	s.tokens[replacement.ID] = &cp
	return nil
}

func (s *Store) ListClientTokens(ctx context.Context, clientID string, limit int) ([]*core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Token
	for _, t := range s.tokens {
		if t.ClientID == clientID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func revoke(t *core.Token) {
	if t.RevokedAt == nil {
		now := time.Now().UTC()
		t.RevokedAt = &now
	}
}
