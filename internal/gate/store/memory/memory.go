package memory

import (
	"context"
	"sync"
	"time"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

// Store is an in-memory implementation of store.Store. It is intended for
// tests and dev environments. One mutex guards every map so AppendNext and
// the uniqueness checks are atomic.
type Store struct {
	mu sync.RWMutex

	identities map[string]types.Identity // by id
	byDocument map[string]string         // document number -> id
	byToken    map[string]string         // credential token -> id

	events  []types.AccessEvent
	nextSeq int64

	credentials  map[string]types.VisitorCredential // by id
	credByToken  map[string]string
	credInserted []string // insertion order, for stable listings
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		identities:  make(map[string]types.Identity),
		byDocument:  make(map[string]string),
		byToken:     make(map[string]string),
		credentials: make(map[string]types.VisitorCredential),
		credByToken: make(map[string]string),
	}
}

func (s *Store) GetIdentity(_ context.Context, id string) (types.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[id]
	if !ok {
		return types.Identity{}, store.ErrNotFound
	}
	return ident, nil
}

func (s *Store) FindByToken(_ context.Context, token string) (types.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return types.Identity{}, store.ErrNotFound
	}
	return s.identities[id], nil
}

func (s *Store) FindByDocument(_ context.Context, documentNumber string) (types.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDocument[documentNumber]
	if !ok {
		return types.Identity{}, store.ErrNotFound
	}
	return s.identities[id], nil
}

func (s *Store) UpsertByDocument(_ context.Context, ident types.Identity) (types.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byDocument[ident.DocumentNumber]; ok {
		return s.identities[id], false, nil
	}
	if ident.CredentialToken != "" {
		if _, taken := s.byToken[ident.CredentialToken]; taken {
			return types.Identity{}, false, store.ErrTokenConflict
		}
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}

	s.identities[ident.ID] = ident
	s.byDocument[ident.DocumentNumber] = ident.ID
	if ident.CredentialToken != "" {
		s.byToken[ident.CredentialToken] = ident.ID
	}
	return ident, true, nil
}

func (s *Store) SetCredentialToken(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	if owner, taken := s.byToken[token]; taken && owner != id {
		return store.ErrTokenConflict
	}
	if ident.CredentialToken != "" {
		delete(s.byToken, ident.CredentialToken)
	}
	ident.CredentialToken = token
	s.identities[id] = ident
	s.byToken[token] = id
	return nil
}

func (s *Store) SetLifecycleState(_ context.Context, id string, state types.LifecycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	ident.LifecycleState = state
	s.identities[id] = ident
	return nil
}
