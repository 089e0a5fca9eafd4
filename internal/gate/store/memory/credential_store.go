package memory

import (
	"context"
	"slices"
	"time"

	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/types"
)

func (s *Store) CreateCredential(_ context.Context, cred types.VisitorCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.credByToken[cred.Token]; taken {
		return store.ErrTokenConflict
	}
	s.credentials[cred.ID] = cred
	s.credByToken[cred.Token] = cred.ID
	s.credInserted = append(s.credInserted, cred.ID)
	return nil
}

func (s *Store) GetCredential(_ context.Context, id string) (types.VisitorCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[id]
	if !ok {
		return types.VisitorCredential{}, store.ErrNotFound
	}
	return cred, nil
}

func (s *Store) FindCredentialByToken(_ context.Context, token string) (types.VisitorCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.credByToken[token]
	if !ok {
		return types.VisitorCredential{}, store.ErrNotFound
	}
	return s.credentials[id], nil
}

func (s *Store) TransitionStatus(_ context.Context, id string, from, to types.CredentialStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if cred.Status != from {
		return false, nil
	}
	cred.Status = to
	s.credentials[id] = cred
	return true, nil
}

func (s *Store) ListActiveExpired(_ context.Context, now time.Time) ([]types.VisitorCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.VisitorCredential
	for _, id := range s.credInserted {
		cred := s.credentials[id]
		if cred.Status == types.CredentialActive && cred.IsExpired(now) {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (s *Store) ActiveCredentials(_ context.Context, identityID string) ([]types.VisitorCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.VisitorCredential
	for _, id := range s.credInserted {
		cred := s.credentials[id]
		if cred.IdentityID == identityID && cred.Status == types.CredentialActive {
			out = append(out, cred)
		}
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) ClaimExpiryWarnings(_ context.Context, now, until time.Time) ([]types.VisitorCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.VisitorCredential
	for _, id := range s.credInserted {
		cred := s.credentials[id]
		if cred.Status != types.CredentialActive || cred.WarnedAt != nil {
			continue
		}
		if !cred.ExpiresAt.After(now) || cred.ExpiresAt.After(until) {
			continue
		}
		warned := now
		cred.WarnedAt = &warned
		s.credentials[id] = cred
		out = append(out, cred)
	}
	return out, nil
}
