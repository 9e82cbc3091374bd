// Package session holds the authenticated credential for the process and
// mirrors it to the persisted key/value store so it survives restarts.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/kvstore"
	"github.com/roeyazroel/issuedesk/internal/logger"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

// Gateway is the subset of the API client used by the session.
type Gateway interface {
	Login(ctx context.Context, email, password string) (deskapi.Credential, error)
	Signup(ctx context.Context, email, name, password string) (deskapi.Credential, error)
	Me(ctx context.Context) (deskapi.User, error)
	DeleteMe(ctx context.Context) error
}

// Listener is called after the session changes. cred is nil after logout.
type Listener func(cred *deskapi.Credential)

// Store owns the single live credential.
type Store struct {
	kv  kvstore.Store
	api Gateway

	mu        sync.RWMutex
	cred      *deskapi.Credential
	listeners map[int]Listener
	nextID    int
}

// New returns a logged-out store. Call Restore to load a persisted session.
func New(kv kvstore.Store, api Gateway) *Store {
	return &Store{
		kv:        kv,
		api:       api,
		listeners: make(map[int]Listener),
	}
}

// Restore loads the persisted credential. A missing or unreadable user, or a
// token whose expiry has passed, leaves the store logged out and clears the
// stale keys.
func (s *Store) Restore(ctx context.Context) error {
	token, ok, err := s.kv.Get(ctx, kvstore.KeyToken)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if !ok || token == "" {
		s.set(nil)
		return nil
	}

	rawUser, ok, err := s.kv.Get(ctx, kvstore.KeyUser)
	if err != nil {
		return fmt.Errorf("read user: %w", err)
	}
	var user deskapi.User
	if !ok || json.Unmarshal([]byte(rawUser), &user) != nil || user.ID == "" {
		logger.Warning("session: persisted user missing or corrupt, discarding session")
		s.clear(ctx)
		s.set(nil)
		return nil
	}

	if exp, ok := TokenExpiry(token); ok && !exp.After(time.Now()) {
		logger.Info("session: persisted token expired at %s, discarding session", exp.Format(time.RFC3339))
		s.clear(ctx)
		s.set(nil)
		return nil
	}

	s.set(&deskapi.Credential{Token: token, User: user})
	logger.Debug("session: restored user=%s", user.ID)
	return nil
}

// Login authenticates and persists the resulting credential.
func (s *Store) Login(ctx context.Context, email, password string) (deskapi.Credential, error) {
	email = strings.TrimSpace(email)
	if err := deskapi.ValidateEmail(email); err != nil {
		return deskapi.Credential{}, err
	}
	if password == "" {
		return deskapi.Credential{}, deskapi.Validation("password", "Password is required")
	}

	cred, err := s.api.Login(ctx, email, password)
	if err != nil {
		logger.Debug("session: login rejected email=%s error=%v", email, err)
		return deskapi.Credential{}, err
	}
	if err := s.persist(ctx, cred); err != nil {
		return deskapi.Credential{}, err
	}
	s.set(&cred)
	logger.Info("session: logged in user=%s", cred.User.ID)
	return cred, nil
}

// Signup creates an account and persists the resulting credential.
func (s *Store) Signup(ctx context.Context, email, name, password string) (deskapi.Credential, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if err := deskapi.ValidateEmail(email); err != nil {
		return deskapi.Credential{}, err
	}
	if name == "" {
		return deskapi.Credential{}, deskapi.Validation("name", "Name is required")
	}
	if len(password) < MinPasswordLength {
		return deskapi.Credential{}, deskapi.Validation("password",
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	cred, err := s.api.Signup(ctx, email, name, password)
	if err != nil {
		logger.Debug("session: signup rejected email=%s error=%v", email, err)
		return deskapi.Credential{}, err
	}
	if err := s.persist(ctx, cred); err != nil {
		return deskapi.Credential{}, err
	}
	s.set(&cred)
	logger.Info("session: signed up user=%s", cred.User.ID)
	return cred, nil
}

// Logout drops the credential from memory and storage. Storage failures are
// logged; the in-memory session is always cleared.
func (s *Store) Logout(ctx context.Context) {
	s.clear(ctx)
	s.set(nil)
	logger.Info("session: logged out")
}

// Me fetches the current user and refreshes the cached copy. A rejected
// token ends the session.
func (s *Store) Me(ctx context.Context) (deskapi.User, error) {
	user, err := s.api.Me(ctx)
	if err != nil {
		if deskapi.IsKind(err, deskapi.KindAuth) {
			logger.Warning("session: token rejected, logging out")
			s.Logout(ctx)
		}
		return deskapi.User{}, err
	}

	s.mu.Lock()
	cred := s.cred
	changed := cred != nil && cred.User != user
	if changed {
		cred.User = user
	}
	s.mu.Unlock()

	if changed {
		if raw, err := json.Marshal(user); err == nil {
			if err := s.kv.Set(ctx, kvstore.KeyUser, string(raw)); err != nil {
				logger.ErrorWithErr(err, "session: persist refreshed user")
			}
		}
	}
	return user, nil
}

// DeleteAccount deletes the account server-side and then logs out.
func (s *Store) DeleteAccount(ctx context.Context) error {
	if !s.Authenticated() {
		return deskapi.Auth("Not logged in")
	}
	if err := s.api.DeleteMe(ctx); err != nil {
		return err
	}
	logger.Info("session: account deleted")
	s.Logout(ctx)
	return nil
}

// Token returns the bearer token, or "" when logged out. It is suitable as a
// deskapi.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return ""
	}
	return s.cred.Token
}

// Current returns a copy of the live credential, or nil when logged out.
func (s *Store) Current() *deskapi.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil
	}
	c := *s.cred
	return &c
}

// User returns the authenticated user.
func (s *Store) User() (deskapi.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return deskapi.User{}, false
	}
	return s.cred.User, true
}

// Authenticated reports whether a credential is live.
func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

// Subscribe registers fn for session changes and returns a function that
// removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// TokenExpiry reads the exp claim without verifying the signature. The
// server remains the authority on validity.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// persist writes token and user. On failure both keys are removed so storage
// never holds half a session.
func (s *Store) persist(ctx context.Context, cred deskapi.Credential) error {
	raw, err := json.Marshal(cred.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.KeyToken, cred.Token); err != nil {
		s.clear(ctx)
		return fmt.Errorf("persist token: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.KeyUser, string(raw)); err != nil {
		s.clear(ctx)
		return fmt.Errorf("persist user: %w", err)
	}
	return nil
}

func (s *Store) clear(ctx context.Context) {
	for _, key := range []string{kvstore.KeyToken, kvstore.KeyUser} {
		if err := s.kv.Delete(ctx, key); err != nil {
			logger.ErrorWithErr(err, "session: clear %s", key)
		}
	}
}

// set swaps the credential and notifies listeners outside the lock.
func (s *Store) set(cred *deskapi.Credential) {
	s.mu.Lock()
	s.cred = cred
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	var snapshot *deskapi.Credential
	if cred != nil {
		c := *cred
		snapshot = &c
	}
	for _, fn := range listeners {
		fn(snapshot)
	}
}
