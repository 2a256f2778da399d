package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/models"
	"patrol-beat-tracker/internal/repository"
)

// DefaultRequestTimeout bounds every remote call made by the session and tracker
const DefaultRequestTimeout = 10 * time.Second

// Session holds the authenticated principal for this process
type Session struct {
	provider  repository.IdentityProvider
	directory repository.PersonnelDirectory
	timeout   time.Duration

	mu        sync.RWMutex
	principal *models.Principal
}

// NewSession creates a signed-out session
func NewSession(provider repository.IdentityProvider, directory repository.PersonnelDirectory, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Session{
		provider:  provider,
		directory: directory,
		timeout:   timeout,
	}
}

// Login authenticates and resolves the personnel profile.
// No principal is exposed unless every step succeeds.
func (s *Session) Login(ctx context.Context, email, password string) (*models.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrAuthentication)
	}
	if s.IsAuthenticated() {
		return nil, fmt.Errorf("%w: already signed in, log out first", ErrInvalidTransition)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.provider.Ping(ctx); err != nil {
		if errors.Is(err, repository.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	principalID, err := s.provider.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCredentials) {
			return nil, ErrAuthentication
		}
		return nil, remoteErr("authenticate", err)
	}

	principal, err := s.loadProfile(ctx, principalID)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"principal": principal.ID, "unit": principal.Unit}).Info("✅ Signed in")
	return principal, nil
}

// Restore resumes a session from the identity token the provider already holds
func (s *Session) Restore(ctx context.Context) (*models.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	principalID, err := s.provider.CurrentPrincipalID(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidCredentials) {
			return nil, ErrUnauthenticated
		}
		return nil, remoteErr("restore session", err)
	}
	return s.loadProfile(ctx, principalID)
}

func (s *Session) loadProfile(ctx context.Context, principalID string) (*models.Principal, error) {
	personnel, err := s.directory.GetPersonnelByID(ctx, principalID)
	if err != nil {
		s.signOutQuietly(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			logrus.WithField("principal", principalID).Warn("⚠️ Authenticated without a personnel profile")
			return nil, ErrProfileNotFound
		}
		return nil, remoteErr("load personnel profile", err)
	}

	principal := personnel.Principal()
	s.mu.Lock()
	s.principal = principal
	s.mu.Unlock()

	cp := *principal
	return &cp, nil
}

func (s *Session) signOutQuietly(ctx context.Context) {
	if err := s.provider.SignOut(context.WithoutCancel(ctx)); err != nil {
		logrus.WithError(err).Warn("⚠️ Identity sign-out failed")
	}
}

// Logout drops the principal. Local state is always cleared; calling it twice is harmless.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	principal := s.principal
	s.principal = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.signOutQuietly(ctx)

	if principal != nil {
		logrus.WithField("principal", principal.ID).Info("👋 Signed out")
	}
}

// CurrentPrincipal returns a copy of the principal, or nil when signed out
func (s *Session) CurrentPrincipal() *models.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return nil
	}
	cp := *s.principal
	return &cp
}

// IsAuthenticated reports whether a principal is present
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal != nil
}
