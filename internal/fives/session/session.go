// Package session holds the signed-in identity. A Manager owns sign-in and
// sign-out and persists the identity in the auth cache so the service keeps
// working offline after a restart.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/remote"
	"go.uber.org/zap"
)

// scopedStores are cleared on sign-out; master data is shared by every user.
var scopedStores = []string{
	cache.StoreCompanies,
	cache.StoreEnvironments,
	cache.StoreCriteria,
	cache.StoreEnvironmentCriteria,
	cache.StoreAudits,
	cache.StoreAuditItems,
	cache.StoreUserRoles,
	cache.StoreUserCompanies,
}

// Session is an immutable view of the signed-in user.
type Session struct {
	models.AuthSnapshot
}

// Scope returns the remote fetch scope for this user.
func (s *Session) Scope() remote.Scope {
	if s.IsPlatformAdmin() {
		return remote.Scope{All: true}
	}
	return remote.Scope{CompanyIDs: slices.Clone(s.CompanyIDs)}
}

func (s *Session) IsPlatformAdmin() bool {
	return s.Role == models.RolePlatformAdmin
}

// CanAccessCompany reports whether the user may read or write the company's data.
func (s *Session) CanAccessCompany(companyID string) bool {
	return s.IsPlatformAdmin() || slices.Contains(s.CompanyIDs, companyID)
}

// CanManageCompany reports whether the user may change company-level settings.
func (s *Session) CanManageCompany(companyID string) bool {
	if s.IsPlatformAdmin() {
		return true
	}
	return s.Role == models.RoleCompanyAdmin && slices.Contains(s.CompanyIDs, companyID)
}

// Expired reports whether the access token is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Manager owns the current session.
type Manager struct {
	cache  *cache.Store
	secret string
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	current   *Session
	listeners []func(*Session)
}

func NewManager(store *cache.Store, jwtSecret string, logger *zap.Logger) *Manager {
	return &Manager{
		cache:  store,
		secret: jwtSecret,
		logger: logger.Named("session"),
		now:    time.Now,
	}
}

// OnChange registers fn to run after every sign-in, restore and sign-out.
// fn receives nil on sign-out.
func (m *Manager) OnChange(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SignIn verifies the token, caches the identity and makes it current.
func (m *Manager) SignIn(ctx context.Context, token string) (*Session, error) {
	claims, err := auth.ParseToken(token, m.secret)
	if err != nil {
		m.logger.Warn("Rejected sign-in", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", e.ErrForbidden, err)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", e.ErrForbidden, claims.Role)
	}

	snap := models.AuthSnapshot{
		UserID:         claims.Subject,
		Email:          claims.Email,
		Name:           claims.Name,
		Role:           claims.Role,
		CompanyIDs:     claims.Companies,
		EnvironmentIDs: claims.Environments,
		Token:          token,
		CachedAt:       m.now().UTC(),
	}
	if claims.ExpiresAt != nil {
		snap.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}

	if !m.cache.Put(ctx, cache.StoreAuthCache, &snap) {
		// The session still works for this process; it just will not survive a restart.
		m.logger.Warn("Failed to persist session", zap.String("user_id", snap.UserID))
	}

	s := &Session{AuthSnapshot: snap}
	m.set(s)
	m.logger.Info("Signed in", zap.String("user_id", snap.UserID), zap.String("role", string(snap.Role)))
	return s, nil
}

// Restore loads the cached identity, if any. An expired token is kept so
// cached data stays readable offline; writes to the remote store will fail
// until the user signs in again.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	var snap models.AuthSnapshot
	if !m.cache.Get(ctx, cache.StoreAuthCache, snap.RecordID(), &snap) {
		return nil, e.ErrNotSignedIn
	}

	s := &Session{AuthSnapshot: snap}
	if s.Expired(m.now()) {
		m.logger.Warn("Restored session has an expired token", zap.String("user_id", snap.UserID))
	}
	m.set(s)
	return s, nil
}

// SignOut drops the current session and every company-scoped cache store.
// The pending queue is kept; it replays under the next session.
func (m *Manager) SignOut(ctx context.Context) {
	m.cache.Clear(ctx, cache.StoreAuthCache)
	for _, store := range scopedStores {
		m.cache.Clear(ctx, store)
	}
	m.set(nil)
	m.logger.Info("Signed out")
}

// Current returns the signed-in session or ErrNotSignedIn.
func (m *Manager) Current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, e.ErrNotSignedIn
	}
	return m.current, nil
}

func (m *Manager) set(s *Session) {
	m.mu.Lock()
	m.current = s
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
