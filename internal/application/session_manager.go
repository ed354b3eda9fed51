package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
)

const (
	defaultExpiryThreshold  = 30 * time.Minute
	defaultMaxRenewAttempts = 5
)

type SessionManagerConfig struct {
	Store      ports.AccountStore
	Renewer    ports.SessionRenewer
	Classifier *Classifier
	Backoff    Backoff
	Clock      ports.Clock
	Metrics    ports.Metrics
	Logger     *slog.Logger

	ExpiryThreshold  time.Duration
	MaxRenewAttempts int
}

// SessionManager owns the in-memory credential pair of every tracked account
// and is the only component that mutates it.
type SessionManager struct {
	store      ports.AccountStore
	renewer    ports.SessionRenewer
	classifier *Classifier
	backoff    Backoff
	clock      ports.Clock
	metrics    ports.Metrics
	logger     *slog.Logger

	expiryThreshold  time.Duration
	maxRenewAttempts int

	mu       sync.RWMutex
	accounts map[domain.AccountID]*accountSession
}

type accountSession struct {
	// renewMu serialises renewals of one account.
	renewMu sync.Mutex

	mu      sync.RWMutex
	account domain.Account
	dead    bool
}

func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewClassifier(DefaultClassifierConfig())
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff.random == nil {
		backoff = NewBackoff(DefaultBackoffConfig(), nil)
	}
	threshold := cfg.ExpiryThreshold
	if threshold <= 0 {
		threshold = defaultExpiryThreshold
	}
	maxAttempts := cfg.MaxRenewAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxRenewAttempts
	}

	return &SessionManager{
		store:            cfg.Store,
		renewer:          cfg.Renewer,
		classifier:       classifier,
		backoff:          backoff,
		clock:            clock,
		metrics:          metrics,
		logger:           logger,
		expiryThreshold:  threshold,
		maxRenewAttempts: maxAttempts,
		accounts:         map[domain.AccountID]*accountSession{},
	}
}

// Track registers accounts loaded from the store. Already tracked accounts
// keep their in-memory session.
func (m *SessionManager) Track(accounts ...domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range accounts {
		if _, ok := m.accounts[account.ID]; ok {
			continue
		}
		m.accounts[account.ID] = &accountSession{account: account}
	}
}

func (m *SessionManager) Account(id domain.AccountID) (domain.Account, bool) {
	state, ok := m.lookup(id)
	if !ok {
		return domain.Account{}, false
	}
	return state.snapshot(), true
}

func (m *SessionManager) Session(id domain.AccountID) (domain.Session, bool) {
	account, ok := m.Account(id)
	return account.Session, ok
}

func (m *SessionManager) Claims(id domain.AccountID) domain.Claims {
	session, _ := m.Session(id)
	return domain.DecodeClaims(session.AccessToken)
}

// IsExpiringSoon fails open: an unknown expiry never forces a renewal.
func (m *SessionManager) IsExpiringSoon(id domain.AccountID, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = m.expiryThreshold
	}

	session, ok := m.Session(id)
	if !ok {
		return false
	}

	claims := domain.DecodeClaims(session.AccessToken)
	if !claims.Valid {
		m.logger.Warn("access token expiry unknown", "account", id)
		return false
	}

	return claims.Remaining(m.clock.Now()) < threshold
}

// BeginCycle clears the dead marks left by revoked refresh credentials.
func (m *SessionManager) BeginCycle() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, state := range m.accounts {
		state.mu.Lock()
		state.dead = false
		state.mu.Unlock()
	}
}

func (m *SessionManager) IsDead(id domain.AccountID) bool {
	state, ok := m.lookup(id)
	if !ok {
		return false
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.dead
}

// Renew exchanges the refresh credential for a new session and writes it
// through to the store. It returns domain.ErrNoCredential without any
// network call when either token is missing, and domain.ErrRefreshRevoked
// once the remote has revoked the refresh credential.
func (m *SessionManager) Renew(ctx context.Context, id domain.AccountID) error {
	state, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("renew session %s: %w", id, domain.ErrAccountNotFound)
	}

	state.renewMu.Lock()
	defer state.renewMu.Unlock()

	logger := m.logger.With("account", id)

	if m.IsDead(id) {
		return domain.ErrRefreshRevoked
	}

	account := state.snapshot()
	if !account.Session.HasRefreshToken() || !account.Session.HasAccessToken() {
		logger.Error("cannot renew session, manual re-authentication required",
			"has_access_token", account.Session.HasAccessToken(),
			"has_refresh_token", account.Session.HasRefreshToken(),
		)
		m.metrics.ObserveRenewal("no_credential")
		return domain.ErrNoCredential
	}

	consecutiveProxy := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := m.renewer.RenewSession(ctx, account, account.Session)
		if err == nil {
			return m.applyRenewal(ctx, state, account, body, logger)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var remoteErr *domain.RemoteError
		if errors.As(err, &remoteErr) && revokedBody(remoteErr.Body) {
			return m.markRevoked(state, logger)
		}

		failure := m.classifier.Classify(err)
		if !failure.Category.Transient() {
			logger.Error("session renewal failed", "category", failure.Category, "error", err)
			m.metrics.ObserveRenewal("failed")
			return fmt.Errorf("renew session %s: %w", id, err)
		}
		if attempt >= m.maxRenewAttempts {
			logger.Error("session renewal failed, attempts exhausted", "attempts", attempt, "error", err)
			m.metrics.ObserveRenewal("exhausted")
			return fmt.Errorf("renew session %s after %d attempts: %w", id, attempt, err)
		}

		proxy := failure.Category == domain.CategoryTransientProxy
		if proxy {
			consecutiveProxy++
		} else {
			consecutiveProxy = 0
		}

		delay := m.backoff.Delay(attempt, proxy, consecutiveProxy)
		m.metrics.ObserveBackoff(failure.Category, delay)
		logger.Warn("session renewal failed, retrying",
			"attempt", attempt,
			"max_attempts", m.maxRenewAttempts,
			"category", failure.Category,
			"delay", delay.Round(time.Millisecond),
			"error", err,
		)

		if err := m.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (m *SessionManager) applyRenewal(ctx context.Context, state *accountSession, account domain.Account, body []byte, logger *slog.Logger) error {
	renewal, err := parseRenewal(body)
	if err != nil {
		logger.Error("session renewal response rejected", "error", err)
		m.metrics.ObserveRenewal("rejected")
		return fmt.Errorf("%w: %v", domain.ErrRenewalRejected, err)
	}
	if renewal.Revoked {
		return m.markRevoked(state, logger)
	}

	session := renewal.Session
	if session.RefreshToken == "" {
		session.RefreshToken = account.Session.RefreshToken
	}

	state.mu.Lock()
	state.account.Session = session
	state.mu.Unlock()

	if err := m.store.UpdateSession(ctx, account.ID, session); err != nil {
		// The in-memory session is already valid; a failed write only risks a
		// stale pair after a restart.
		logger.Error("persist renewed session", "error", err)
		m.metrics.ObserveRenewal("persist_failed")
	} else {
		m.metrics.ObserveRenewal("renewed")
	}

	claims := domain.DecodeClaims(session.AccessToken)
	logger.Info("session renewed",
		"source", renewal.Source,
		"refresh_rotated", session.RefreshToken != account.Session.RefreshToken,
		"expires_at", claims.Expiry,
	)

	return nil
}

func (m *SessionManager) markRevoked(state *accountSession, logger *slog.Logger) error {
	state.mu.Lock()
	state.dead = true
	state.mu.Unlock()

	logger.Error("refresh credential revoked, manual re-authentication required")
	m.metrics.ObserveRenewal("revoked")
	return domain.ErrRefreshRevoked
}

// NextRefreshLabel renders the access token expiry for cycle summaries.
func (m *SessionManager) NextRefreshLabel(id domain.AccountID) string {
	claims := m.Claims(id)
	if !claims.Valid {
		return "Unknown"
	}

	remaining := claims.Remaining(m.clock.Now())
	if remaining <= 0 {
		return "Expired"
	}

	return fmt.Sprintf("%s (%dm)", claims.Expiry.Format(time.TimeOnly), int(remaining.Round(time.Minute)/time.Minute))
}

func (m *SessionManager) lookup(id domain.AccountID) (*accountSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.accounts[id]
	return state, ok
}

func (s *accountSession) snapshot() domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}
