package application

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func mockAnyContext() interface{} {
	return mock.Anything
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock advances its own time on Sleep instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep runs after time has advanced, outside the lock.
	onSleep func(d time.Duration)
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) Total() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}

func testToken(t *testing.T, exp time.Time) string {
	t.Helper()
	payload := fmt.Sprintf(`{"exp":%d,"iat":%d}`, exp.Unix(), exp.Add(-time.Hour).Unix())
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".sig"
}

// memoryStore is an AccountStore that records every persisted session.
type memoryStore struct {
	mu       sync.Mutex
	accounts []domain.Account
	updates  map[domain.AccountID][]domain.Session
}

func newMemoryStore(accounts ...domain.Account) *memoryStore {
	return &memoryStore{accounts: accounts, updates: map[domain.AccountID][]domain.Session{}}
}

func (s *memoryStore) List(context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Account(nil), s.accounts...), nil
}

func (s *memoryStore) UpdateSession(_ context.Context, id domain.AccountID, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[id] = append(s.updates[id], session)
	return nil
}

func (s *memoryStore) Updates(id domain.AccountID) []domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Session(nil), s.updates[id]...)
}

type renewFunc func(ctx context.Context, account domain.Account, session domain.Session) ([]byte, error)

func (f renewFunc) RenewSession(ctx context.Context, account domain.Account, session domain.Session) ([]byte, error) {
	return f(ctx, account, session)
}

// scriptedAPI binds every account to the same scripted client and records
// the sessions it was bound with.
type scriptedAPI struct {
	mu     sync.Mutex
	bound  []domain.Session
	client *scriptedClient
}

func (a *scriptedAPI) Bind(_ domain.Account, session domain.Session) ports.AccountClient {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bound = append(a.bound, session)
	return &boundClient{script: a.client, session: session}
}

func (a *scriptedAPI) Bound() []domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Session(nil), a.bound...)
}

type scriptedClient struct {
	mu      sync.Mutex
	calls   map[string]int
	profile func(session domain.Session, call int) (domain.Profile, error)
	balance func(session domain.Session, call int) (domain.Balance, error)
	sync    func(session domain.Session, call int) error
	submit  func(session domain.Session, call int) error
}

func (c *scriptedClient) next(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[op]++
	return c.calls[op]
}

func (c *scriptedClient) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

type boundClient struct {
	script  *scriptedClient
	session domain.Session
}

func (b *boundClient) Profile(context.Context) (domain.Profile, error) {
	call := b.script.next("profile")
	if b.script.profile == nil {
		return domain.Profile{}, nil
	}
	return b.script.profile(b.session, call)
}

func (b *boundClient) Balance(context.Context) (domain.Balance, error) {
	call := b.script.next("balance")
	if b.script.balance == nil {
		return domain.Balance{Symbol: "POL", Amount: 1}, nil
	}
	return b.script.balance(b.session, call)
}

func (b *boundClient) Sync(context.Context) error {
	call := b.script.next("sync")
	if b.script.sync == nil {
		return nil
	}
	return b.script.sync(b.session, call)
}

func (b *boundClient) SubmitTransaction(context.Context) error {
	call := b.script.next("submit")
	if b.script.submit == nil {
		return nil
	}
	return b.script.submit(b.session, call)
}

// recordingMetrics counts what the engine reports.
type recordingMetrics struct {
	ports.NopMetrics

	mu         sync.Mutex
	calls      map[domain.Category]int
	renewals   map[string]int
	keepAlives []bool
	cycles     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{calls: map[domain.Category]int{}, renewals: map[string]int{}}
}

func (m *recordingMetrics) ObserveCall(_ string, category domain.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[category]++
}

func (m *recordingMetrics) ObserveRenewal(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewals[result]++
}

func (m *recordingMetrics) ObserveCycle(time.Duration, []domain.StatRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *recordingMetrics) ObserveKeepAlive(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepAlives = append(m.keepAlives, ok)
}

// fixedBackoff removes jitter so delays are predictable: random 0 picks
// the minimum jitter, subtracted.
func fixedBackoff() Backoff {
	return NewBackoff(DefaultBackoffConfig(), func() float64 { return 0 })
}

type engine struct {
	clock        *fakeClock
	store        *memoryStore
	sessions     *SessionManager
	orchestrator *Orchestrator
	metrics      *recordingMetrics
}

func newEngine(t *testing.T, renewer ports.SessionRenewer, accounts ...domain.Account) *engine {
	t.Helper()

	clock := newFakeClock(testNow)
	store := newMemoryStore(accounts...)
	metrics := newRecordingMetrics()
	logger := discardLogger()

	sessions := NewSessionManager(SessionManagerConfig{
		Store:   store,
		Renewer: renewer,
		Backoff: fixedBackoff(),
		Clock:   clock,
		Metrics: metrics,
		Logger:  logger,
	})
	sessions.Track(accounts...)

	orchestrator := NewOrchestrator(OrchestratorConfig{
		Sessions: sessions,
		Backoff:  fixedBackoff(),
		Clock:    clock,
		Metrics:  metrics,
		Logger:   logger,
	})

	return &engine{clock: clock, store: store, sessions: sessions, orchestrator: orchestrator, metrics: metrics}
}

func renewalBody(access, refresh string) []byte {
	if refresh == "" {
		return []byte(fmt.Sprintf(`{"token":%q}`, access))
	}
	return []byte(fmt.Sprintf(`{"privy_access_token":%q,"privy_refresh_token":%q}`, access, refresh))
}
