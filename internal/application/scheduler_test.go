package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	"github.com/bnema/session-runner/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubWorkflow struct {
	mu         sync.Mutex
	sessions   *SessionManager
	runs       map[domain.AccountID]domain.Session
	keepAlives map[domain.AccountID]int
	run        func(unit WorkUnit) domain.StatRecord
	keepAlive  func(account domain.Account) error
}

func newStubWorkflow(sessions *SessionManager) *stubWorkflow {
	return &stubWorkflow{
		sessions:   sessions,
		runs:       map[domain.AccountID]domain.Session{},
		keepAlives: map[domain.AccountID]int{},
	}
}

func (w *stubWorkflow) Run(_ context.Context, unit WorkUnit) domain.StatRecord {
	session, _ := w.sessions.Session(unit.Account.ID)

	w.mu.Lock()
	w.runs[unit.Account.ID] = session
	w.mu.Unlock()

	if w.run != nil {
		return w.run(unit)
	}
	return domain.StatRecord{AccountID: unit.Account.ID, Name: unit.Name(), Outcome: domain.OutcomeDone}
}

func (w *stubWorkflow) KeepAlive(_ context.Context, account domain.Account) error {
	w.mu.Lock()
	w.keepAlives[account.ID]++
	w.mu.Unlock()

	if w.keepAlive != nil {
		return w.keepAlive(account)
	}
	return nil
}

func (w *stubWorkflow) Ran(id domain.AccountID) (domain.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	session, ok := w.runs[id]
	return session, ok
}

func (w *stubWorkflow) KeepAlives(id domain.AccountID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keepAlives[id]
}

type schedulerFixture struct {
	*engine
	workflow  *stubWorkflow
	scheduler *Scheduler
	schedule  *DailySchedule
	states    []SchedulerState
}

func newSchedulerFixture(t *testing.T, renewer ports.SessionRenewer, sink ports.SummarySink, heartbeat time.Duration, accounts ...domain.Account) *schedulerFixture {
	t.Helper()

	e := newEngine(t, renewer, accounts...)
	schedule, err := NewDailySchedule("07:30", 0, "")
	require.NoError(t, err)

	fixture := &schedulerFixture{engine: e, workflow: newStubWorkflow(e.sessions), schedule: schedule}
	scheduler, err := NewScheduler(SchedulerConfig{
		Accounts:      accounts,
		Sessions:      e.sessions,
		Orchestrator:  e.orchestrator,
		Workflow:      fixture.workflow,
		Schedule:      schedule,
		Sink:          sink,
		Clock:         e.clock,
		Metrics:       e.metrics,
		Logger:        discardLogger(),
		Heartbeat:     heartbeat,
		OnStateChange: func(state SchedulerState) { fixture.states = append(fixture.states, state) },
		NewCycleID:    func() string { return "cycle-1" },
	})
	require.NoError(t, err)
	fixture.scheduler = scheduler

	return fixture
}

func TestSchedulerRunCycleYieldsOneRecordPerAccount(t *testing.T) {
	active := staticAccount(t)
	active.Name = "bravo"
	inactive := domain.Account{ID: "acc-2", Name: "alpha", Active: false}

	sink := mocks.NewMockSummarySink(t)
	var emitted ports.CycleSummary
	sink.EXPECT().Emit(mock.Anything).Run(func(summary ports.CycleSummary) { emitted = summary }).Return(nil).Once()

	f := newSchedulerFixture(t, noRenewal(t), sink, 0, active, inactive)

	summary, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Records, 2)
	assert.Equal(t, "alpha", summary.Records[0].Name)
	assert.Equal(t, domain.OutcomeSkipped, summary.Records[0].Outcome)
	assert.Equal(t, "bravo", summary.Records[1].Name)
	assert.Equal(t, domain.OutcomeDone, summary.Records[1].Outcome)

	assert.Equal(t, "cycle-1", summary.CycleID)
	assert.Equal(t, summary, emitted)
	assert.Equal(t, f.schedule.Next(summary.FinishedAt), summary.NextRun)
	assert.True(t, summary.NextRun.After(summary.FinishedAt))

	assert.Equal(t, []SchedulerState{StateRunning, StateSummarizing}, f.states)
	assert.Equal(t, StateSummarizing, f.scheduler.State())
	assert.Equal(t, 1, f.metrics.cycles)

	_, ran := f.workflow.Ran("acc-2")
	assert.False(t, ran)
}

func TestSchedulerRunCycleWithoutAccessToken(t *testing.T) {
	account := domain.Account{ID: "acc-1", Active: true, Session: domain.Session{RefreshToken: "r1"}}
	f := newSchedulerFixture(t, noRenewal(t), nil, 0, account)

	summary, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Records, 1)
	assert.Equal(t, domain.OutcomeNoCredential, summary.Records[0].Outcome)
	assert.Equal(t, "Unknown", summary.Records[0].NextRefresh)
	_, ran := f.workflow.Ran("acc-1")
	assert.False(t, ran)
}

func TestSchedulerPreflightRenewsExpiringSession(t *testing.T) {
	account := staticAccount(t)
	account.Session.AccessToken = testToken(t, testNow.Add(5*time.Minute))
	fresh := testToken(t, testNow.Add(2*time.Hour))
	renewer := renewFunc(func(context.Context, domain.Account, domain.Session) ([]byte, error) {
		return renewalBody(fresh, "r2"), nil
	})
	f := newSchedulerFixture(t, renewer, nil, 0, account)

	_, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	session, ran := f.workflow.Ran("acc-1")
	require.True(t, ran)
	assert.Equal(t, fresh, session.AccessToken)
	assert.Len(t, f.store.Updates("acc-1"), 1)
}

func TestSchedulerPreflightRevokedSessionIsDead(t *testing.T) {
	account := staticAccount(t)
	account.Session.AccessToken = testToken(t, testNow.Add(5*time.Minute))
	renewals := 0
	renewer := renewFunc(func(context.Context, domain.Account, domain.Session) ([]byte, error) {
		renewals++
		return []byte(`{"session_update_action":"clear"}`), nil
	})
	f := newSchedulerFixture(t, renewer, nil, 0, account)

	summary, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDead, summary.Records[0].Outcome)
	assert.True(t, f.sessions.IsDead("acc-1"))
	_, ran := f.workflow.Ran("acc-1")
	assert.False(t, ran)

	// The next cycle clears the mark and tries the refresh credential again.
	_, err = f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, renewals)
}

func TestSchedulerPreflightFailureContinuesWithCurrentSession(t *testing.T) {
	account := staticAccount(t)
	account.Session.AccessToken = testToken(t, testNow.Add(5*time.Minute))
	renewer := renewFunc(func(context.Context, domain.Account, domain.Session) ([]byte, error) {
		return nil, &domain.RemoteError{Op: "renew", StatusCode: 400}
	})
	f := newSchedulerFixture(t, renewer, nil, 0, account)

	summary, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDone, summary.Records[0].Outcome)
	session, _ := f.workflow.Ran("acc-1")
	assert.Equal(t, account.Session.AccessToken, session.AccessToken)
}

func TestSchedulerUnitPanicBecomesCrashedRecord(t *testing.T) {
	first := staticAccount(t)
	second := staticAccount(t)
	second.ID = "acc-2"
	f := newSchedulerFixture(t, noRenewal(t), nil, 0, first, second)
	f.workflow.run = func(unit WorkUnit) domain.StatRecord {
		if unit.Account.ID == "acc-2" {
			panic("boom")
		}
		return domain.StatRecord{AccountID: unit.Account.ID, Name: unit.Name(), Outcome: domain.OutcomeDone}
	}

	summary, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Records, 2)
	outcomes := map[domain.AccountID]domain.Outcome{}
	for _, record := range summary.Records {
		outcomes[record.AccountID] = record.Outcome
	}
	assert.Equal(t, domain.OutcomeDone, outcomes["acc-1"])
	assert.Equal(t, domain.OutcomeCrashed, outcomes["acc-2"])
}

func TestSchedulerSinkErrorDoesNotFailCycle(t *testing.T) {
	sink := mocks.NewMockSummarySink(t)
	sink.EXPECT().Emit(mock.Anything).Return(errors.New("disk full")).Once()
	f := newSchedulerFixture(t, noRenewal(t), sink, 0, staticAccount(t))

	_, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
}

func TestSchedulerSleepUntilKeepsSessionsAliveEachHeartbeat(t *testing.T) {
	active := staticAccount(t)
	active.Session.AccessToken = testToken(t, testNow.Add(24*time.Hour))
	inactive := staticAccount(t)
	inactive.ID = "acc-2"
	inactive.Active = false
	f := newSchedulerFixture(t, noRenewal(t), nil, time.Hour, active, inactive)

	next := testNow.Add(3*time.Hour + 30*time.Minute)
	require.NoError(t, f.scheduler.SleepUntil(context.Background(), next))

	assert.Equal(t, []time.Duration{time.Hour, time.Hour, time.Hour, 30 * time.Minute}, f.clock.Sleeps())
	assert.Equal(t, 3, f.workflow.KeepAlives("acc-1"))
	assert.Equal(t, 0, f.workflow.KeepAlives("acc-2"))
	assert.Equal(t, []bool{true, true, true}, f.metrics.keepAlives)
	assert.Equal(t, []SchedulerState{StateSleeping, StateIdle}, f.states)
}

func TestSchedulerSleepUntilPastInstantReturnsImmediately(t *testing.T) {
	f := newSchedulerFixture(t, noRenewal(t), nil, 0, staticAccount(t))

	require.NoError(t, f.scheduler.SleepUntil(context.Background(), testNow.Add(-time.Minute)))
	assert.Empty(t, f.clock.Sleeps())
}

func TestSchedulerSleepUntilIsNotHeldByUnreachableAccount(t *testing.T) {
	healthy := staticAccount(t)
	healthy.Session.AccessToken = testToken(t, testNow.Add(24*time.Hour))
	unreachable := staticAccount(t)
	unreachable.ID = "acc-2"
	unreachable.Session.AccessToken = testToken(t, testNow.Add(24*time.Hour))
	f := newSchedulerFixture(t, noRenewal(t), nil, time.Hour, healthy, unreachable)
	f.workflow.keepAlive = func(account domain.Account) error {
		if account.ID == "acc-2" {
			return &domain.TransportError{Op: "profile", Proxied: true, Err: errors.New("proxyconnect tcp: connection refused")}
		}
		return nil
	}

	next := testNow.Add(3 * time.Hour)
	require.NoError(t, f.scheduler.SleepUntil(context.Background(), next))

	assert.Equal(t, next, f.clock.Now())
	assert.GreaterOrEqual(t, f.workflow.KeepAlives("acc-1"), 2)
	assert.Greater(t, f.workflow.KeepAlives("acc-2"), 1)
	assert.Contains(t, f.metrics.keepAlives, true)
	assert.Contains(t, f.metrics.keepAlives, false)
}

func TestSchedulerBusinessRejectionDoesNotHoldOtherAccounts(t *testing.T) {
	first := staticAccount(t)
	first.Session.AccessToken = testToken(t, testNow.Add(24*time.Hour))
	second := staticAccount(t)
	second.ID = "acc-2"
	second.Session.AccessToken = testToken(t, testNow.Add(25*time.Hour))
	e := newEngine(t, noRenewal(t), first, second)

	rejected := errors.New(`submit_transaction: unexpected response shape: {"status":"error","message":"nonce timeout, recipient not eligible thereof"}`)
	client := &scriptedClient{
		profile: func(domain.Session, int) (domain.Profile, error) {
			return domain.Profile{Points: 100}, nil
		},
		submit: func(session domain.Session, _ int) error {
			if session.AccessToken == second.Session.AccessToken {
				return rejected
			}
			return nil
		},
	}

	schedule, err := NewDailySchedule("07:30", 0, "")
	require.NoError(t, err)
	scheduler, err := NewScheduler(SchedulerConfig{
		Accounts:     []domain.Account{first, second},
		Sessions:     e.sessions,
		Orchestrator: e.orchestrator,
		Workflow:     NewPointsWorkflow(&scriptedAPI{client: client}, e.sessions, e.orchestrator, e.clock, testWorkflowConfig()),
		Schedule:     schedule,
		Clock:        e.clock,
		Metrics:      e.metrics,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)

	summary, err := scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Records, 2)
	records := map[domain.AccountID]domain.StatRecord{}
	for _, record := range summary.Records {
		records[record.AccountID] = record
	}
	assert.Equal(t, domain.OutcomeDone, records["acc-1"].Outcome)
	assert.Equal(t, 2, records["acc-1"].Transactions)
	assert.Equal(t, domain.OutcomeDone, records["acc-2"].Outcome)
	assert.Equal(t, 0, records["acc-2"].Transactions)
	assert.Equal(t, 4, client.Calls("submit"))
	assert.Equal(t, 2, e.metrics.calls[domain.CategoryFatal])
}

func TestSchedulerKeepAliveSkipsDeadAccounts(t *testing.T) {
	account := staticAccount(t)
	account.Session.AccessToken = testToken(t, testNow.Add(5*time.Minute))
	renewer := renewFunc(func(context.Context, domain.Account, domain.Session) ([]byte, error) {
		return []byte(`{"session_update_action":"clear"}`), nil
	})
	f := newSchedulerFixture(t, renewer, nil, 0, account)

	f.scheduler.KeepAlive(context.Background(), testNow.Add(time.Hour))
	assert.True(t, f.sessions.IsDead("acc-1"))
	assert.Equal(t, 1, f.workflow.KeepAlives("acc-1"))

	f.scheduler.KeepAlive(context.Background(), testNow.Add(time.Hour))
	assert.Equal(t, 1, f.workflow.KeepAlives("acc-1"))
}

func TestSchedulerKeepAliveRenewsExpiringSessionFirst(t *testing.T) {
	account := staticAccount(t)
	account.Session.AccessToken = testToken(t, testNow.Add(5*time.Minute))
	fresh := testToken(t, testNow.Add(2*time.Hour))
	renewer := renewFunc(func(context.Context, domain.Account, domain.Session) ([]byte, error) {
		return renewalBody(fresh, ""), nil
	})
	f := newSchedulerFixture(t, renewer, nil, 0, account)

	var pinged domain.Session
	f.workflow.keepAlive = func(account domain.Account) error {
		pinged = account.Session
		return nil
	}

	f.scheduler.KeepAlive(context.Background(), testNow.Add(time.Hour))

	assert.Equal(t, fresh, pinged.AccessToken)
	assert.Equal(t, "r1", pinged.RefreshToken)
	assert.Equal(t, []bool{true}, f.metrics.keepAlives)
}

func TestSchedulerKeepAliveFailureIsReported(t *testing.T) {
	f := newSchedulerFixture(t, noRenewal(t), nil, 0, staticAccount(t))
	f.workflow.keepAlive = func(domain.Account) error {
		return &domain.RemoteError{Op: "profile", StatusCode: 404}
	}

	f.scheduler.KeepAlive(context.Background(), testNow.Add(time.Hour))

	assert.Equal(t, []bool{false}, f.metrics.keepAlives)
}

func TestSchedulerRunStopsOnCancellation(t *testing.T) {
	sink := mocks.NewMockSummarySink(t)
	sink.EXPECT().Emit(mock.Anything).Return(nil).Once()
	f := newSchedulerFixture(t, noRenewal(t), sink, 0, staticAccount(t))

	ctx, cancel := context.WithCancel(context.Background())
	f.clock.onSleep = func(time.Duration) { cancel() }

	err := f.scheduler.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, f.scheduler.State())
}

func TestNewSchedulerValidatesConfig(t *testing.T) {
	e := newEngine(t, noRenewal(t))
	schedule, err := NewDailySchedule("07:30", 0, "")
	require.NoError(t, err)

	base := SchedulerConfig{
		Sessions:     e.sessions,
		Orchestrator: e.orchestrator,
		Workflow:     newStubWorkflow(e.sessions),
		Schedule:     schedule,
	}

	_, err = NewScheduler(base)
	require.NoError(t, err)

	for _, heartbeat := range []time.Duration{10 * time.Minute, 5 * time.Hour, -time.Hour} {
		cfg := base
		cfg.Heartbeat = heartbeat
		_, err := NewScheduler(cfg)
		assert.Error(t, err, heartbeat)
	}

	missing := base
	missing.Workflow = nil
	_, err = NewScheduler(missing)
	assert.Error(t, err)
}
