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
	"github.com/google/uuid"
)

const (
	defaultHeartbeat       = 4 * time.Hour
	minHeartbeat           = 20 * time.Minute
	maxHeartbeat           = 240 * time.Minute
	defaultKeepAliveMargin = 10 * time.Second
)

type SchedulerState string

const (
	StateIdle        SchedulerState = "idle"
	StateRunning     SchedulerState = "running"
	StateSummarizing SchedulerState = "summarizing"
	StateSleeping    SchedulerState = "sleeping"
)

type SchedulerConfig struct {
	Accounts     []domain.Account
	Sessions     *SessionManager
	Orchestrator *Orchestrator
	Workflow     Workflow
	Schedule     *DailySchedule
	Sink         ports.SummarySink
	Clock        ports.Clock
	Metrics      ports.Metrics
	Logger       *slog.Logger

	// Heartbeat is the sleep chunk between keep-alive rounds.
	Heartbeat       time.Duration
	KeepAliveMargin time.Duration

	OnStateChange func(SchedulerState)
	NewCycleID    func() string
}

// Scheduler runs every account once per cycle, emits the summary and idles
// until the next daily window.
type Scheduler struct {
	accounts     []domain.Account
	sessions     *SessionManager
	orchestrator *Orchestrator
	workflow     Workflow
	schedule     *DailySchedule
	sink         ports.SummarySink
	clock        ports.Clock
	metrics      ports.Metrics
	logger       *slog.Logger

	heartbeat       time.Duration
	keepAliveMargin time.Duration
	onStateChange   func(SchedulerState)
	newCycleID      func() string

	mu    sync.RWMutex
	state SchedulerState
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Sessions == nil || cfg.Orchestrator == nil || cfg.Workflow == nil || cfg.Schedule == nil {
		return nil, errors.New("scheduler requires sessions, orchestrator, workflow and schedule")
	}

	heartbeat := cfg.Heartbeat
	if heartbeat == 0 {
		heartbeat = defaultHeartbeat
	}
	if heartbeat < minHeartbeat || heartbeat > maxHeartbeat {
		return nil, fmt.Errorf("heartbeat %s outside [%s, %s]", heartbeat, minHeartbeat, maxHeartbeat)
	}

	margin := cfg.KeepAliveMargin
	if margin <= 0 {
		margin = defaultKeepAliveMargin
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
	newCycleID := cfg.NewCycleID
	if newCycleID == nil {
		newCycleID = uuid.NewString
	}

	cfg.Sessions.Track(cfg.Accounts...)

	return &Scheduler{
		accounts:        cfg.Accounts,
		sessions:        cfg.Sessions,
		orchestrator:    cfg.Orchestrator,
		workflow:        cfg.Workflow,
		schedule:        cfg.Schedule,
		sink:            cfg.Sink,
		clock:           clock,
		metrics:         metrics,
		logger:          logger,
		heartbeat:       heartbeat,
		keepAliveMargin: margin,
		onStateChange:   cfg.OnStateChange,
		newCycleID:      newCycleID,
		state:           StateIdle,
	}, nil
}

func (s *Scheduler) State() SchedulerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run loops over cycles until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		summary, err := s.RunCycle(ctx)
		if err != nil {
			return err
		}
		if err := s.SleepUntil(ctx, summary.NextRun); err != nil {
			return err
		}
	}
}

// RunCycle runs every account concurrently, waits for all of them to settle
// and emits the summary. It returns ctx.Err() when cancelled, after the
// units have stopped.
func (s *Scheduler) RunCycle(ctx context.Context) (ports.CycleSummary, error) {
	cycleID := s.newCycleID()
	startedAt := s.clock.Now()
	logger := s.logger.With("cycle_id", cycleID)

	s.setState(StateRunning)
	s.sessions.BeginCycle()
	logger.Info("cycle starting", "accounts", len(s.accounts))

	collector := NewStatCollector(len(s.accounts))
	var wg sync.WaitGroup
	for index, account := range s.accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unit := WorkUnit{
				CycleID: cycleID,
				Index:   index,
				Account: account,
				Logger:  logger.With("account", account.ID, "name", account.DisplayName(index)),
			}
			collector.Append(s.runUnit(ctx, unit))
		}()
	}
	wg.Wait()

	s.setState(StateSummarizing)
	finishedAt := s.clock.Now()
	summary := ports.CycleSummary{
		CycleID:    cycleID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		NextRun:    s.schedule.Next(finishedAt),
		Records:    collector.Sorted(),
	}
	s.metrics.ObserveCycle(finishedAt.Sub(startedAt), summary.Records)

	if s.sink != nil {
		if err := s.sink.Emit(summary); err != nil {
			logger.Error("emit cycle summary", "error", err)
		}
	}
	logger.Info("cycle finished",
		"records", len(summary.Records),
		"duration", finishedAt.Sub(startedAt).Round(time.Second),
		"next_run", summary.NextRun,
	)

	return summary, ctx.Err()
}

// runUnit always yields exactly one record for the account.
func (s *Scheduler) runUnit(ctx context.Context, unit WorkUnit) (record domain.StatRecord) {
	record = domain.StatRecord{AccountID: unit.Account.ID, Name: unit.Name()}

	defer func() {
		if r := recover(); r != nil {
			unit.Logger.Error("account unit crashed", "panic", r)
			record = domain.StatRecord{
				AccountID:   unit.Account.ID,
				Name:        unit.Name(),
				Outcome:     domain.OutcomeCrashed,
				Detail:      fmt.Sprintf("panic: %v", r),
				NextRefresh: s.sessions.NextRefreshLabel(unit.Account.ID),
			}
		}
	}()

	if !unit.Account.Active {
		unit.Logger.Info("account inactive, skipped")
		record.Outcome = domain.OutcomeSkipped
		record.NextRefresh = s.sessions.NextRefreshLabel(unit.Account.ID)
		return record
	}

	if session, _ := s.sessions.Session(unit.Account.ID); !session.HasAccessToken() {
		unit.Logger.Error("account has no session, manual re-authentication required")
		record.Outcome = domain.OutcomeNoCredential
		record.NextRefresh = s.sessions.NextRefreshLabel(unit.Account.ID)
		return record
	}

	if outcome, err := s.preflight(ctx, unit); outcome != "" {
		record.Outcome = outcome
		record.Detail = err.Error()
		record.NextRefresh = s.sessions.NextRefreshLabel(unit.Account.ID)
		return record
	}

	return s.workflow.Run(ctx, unit)
}

// preflight renews a session close to expiry. A non-empty outcome ends the
// account's cycle.
func (s *Scheduler) preflight(ctx context.Context, unit WorkUnit) (domain.Outcome, error) {
	if !s.sessions.IsExpiringSoon(unit.Account.ID, 0) {
		return "", nil
	}

	unit.Logger.Info("session expiring soon, renewing")
	err := s.sessions.Renew(ctx, unit.Account.ID)
	switch {
	case err == nil:
		return "", nil
	case ctx.Err() != nil:
		return domain.OutcomeCanceled, ctx.Err()
	case errors.Is(err, domain.ErrNoCredential):
		return domain.OutcomeNoCredential, err
	case errors.Is(err, domain.ErrRefreshRevoked):
		return domain.OutcomeDead, err
	default:
		unit.Logger.Warn("pre-flight renewal failed, continuing with current session", "error", err)
		return "", nil
	}
}

// SleepUntil idles until next in heartbeat-sized chunks and keeps the
// sessions alive between chunks. A keep-alive never runs past the next chunk
// boundary, so one unreachable account cannot delay the next cycle.
func (s *Scheduler) SleepUntil(ctx context.Context, next time.Time) error {
	s.setState(StateSleeping)
	defer s.setState(StateIdle)

	s.logger.Info("sleeping until next cycle", "next_run", next, "heartbeat", s.heartbeat)

	for remaining := next.Sub(s.clock.Now()); remaining > 0; remaining = next.Sub(s.clock.Now()) {
		if err := s.clock.Sleep(ctx, min(remaining, s.heartbeat)); err != nil {
			return err
		}

		if now := s.clock.Now(); next.Sub(now) > s.keepAliveMargin {
			s.KeepAlive(ctx, minTime(now.Add(s.heartbeat), next))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

// KeepAlive pings every active account concurrently, renewing sessions that
// are about to expire first. Retries of a ping stop at deadline.
func (s *Scheduler) KeepAlive(ctx context.Context, deadline time.Time) {
	s.logger.Info("heartbeat, keeping sessions alive")

	var wg sync.WaitGroup
	for index, account := range s.accounts {
		if !account.Active || s.sessions.IsDead(account.ID) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger := s.logger.With("account", account.ID, "name", account.DisplayName(index))
			ok := s.keepAlive(ctx, account, deadline, logger)
			s.metrics.ObserveKeepAlive(ok)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) keepAlive(ctx context.Context, account domain.Account, deadline time.Time, logger *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("keep-alive crashed", "panic", r)
			ok = false
		}
	}()

	if s.sessions.IsExpiringSoon(account.ID, 0) {
		if err := s.sessions.Renew(ctx, account.ID); err != nil {
			logger.Warn("keep-alive renewal failed", "error", err)
		}
	}

	ping := func(ctx context.Context) (struct{}, error) {
		current, found := s.sessions.Account(account.ID)
		if !found {
			current = account
		}
		return struct{}{}, s.workflow.KeepAlive(ctx, current)
	}

	result := ExecuteUntil(ctx, s.orchestrator, account.ID, "keep_alive", deadline, ping)
	if result.Category == domain.CategoryRenewed {
		result = ExecuteUntil(ctx, s.orchestrator, account.ID, "keep_alive", deadline, ping)
	}
	if !result.OK {
		logger.Warn("keep-alive failed", "category", result.Category, "error", result.Err)
		return false
	}

	logger.Debug("keep-alive ok")
	return true
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func (s *Scheduler) setState(state SchedulerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}
