package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	"golang.org/x/time/rate"
)

const (
	defaultCrashPause = 5 * time.Second
	defaultMaxCrashes = 10
)

// Operation is one remote call. It must be safe to re-issue.
type Operation[T any] func(ctx context.Context) (T, error)

// errRetryDeadline stops ExecuteUntil when the next wait would end past its
// deadline.
var errRetryDeadline = errors.New("retry deadline reached")

// Result is what Execute hands back to a workflow step. OK implies
// Category == domain.CategoryNone. A transient Category with OK false means
// ExecuteUntil ran out of time.
type Result[T any] struct {
	OK       bool
	Category domain.Category
	Payload  T
	Err      error
	Attempts int
	Waited   time.Duration
}

type OrchestratorConfig struct {
	Sessions   *SessionManager
	Classifier *Classifier
	Backoff    Backoff
	Clock      ports.Clock
	Metrics    ports.Metrics
	Logger     *slog.Logger

	CrashPause time.Duration
	// MaxCrashes bounds recoveries from panics that do not look like network
	// trouble. Transient failures are only bounded by ExecuteUntil.
	MaxCrashes int
}

type Orchestrator struct {
	sessions   *SessionManager
	classifier *Classifier
	backoff    Backoff
	clock      ports.Clock
	metrics    ports.Metrics
	logger     *slog.Logger
	crashPause time.Duration
	maxCrashes int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewClassifier(DefaultClassifierConfig())
	}
	backoff := cfg.Backoff
	if backoff.random == nil {
		backoff = NewBackoff(DefaultBackoffConfig(), nil)
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
	crashPause := cfg.CrashPause
	if crashPause <= 0 {
		crashPause = defaultCrashPause
	}
	maxCrashes := cfg.MaxCrashes
	if maxCrashes <= 0 {
		maxCrashes = defaultMaxCrashes
	}

	return &Orchestrator{
		sessions:   cfg.Sessions,
		classifier: classifier,
		backoff:    backoff,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		crashPause: crashPause,
		maxCrashes: maxCrashes,
	}
}

type retryState struct {
	deadline         time.Time
	failures         int
	attempts         int
	consecutiveProxy int
	crashes          int
	waited           time.Duration
	logs             *rate.Sometimes
}

func newRetryState(deadline time.Time) *retryState {
	return &retryState{
		deadline: deadline,
		logs:     &rate.Sometimes{First: 3, Every: 20, Interval: 10 * time.Minute},
	}
}

// Execute runs op until it succeeds, needs its caller to rebuild the session
// context, or fails terminally. Transient failures are retried without bound
// so the call only returns early when ctx is cancelled.
func Execute[T any](ctx context.Context, o *Orchestrator, accountID domain.AccountID, name string, op Operation[T]) Result[T] {
	return execute(ctx, o, accountID, name, time.Time{}, op)
}

// ExecuteUntil is Execute for calls that must not outlive deadline: it gives
// up with the last transient category instead of waiting past it.
func ExecuteUntil[T any](ctx context.Context, o *Orchestrator, accountID domain.AccountID, name string, deadline time.Time, op Operation[T]) Result[T] {
	return execute(ctx, o, accountID, name, deadline, op)
}

func execute[T any](ctx context.Context, o *Orchestrator, accountID domain.AccountID, name string, deadline time.Time, op Operation[T]) Result[T] {
	state := newRetryState(deadline)
	logger := o.logger.With("account", accountID, "op", name)

	result := func(category domain.Category, err error) Result[T] {
		return Result[T]{Category: category, Err: err, Attempts: state.failures + 1, Waited: state.waited}
	}
	stop := func(category domain.Category, cause, sleepErr error) Result[T] {
		if errors.Is(sleepErr, errRetryDeadline) {
			logger.Warn("retry deadline reached, giving up", "category", category, "failures", state.failures, "error", cause)
			return result(category, cause)
		}
		return result(domain.CategoryCanceled, sleepErr)
	}

	for {
		if err := ctx.Err(); err != nil {
			return result(domain.CategoryCanceled, err)
		}

		payload, err, crash := invoke(ctx, op)
		if crash != nil {
			state.failures++
			o.metrics.ObserveCall(name, domain.CategoryFatal)
			if category, stopErr := o.recoverCrash(ctx, state, logger, crash); category != domain.CategoryNone {
				return result(category, stopErr)
			}
			continue
		}

		if err == nil {
			o.metrics.ObserveCall(name, domain.CategoryNone)
			return Result[T]{OK: true, Payload: payload, Attempts: state.failures + 1, Waited: state.waited}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return result(domain.CategoryCanceled, ctxErr)
		}

		failure := o.classifier.Classify(err)
		o.metrics.ObserveCall(name, failure.Category)
		state.failures++

		switch failure.Category {
		case domain.CategoryAuthExpired:
			return result(o.renew(ctx, accountID, logger, err))

		case domain.CategoryRateLimited:
			state.consecutiveProxy = 0
			state.log(ctx, logger, "rate limited, waiting", failure.Category, failure.RetryAfter, err)
			if sleepErr := o.sleep(ctx, state, failure.Category, failure.RetryAfter); sleepErr != nil {
				return stop(failure.Category, err, sleepErr)
			}

		case domain.CategoryTransientNetwork, domain.CategoryTransientProxy:
			delay := state.nextDelay(o.backoff, failure.Category)
			state.log(ctx, logger, "transient failure, backing off", failure.Category, delay, err)
			if sleepErr := o.sleep(ctx, state, failure.Category, delay); sleepErr != nil {
				return stop(failure.Category, err, sleepErr)
			}

		case domain.CategoryCanceled:
			return result(domain.CategoryCanceled, err)

		default:
			logger.Warn("call failed", "category", failure.Category, "error", err)
			return result(domain.CategoryFatal, err)
		}
	}
}

// renew returns CategoryRenewed when the caller may resume with a fresh
// session, CategoryAccountDead otherwise.
func (o *Orchestrator) renew(ctx context.Context, accountID domain.AccountID, logger *slog.Logger, cause error) (domain.Category, error) {
	if o.sessions == nil {
		return domain.CategoryAccountDead, cause
	}

	logger.Info("session expired, renewing")
	if err := o.sessions.Renew(ctx, accountID); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.CategoryCanceled, ctxErr
		}
		logger.Error("session renewal failed, account is dead for this call", "error", err)
		return domain.CategoryAccountDead, errors.Join(cause, err)
	}

	return domain.CategoryRenewed, cause
}

// recoverCrash returns CategoryNone when the call should be re-issued.
func (o *Orchestrator) recoverCrash(ctx context.Context, state *retryState, logger *slog.Logger, crash error) (domain.Category, error) {
	category := o.classifier.ClassifyMessage(crash.Error())
	if category.Transient() {
		delay := state.nextDelay(o.backoff, category)
		state.log(ctx, logger, "operation crashed on a transient fault, backing off", category, delay, crash)
		if err := o.sleep(ctx, state, category, delay); err != nil {
			return crashStop(category, crash, err)
		}
		return domain.CategoryNone, nil
	}

	state.consecutiveProxy = 0
	state.crashes++
	if state.crashes >= o.maxCrashes {
		logger.Error("operation keeps crashing, giving up", "crashes", state.crashes, "error", crash)
		return domain.CategoryFatal, crash
	}

	logger.Error("operation crashed, pausing before retry", "crashes", state.crashes, "pause", o.crashPause, "error", crash)
	if err := o.sleep(ctx, state, domain.CategoryFatal, o.crashPause); err != nil {
		return crashStop(domain.CategoryFatal, crash, err)
	}
	return domain.CategoryNone, nil
}

func crashStop(category domain.Category, crash, sleepErr error) (domain.Category, error) {
	if errors.Is(sleepErr, errRetryDeadline) {
		return category, crash
	}
	return domain.CategoryCanceled, sleepErr
}

func (o *Orchestrator) sleep(ctx context.Context, state *retryState, category domain.Category, delay time.Duration) error {
	if !state.deadline.IsZero() && o.clock.Now().Add(delay).After(state.deadline) {
		return errRetryDeadline
	}
	o.metrics.ObserveBackoff(category, delay)
	state.waited += delay
	return o.clock.Sleep(ctx, delay)
}

func (s *retryState) nextDelay(backoff Backoff, category domain.Category) time.Duration {
	s.attempts++

	proxy := category == domain.CategoryTransientProxy
	if proxy {
		s.consecutiveProxy++
	} else {
		s.consecutiveProxy = 0
	}

	return backoff.Delay(s.attempts, proxy, s.consecutiveProxy)
}

// log escalates from debug to error as a failure persists and is throttled
// once the first few occurrences have been reported.
func (s *retryState) log(ctx context.Context, logger *slog.Logger, msg string, category domain.Category, delay time.Duration, err error) {
	level := slog.LevelDebug
	switch {
	case s.failures >= 10:
		level = slog.LevelError
	case s.failures >= 3:
		level = slog.LevelWarn
	}

	s.logs.Do(func() {
		logger.Log(ctx, level, msg,
			"category", category,
			"failures", s.failures,
			"consecutive_proxy", s.consecutiveProxy,
			"delay", delay.Round(time.Millisecond),
			"waited", s.waited.Round(time.Second),
			"error", err,
		)
	})
}

func invoke[T any](ctx context.Context, op Operation[T]) (payload T, err error, crash error) {
	defer func() {
		if r := recover(); r != nil {
			crash = fmt.Errorf("operation panicked: %v", r)
		}
	}()

	payload, err = op(ctx)
	return payload, err, nil
}
