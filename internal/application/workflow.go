package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
)

const (
	defaultMinBalance   = 0.0001
	defaultBatchSize    = 2
	defaultTxDelay      = 2 * time.Second
	defaultSettleDelay  = 10 * time.Second
	defaultRecheckDelay = 30 * time.Second
	defaultMaxResumes   = 3
	defaultBlindBatches = 3
)

// WorkUnit is the per-cycle context handed to one account's workflow.
type WorkUnit struct {
	CycleID string
	Index   int
	Account domain.Account
	Logger  *slog.Logger
}

func (u WorkUnit) Name() string {
	return u.Account.DisplayName(u.Index)
}

// Workflow is the business sequence run once per account per cycle. Run must
// always return a record, including for terminal failures.
type Workflow interface {
	Run(ctx context.Context, unit WorkUnit) domain.StatRecord
	KeepAlive(ctx context.Context, account domain.Account) error
}

type WorkflowConfig struct {
	MinBalance       float64
	IgnoreLowBalance bool
	BatchSize        int
	TxDelay          time.Duration
	SettleDelay      time.Duration
	RecheckDelay     time.Duration
	// MaxTransactions caps submissions per cycle. Zero means until points stop
	// increasing.
	MaxTransactions int
	// MaxResumes bounds how often one step is re-issued after a renewal.
	MaxResumes int
	// BlindBatches bounds consecutive batches whose points check failed.
	BlindBatches int
}

func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MinBalance:   defaultMinBalance,
		BatchSize:    defaultBatchSize,
		TxDelay:      defaultTxDelay,
		SettleDelay:  defaultSettleDelay,
		RecheckDelay: defaultRecheckDelay,
		MaxResumes:   defaultMaxResumes,
		BlindBatches: defaultBlindBatches,
	}
}

// PointsWorkflow reads the profile, syncs, checks the balance and then
// submits transactions in batches for as long as the points keep growing.
type PointsWorkflow struct {
	api          ports.RemoteAPI
	sessions     *SessionManager
	orchestrator *Orchestrator
	clock        ports.Clock
	cfg          WorkflowConfig
}

func NewPointsWorkflow(api ports.RemoteAPI, sessions *SessionManager, orchestrator *Orchestrator, clock ports.Clock, cfg WorkflowConfig) *PointsWorkflow {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	defaults := DefaultWorkflowConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MinBalance < 0 {
		cfg.MinBalance = defaults.MinBalance
	}
	if cfg.MaxResumes <= 0 {
		cfg.MaxResumes = defaults.MaxResumes
	}
	if cfg.BlindBatches <= 0 {
		cfg.BlindBatches = defaults.BlindBatches
	}

	return &PointsWorkflow{
		api:          api,
		sessions:     sessions,
		orchestrator: orchestrator,
		clock:        clock,
		cfg:          cfg,
	}
}

// errStop ends a run early. The record has already been finalised.
var errStop = errors.New("workflow stopped")

type accountRun struct {
	workflow *PointsWorkflow
	account  domain.Account
	client   ports.AccountClient
	logger   *slog.Logger
	record   domain.StatRecord
}

func (w *PointsWorkflow) Run(ctx context.Context, unit WorkUnit) domain.StatRecord {
	logger := unit.Logger
	if logger == nil {
		logger = slog.Default()
	}

	run := &accountRun{
		workflow: w,
		account:  unit.Account,
		logger:   logger,
		record: domain.StatRecord{
			AccountID: unit.Account.ID,
			Name:      unit.Name(),
		},
	}
	run.rebind()

	if err := run.execute(ctx); err != nil && !errors.Is(err, errStop) {
		logger.Error("account workflow failed", "error", err)
		run.finish(domain.OutcomeCrashed, err)
	}

	return run.record
}

func (w *PointsWorkflow) KeepAlive(ctx context.Context, account domain.Account) error {
	session, ok := w.sessions.Session(account.ID)
	if !ok {
		session = account.Session
	}
	_, err := w.api.Bind(account, session).Profile(ctx)
	return err
}

func (r *accountRun) execute(ctx context.Context) error {
	cfg := r.workflow.cfg
	r.logger.Info("account workflow starting")

	profile := runStep(ctx, r, "profile", func(ctx context.Context, client ports.AccountClient) (domain.Profile, error) {
		return client.Profile(ctx)
	})
	if err := r.stopOnTerminal(profile.Category, profile.Err); err != nil {
		return err
	}
	if profile.OK {
		r.record.PointsBefore = domain.Float(profile.Payload.Points)
	} else {
		r.logger.Warn("initial profile unavailable", "error", profile.Err)
	}

	synced := runStep(ctx, r, "sync", func(ctx context.Context, client ports.AccountClient) (struct{}, error) {
		return struct{}{}, client.Sync(ctx)
	})
	if err := r.stopOnTerminal(synced.Category, synced.Err); err != nil {
		return err
	}
	if !synced.OK {
		r.logger.Warn("sync failed, continuing", "error", synced.Err)
	}

	balance := runStep(ctx, r, "balance", func(ctx context.Context, client ports.AccountClient) (domain.Balance, error) {
		return client.Balance(ctx)
	})
	if err := r.stopOnTerminal(balance.Category, balance.Err); err != nil {
		return err
	}

	var amount float64
	if balance.OK {
		amount = balance.Payload.Amount
		r.record.Balance = domain.Float(amount)
	} else {
		r.logger.Warn("balance unavailable, assuming empty", "error", balance.Err)
	}

	r.logger.Info("account state", "points", valueOr(r.record.PointsBefore, 0), "balance", amount, "symbol", balance.Payload.Symbol)

	if amount < cfg.MinBalance {
		if !cfg.IgnoreLowBalance {
			r.logger.Warn("insufficient balance, skipping", "balance", amount, "min_balance", cfg.MinBalance)
			r.record.PointsAfter = r.record.PointsBefore
			r.finish(domain.OutcomeLowBalance, nil)
			return errStop
		}
		r.logger.Warn("insufficient balance ignored", "balance", amount, "min_balance", cfg.MinBalance)
	}

	current, err := r.earn(ctx, valueOr(r.record.PointsBefore, 0))
	r.record.PointsAfter = domain.Float(current)
	if err != nil {
		return err
	}

	r.logger.Info("account workflow finished", "points", current, "transactions", r.record.Transactions)
	r.finish(domain.OutcomeDone, nil)
	return nil
}

// earn submits batches until the points stop increasing and returns the last
// observed points.
func (r *accountRun) earn(ctx context.Context, current float64) (float64, error) {
	cfg := r.workflow.cfg
	submitted := 0
	blind := 0

	for {
		batchStart := current
		r.logger.Debug("running batch", "size", cfg.BatchSize, "points", current)

		for range cfg.BatchSize {
			if cfg.MaxTransactions > 0 && submitted >= cfg.MaxTransactions {
				r.logger.Info("transaction limit reached", "limit", cfg.MaxTransactions)
				return current, nil
			}

			tx := runStep(ctx, r, "submit_transaction", func(ctx context.Context, client ports.AccountClient) (struct{}, error) {
				return struct{}{}, client.SubmitTransaction(ctx)
			})
			if err := r.stopOnTerminal(tx.Category, tx.Err); err != nil {
				return current, err
			}
			submitted++
			if tx.OK {
				r.record.Transactions++
			} else {
				r.logger.Warn("transaction rejected", "error", tx.Err)
			}

			if err := r.pause(ctx, cfg.TxDelay); err != nil {
				return current, err
			}
		}

		if err := r.pause(ctx, cfg.SettleDelay); err != nil {
			return current, err
		}

		points, ok, err := r.points(ctx)
		if err != nil {
			return current, err
		}
		if !ok {
			blind++
			if blind >= cfg.BlindBatches {
				r.logger.Warn("points unverifiable, stopping", "batches", blind)
				return current, nil
			}
			r.logger.Warn("points check failed, continuing tentatively", "batches", blind)
			continue
		}
		blind = 0

		if points > batchStart {
			current = points
			continue
		}

		r.logger.Debug("points flat, re-checking", "points", points, "delay", cfg.RecheckDelay)
		if err := r.pause(ctx, cfg.RecheckDelay); err != nil {
			return current, err
		}

		points, ok, err = r.points(ctx)
		if err != nil {
			return current, err
		}
		if ok && points > batchStart {
			current = points
			continue
		}
		if ok {
			current = points
		}

		r.logger.Info("points stopped increasing", "points", current)
		return current, nil
	}
}

func (r *accountRun) points(ctx context.Context) (float64, bool, error) {
	profile := runStep(ctx, r, "profile", func(ctx context.Context, client ports.AccountClient) (domain.Profile, error) {
		return client.Profile(ctx)
	})
	if err := r.stopOnTerminal(profile.Category, profile.Err); err != nil {
		return 0, false, err
	}
	return profile.Payload.Points, profile.OK, nil
}

func (r *accountRun) pause(ctx context.Context, d time.Duration) error {
	if err := r.workflow.clock.Sleep(ctx, d); err != nil {
		r.finish(domain.OutcomeCanceled, err)
		return errStop
	}
	return nil
}

// stopOnTerminal finalises the record and returns errStop for outcomes that
// end the account's cycle. FATAL step failures fall through.
func (r *accountRun) stopOnTerminal(category domain.Category, err error) error {
	switch category {
	case domain.CategoryAccountDead:
		if errors.Is(err, domain.ErrNoCredential) {
			r.finish(domain.OutcomeNoCredential, err)
		} else {
			r.finish(domain.OutcomeDead, err)
		}
		return errStop
	case domain.CategoryCanceled:
		r.finish(domain.OutcomeCanceled, err)
		return errStop
	default:
		return nil
	}
}

func (r *accountRun) finish(outcome domain.Outcome, err error) {
	r.record.Outcome = outcome
	if err != nil {
		r.record.Detail = err.Error()
	}
	r.record.NextRefresh = r.workflow.sessions.NextRefreshLabel(r.account.ID)
}

func (r *accountRun) rebind() {
	session, ok := r.workflow.sessions.Session(r.account.ID)
	if !ok {
		session = r.account.Session
	}
	r.client = r.workflow.api.Bind(r.account, session)
}

// runStep executes one call through the orchestrator and re-issues it with a
// rebuilt client after every successful renewal.
func runStep[T any](ctx context.Context, r *accountRun, name string, call func(ctx context.Context, client ports.AccountClient) (T, error)) Result[T] {
	for resumes := 0; ; resumes++ {
		client := r.client
		result := Execute(ctx, r.workflow.orchestrator, r.account.ID, name, func(ctx context.Context) (T, error) {
			return call(ctx, client)
		})
		if result.Category != domain.CategoryRenewed {
			return result
		}

		if resumes >= r.workflow.cfg.MaxResumes {
			return Result[T]{
				Category: domain.CategoryAccountDead,
				Err:      fmt.Errorf("%s still unauthorised after %d renewals: %w", name, resumes, result.Err),
				Attempts: result.Attempts,
				Waited:   result.Waited,
			}
		}

		r.logger.Info("session renewed, resuming", "op", name)
		r.rebind()
	}
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
