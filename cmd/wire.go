package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	metricsadapter "github.com/bnema/session-runner/internal/adapters/metrics"
	"github.com/bnema/session-runner/internal/adapters/remote/httpapi"
	statusadapter "github.com/bnema/session-runner/internal/adapters/render/status"
	"github.com/bnema/session-runner/internal/adapters/render/summary"
	tomlrepo "github.com/bnema/session-runner/internal/adapters/repo/toml"
	"github.com/bnema/session-runner/internal/application"
	"github.com/bnema/session-runner/internal/config"
	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	"github.com/bnema/session-runner/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type appLoader func(cmd *cobra.Command) (*app, error)

// app holds what every command needs. The engine is only wired by commands
// that talk to the remote service.
type app struct {
	cfg            config.Config
	logger         *slog.Logger
	accounts       *tomlrepo.Repository
	history        *tomlrepo.HistoryRepository
	status         *application.StatusService
	statusRenderer func([]application.SessionStatus, statusadapter.RenderOptions) (string, error)
	schedule       *application.DailySchedule
	now            func() time.Time
}

type engine struct {
	sessions  *application.SessionManager
	scheduler *application.Scheduler
	registry  *prometheus.Registry
	accounts  []domain.Account
}

func wireApp(configFile string, logOutput io.Writer) (*app, error) {
	v := viper.New()
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}

	logger := telemetry.SetupLogger(logOutput, telemetry.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	repo, err := tomlrepo.NewRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}
	history, err := tomlrepo.NewHistoryRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire history repository: %w", err)
	}

	offset, err := config.ParseUTCOffset(cfg.Schedule.UTCOffset)
	if err != nil {
		return nil, err
	}
	schedule, err := application.NewDailySchedule(cfg.Schedule.DailyAt, offset, cfg.Schedule.Cron)
	if err != nil {
		return nil, err
	}
	clock := ports.SystemClock{}

	return &app{
		cfg:            cfg,
		logger:         logger,
		accounts:       repo,
		history:        history,
		status:         application.NewStatusService(repo, history, clock, cfg.Session.ExpiryThreshold),
		statusRenderer: statusadapter.Render,
		schedule:       schedule,
		now:            clock.Now,
	}, nil
}

// wireEngine builds the full runner. Accounts the client rejects up front are
// kept but marked inactive so they still show up in the summary.
func (a *app) wireEngine(ctx context.Context, out io.Writer) (*engine, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := httpapi.NewClient(a.clientConfig())
	if err != nil {
		return nil, fmt.Errorf("wire api client: %w", err)
	}

	accounts, err := a.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	for index := range accounts {
		if !accounts[index].Active {
			continue
		}
		if err := client.Validate(accounts[index]); err != nil {
			a.logger.Error("account disabled for this run",
				"account", accounts[index].ID,
				"name", accounts[index].DisplayName(index),
				"error", err,
			)
			accounts[index].Active = false
		}
	}

	registry := prometheus.NewRegistry()
	collector := metricsadapter.NewCollector(registry)
	clock := ports.SystemClock{}
	classifier := application.NewClassifier(a.classifierConfig())
	backoff := application.NewBackoff(a.backoffConfig(), nil)

	sessions := application.NewSessionManager(application.SessionManagerConfig{
		Store:            a.accounts,
		Renewer:          client,
		Classifier:       classifier,
		Backoff:          backoff,
		Clock:            clock,
		Metrics:          collector,
		Logger:           a.logger,
		ExpiryThreshold:  a.cfg.Session.ExpiryThreshold,
		MaxRenewAttempts: a.cfg.Session.MaxRenewAttempts,
	})
	orchestrator := application.NewOrchestrator(application.OrchestratorConfig{
		Sessions:   sessions,
		Classifier: classifier,
		Backoff:    backoff,
		Clock:      clock,
		Metrics:    collector,
		Logger:     a.logger,
		CrashPause: a.cfg.Retry.CrashPause,
		MaxCrashes: a.cfg.Retry.MaxCrashes,
	})
	workflow := application.NewPointsWorkflow(client, sessions, orchestrator, clock, a.workflowConfig())

	scheduler, err := application.NewScheduler(application.SchedulerConfig{
		Accounts:     accounts,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Workflow:     workflow,
		Schedule:     a.schedule,
		Sink: ports.MultiSink{
			summary.NewWriter(out, summary.RenderOptions{Location: a.schedule.Location()}),
			a.history,
		},
		Clock:     clock,
		Metrics:   collector,
		Logger:    a.logger,
		Heartbeat: a.cfg.Schedule.Heartbeat,
		OnStateChange: func(state application.SchedulerState) {
			a.logger.Debug("scheduler state changed", "state", state)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wire scheduler: %w", err)
	}

	return &engine{
		sessions:  sessions,
		scheduler: scheduler,
		registry:  registry,
		accounts:  accounts,
	}, nil
}

func (a *app) clientConfig() httpapi.Config {
	api := a.cfg.API
	return httpapi.Config{
		BaseURL: api.BaseURL,
		Endpoints: httpapi.Endpoints{
			Profile:  api.Endpoints.Profile,
			Balances: api.Endpoints.Balances,
			Sync:     api.Endpoints.Sync,
			Send:     api.Endpoints.Send,
		},
		RenewURL:       api.RenewURL,
		Timeout:        api.Timeout,
		Headers:        api.Headers,
		IdentityHeader: api.IdentityHeader,
		BalanceSymbols: api.BalanceSymbols,
		Tx: httpapi.TxConfig{
			BlockchainID: api.Tx.BlockchainID,
			IsNative:     api.Tx.IsNative,
			TokenAddress: api.Tx.TokenAddress,
			Amount:       api.Tx.Amount,
			Recipients:   api.Tx.Recipients,
		},
	}
}

// classifierConfig appends the configured patterns to the built-in lists.
func (a *app) classifierConfig() application.ClassifierConfig {
	retry := a.cfg.Retry
	cfg := application.DefaultClassifierConfig()
	cfg.ProxyPatterns = append(cfg.ProxyPatterns, retry.ProxyPatterns...)
	cfg.ProxiedPatterns = append(cfg.ProxiedPatterns, retry.ProxiedPatterns...)
	cfg.ProxyStatuses = append(cfg.ProxyStatuses, retry.ProxyStatuses...)
	cfg.NetworkPatterns = append(cfg.NetworkPatterns, retry.NetworkPatterns...)
	cfg.InvalidCredentialMarkers = append(cfg.InvalidCredentialMarkers, retry.InvalidCredentialMarkers...)
	if retry.DefaultRetryAfter > 0 {
		cfg.DefaultRetryAfter = retry.DefaultRetryAfter
	}
	return cfg
}

func (a *app) backoffConfig() application.BackoffConfig {
	retry := a.cfg.Retry
	return application.BackoffConfig{
		NetworkBase:       retry.NetworkBase,
		ProxyBase:         retry.ProxyBase,
		Cap:               retry.Cap,
		JitterMin:         retry.JitterMin,
		JitterMax:         retry.JitterMax,
		ProxyPenalty:      retry.ProxyPenalty,
		ProxyPenaltyAfter: retry.ProxyPenaltyAfter,
	}
}

func (a *app) workflowConfig() application.WorkflowConfig {
	wf := a.cfg.Workflow
	cfg := application.DefaultWorkflowConfig()
	cfg.MinBalance = wf.MinBalance
	cfg.IgnoreLowBalance = wf.IgnoreLowBalance
	cfg.BatchSize = wf.BatchSize
	cfg.TxDelay = wf.TxDelay
	cfg.SettleDelay = wf.SettleDelay
	cfg.RecheckDelay = wf.RecheckDelay
	cfg.MaxTransactions = wf.MaxTransactions
	return cfg
}

// serveMetrics exposes the registry until ctx is done. An empty address
// disables the endpoint.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) {
	if addr == "" {
		return
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           metricsadapter.Handler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint stopped", "error", err)
		}
	}()
}
