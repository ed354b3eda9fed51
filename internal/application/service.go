package application

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
)

// StatusService answers read-only questions about the configured accounts
// and the last recorded cycle. It never talks to the remote.
type StatusService struct {
	store     ports.AccountStore
	history   ports.CycleHistory
	clock     ports.Clock
	threshold time.Duration
}

func NewStatusService(store ports.AccountStore, history ports.CycleHistory, clock ports.Clock, threshold time.Duration) *StatusService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if threshold <= 0 {
		threshold = defaultExpiryThreshold
	}

	return &StatusService{
		store:     store,
		history:   history,
		clock:     clock,
		threshold: threshold,
	}
}

func (s *StatusService) Sessions(ctx context.Context) ([]SessionStatus, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	now := s.clock.Now()
	statuses := make([]SessionStatus, 0, len(accounts))
	for index, account := range accounts {
		statuses = append(statuses, s.status(index, account, now))
	}

	return statuses, nil
}

func (s *StatusService) status(index int, account domain.Account, now time.Time) SessionStatus {
	status := SessionStatus{
		Index:      index,
		Account:    account,
		CanRenew:   account.Session.HasAccessToken() && account.Session.HasRefreshToken(),
		CapturedAt: now,
	}

	if !account.Session.HasAccessToken() {
		status.State = SessionNoCredential
		if !account.Active {
			status.State = SessionInactive
		}
		return status
	}

	status.Claims = domain.DecodeClaims(account.Session.AccessToken)
	status.Remaining = status.Claims.Remaining(now)

	switch {
	case !account.Active:
		status.State = SessionInactive
	case !status.Claims.Valid:
		status.State = SessionUnknown
	case status.Remaining <= 0:
		status.State = SessionExpired
	case status.Remaining < s.threshold:
		status.State = SessionExpiring
	default:
		status.State = SessionValid
	}

	return status
}

// LastCycle returns domain.ErrNoCycleHistory before the first recorded cycle.
func (s *StatusService) LastCycle(ctx context.Context) (ports.CycleSummary, error) {
	if s.history == nil {
		return ports.CycleSummary{}, domain.ErrNoCycleHistory
	}

	summary, err := s.history.Latest(ctx)
	if err != nil {
		return ports.CycleSummary{}, fmt.Errorf("load last cycle: %w", err)
	}

	return summary, nil
}
