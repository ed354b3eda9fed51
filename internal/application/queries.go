package application

import (
	"time"

	"github.com/bnema/session-runner/internal/domain"
)

type SessionState string

const (
	SessionInactive     SessionState = "inactive"
	SessionNoCredential SessionState = "no_credential"
	SessionUnknown      SessionState = "unknown"
	SessionExpired      SessionState = "expired"
	SessionExpiring     SessionState = "expiring"
	SessionValid        SessionState = "valid"
)

type SessionStatus struct {
	Index      int
	Account    domain.Account
	State      SessionState
	Claims     domain.Claims
	Remaining  time.Duration
	CanRenew   bool
	CapturedAt time.Time
}

func (s SessionStatus) Name() string {
	return s.Account.DisplayName(s.Index)
}
