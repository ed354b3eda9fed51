package ports

import (
	"context"

	"github.com/bnema/session-runner/internal/domain"
)

type AccountStore interface {
	List(ctx context.Context) ([]domain.Account, error)
	// UpdateSession merges the session fields into the persisted copy of the
	// account, leaving every other persisted field untouched.
	UpdateSession(ctx context.Context, id domain.AccountID, session domain.Session) error
}
