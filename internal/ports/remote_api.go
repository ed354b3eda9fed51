package ports

import (
	"context"

	"github.com/bnema/session-runner/internal/domain"
)

type RemoteAPI interface {
	Bind(account domain.Account, session domain.Session) AccountClient
}

type AccountClient interface {
	Profile(ctx context.Context) (domain.Profile, error)
	Balance(ctx context.Context) (domain.Balance, error)
	Sync(ctx context.Context) error
	SubmitTransaction(ctx context.Context) error
}

type SessionRenewer interface {
	// RenewSession returns the raw JSON body of a 2xx renewal response.
	RenewSession(ctx context.Context, account domain.Account, session domain.Session) ([]byte, error)
}
