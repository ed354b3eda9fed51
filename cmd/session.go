package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	statusadapter "github.com/bnema/session-runner/internal/adapters/render/status"
	"github.com/bnema/session-runner/internal/application"
	"github.com/bnema/session-runner/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and renew account sessions",
	}

	cmd.AddCommand(
		newSessionStatusCmd(load),
		newSessionRenewCmd(load),
	)

	return cmd
}

func newSessionStatusCmd(load appLoader) *cobra.Command {
	var accountID string
	var asJSON bool
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how long each session stays valid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			loadStatuses := func(ctx context.Context) ([]application.SessionStatus, error) {
				statuses, err := app.status.Sessions(ctx)
				if err != nil || accountID == "" {
					return statuses, err
				}
				return filterStatuses(statuses, domain.AccountID(accountID))
			}

			if watch {
				if asJSON {
					return errors.New("--watch and --json cannot be combined")
				}
				return statusadapter.Watch(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), loadStatuses, statusadapter.WatchOptions{
					Interval: interval,
					Now:      app.now,
				})
			}

			statuses, err := loadStatuses(cmd.Context())
			if err != nil {
				return err
			}

			return writeSessionStatuses(cmd, app, statuses, asJSON)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account ID (all accounts when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep refreshing the view until q is pressed")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "refresh interval of --watch")

	return cmd
}

func newSessionRenewCmd(load appLoader) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew sessions now with their refresh tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			engine, err := app.wireEngine(cmd.Context(), io.Discard)
			if err != nil {
				return err
			}

			targets := renewTargets(engine.accounts, domain.AccountID(accountID))
			if accountID != "" && len(targets) == 0 {
				return fmt.Errorf("account %s: %w", accountID, domain.ErrAccountNotFound)
			}

			var errs []error
			for _, target := range targets {
				label := fmt.Sprintf("Renewing session of %s...", target.name)
				err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), label, func(ctx context.Context) error {
					return engine.sessions.Renew(ctx, target.id)
				})
				if err != nil {
					errs = append(errs, renewError(target, err))
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "renewed %s, next refresh %s\n", target.name, engine.sessions.NextRefreshLabel(target.id))
			}

			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account ID (every active account when empty)")

	return cmd
}

type renewTarget struct {
	id   domain.AccountID
	name string
}

func renewTargets(accounts []domain.Account, only domain.AccountID) []renewTarget {
	var targets []renewTarget
	for index, account := range accounts {
		if only != "" && account.ID != only {
			continue
		}
		if only == "" && !account.Active {
			continue
		}
		targets = append(targets, renewTarget{
			id:   account.ID,
			name: fmt.Sprintf("%s (%s)", account.DisplayName(index), account.ID),
		})
	}
	return targets
}

func renewError(target renewTarget, err error) error {
	switch {
	case errors.Is(err, domain.ErrRefreshRevoked):
		return fmt.Errorf("%s: refresh token revoked, re-authenticate manually: %w", target.name, err)
	case errors.Is(err, domain.ErrNoCredential):
		return fmt.Errorf("%s: no refresh token stored, re-authenticate manually: %w", target.name, err)
	default:
		return fmt.Errorf("%s: %w", target.name, err)
	}
}

func filterStatuses(statuses []application.SessionStatus, id domain.AccountID) ([]application.SessionStatus, error) {
	for _, status := range statuses {
		if status.Account.ID == id {
			return []application.SessionStatus{status}, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
}

// sessionJSON leaves the tokens out.
type sessionJSON struct {
	ID               domain.AccountID         `json:"id"`
	Name             string                   `json:"name"`
	Active           bool                     `json:"active"`
	State            application.SessionState `json:"state"`
	ExpiresAt        *time.Time               `json:"expires_at,omitempty"`
	RemainingSeconds int64                    `json:"remaining_seconds"`
	CanRenew         bool                     `json:"can_renew"`
}

func writeSessionStatuses(cmd *cobra.Command, app *app, statuses []application.SessionStatus, asJSON bool) error {
	if asJSON {
		views := make([]sessionJSON, 0, len(statuses))
		for _, status := range statuses {
			view := sessionJSON{
				ID:               status.Account.ID,
				Name:             status.Name(),
				Active:           status.Account.Active,
				State:            status.State,
				RemainingSeconds: int64(status.Remaining / time.Second),
				CanRenew:         status.CanRenew,
			}
			if status.Claims.Valid {
				expiry := status.Claims.Expiry
				view.ExpiresAt = &expiry
			}
			views = append(views, view)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	rendered, err := app.statusRenderer(statuses, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return fmt.Errorf("render session status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
