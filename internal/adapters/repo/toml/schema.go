package toml

import "fmt"

const (
	currentSchemaVersion        = 1
	currentHistorySchemaVersion = 1
)

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

// accountSchema only names the fields the runner reads. Anything else in the
// file survives session updates untouched.
type accountSchema struct {
	ID           string            `toml:"id"`
	Name         string            `toml:"name"`
	Active       *bool             `toml:"active,omitempty"`
	Proxy        string            `toml:"proxy,omitempty"`
	Token        string            `toml:"token"`
	RefreshToken string            `toml:"refresh_token"`
	Identity     map[string]string `toml:"identity,omitempty"`
	Overrides    map[string]string `toml:"overrides,omitempty"`
}

type historyFileSchema struct {
	Version int           `toml:"version"`
	Cycles  []cycleSchema `toml:"cycles"`
}

func (s *historyFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentHistorySchemaVersion
	}
}

func (s historyFileSchema) validateVersion() error {
	if s.Version > currentHistorySchemaVersion {
		return fmt.Errorf("unsupported history schema version %d (current %d)", s.Version, currentHistorySchemaVersion)
	}

	return nil
}

type cycleSchema struct {
	CycleID    string         `toml:"cycle_id"`
	StartedAt  string         `toml:"started_at"`
	FinishedAt string         `toml:"finished_at"`
	NextRun    string         `toml:"next_run"`
	Records    []recordSchema `toml:"records"`
}

type recordSchema struct {
	AccountID    string   `toml:"account_id"`
	Name         string   `toml:"name"`
	PointsBefore *float64 `toml:"points_before,omitempty"`
	PointsAfter  *float64 `toml:"points_after,omitempty"`
	Balance      *float64 `toml:"balance,omitempty"`
	Transactions int      `toml:"transactions"`
	Outcome      string   `toml:"outcome"`
	NextRefresh  string   `toml:"next_refresh"`
	Detail       string   `toml:"detail,omitempty"`
}
