package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	AccountsPathKey    = "accounts.path"
	ConfigDir          = ".session-runner"
	accountsConfigFile = "accounts.toml"

	accessTokenField  = "token"
	refreshTokenField = "refresh_token"
)

// Repository is the accounts file. Reads decode into accountSchema; session
// updates go through a generic document so unknown fields are preserved.
type Repository struct {
	accountsPath string
	mu           *sync.RWMutex
}

var _ ports.AccountStore = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	cfg.SetDefault(AccountsPathKey, filepath.Join(homeDir, ConfigDir, accountsConfigFile))

	accountsPath := cfg.GetString(AccountsPathKey)
	if accountsPath == "" {
		return nil, errors.New("accounts path is empty")
	}
	accountsPath, err = normalizePath(accountsPath)
	if err != nil {
		return nil, err
	}

	return &Repository{accountsPath: accountsPath, mu: lockForPath(accountsPath)}, nil
}

func (r *Repository) Path() string {
	return r.accountsPath
}

// List returns the accounts in file order.
func (r *Repository) List(ctx context.Context) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(file.Accounts))
	for index, entry := range file.Accounts {
		accounts = append(accounts, fromSchema(index, entry))
	}

	return accounts, nil
}

// UpdateSession re-reads the file and rewrites only the token fields of the
// matching entry. An empty refresh token leaves the stored one in place.
func (r *Repository) UpdateSession(ctx context.Context, id domain.AccountID, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.accountsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("update session %s: %w", id, domain.ErrAccountNotFound)
		}
		return fmt.Errorf("read accounts file: %w", err)
	}

	var document map[string]any
	if err := toml.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("decode accounts file: %w", err)
	}

	entry, err := findAccountEntry(document, id)
	if err != nil {
		return err
	}

	entry[accessTokenField] = session.AccessToken
	if session.RefreshToken != "" {
		entry[refreshTokenField] = session.RefreshToken
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := writeTOMLFile(r.accountsPath, document); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}

	return nil
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.accountsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, fmt.Errorf("read accounts file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode accounts file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func findAccountEntry(document map[string]any, id domain.AccountID) (map[string]any, error) {
	entries, _ := document["accounts"].([]any)
	for index, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		value, _ := entry["id"].(string)
		if entryID(index, value) == id {
			return entry, nil
		}
	}

	return nil, fmt.Errorf("update session %s: %w", id, domain.ErrAccountNotFound)
}

// entryID falls back to the 1-based position for entries written without an
// id. Such ids are only stable while the file order is.
func entryID(index int, raw string) domain.AccountID {
	if id := strings.TrimSpace(raw); id != "" {
		return domain.AccountID(id)
	}
	return domain.AccountID("#" + strconv.Itoa(index+1))
}

func fromSchema(index int, entry accountSchema) domain.Account {
	active := true
	if entry.Active != nil {
		active = *entry.Active
	}

	return domain.Account{
		ID:     entryID(index, entry.ID),
		Name:   strings.TrimSpace(entry.Name),
		Active: active,
		Proxy:  strings.TrimSpace(entry.Proxy),
		Session: domain.Session{
			AccessToken:  strings.TrimSpace(entry.Token),
			RefreshToken: strings.TrimSpace(entry.RefreshToken),
		},
		Identity:  entry.Identity,
		Overrides: entry.Overrides,
	}
}
