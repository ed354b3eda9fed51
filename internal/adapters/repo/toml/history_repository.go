package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	HistoryPathKey  = "history.path"
	HistoryKeepKey  = "history.keep"
	historyFileName = "history.toml"
	defaultKeep     = 30
)

// HistoryRepository keeps the summaries of the most recent cycles so the CLI
// can show them while `sr run` is sleeping.
type HistoryRepository struct {
	path string
	keep int
	mu   *sync.RWMutex
}

var (
	_ ports.SummarySink  = (*HistoryRepository)(nil)
	_ ports.CycleHistory = (*HistoryRepository)(nil)
)

func NewHistoryRepository(cfg *viper.Viper) (*HistoryRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(HistoryPathKey)
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, ConfigDir, historyFileName)
	}

	path, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	keep := cfg.GetInt(HistoryKeepKey)
	if keep <= 0 {
		keep = defaultKeep
	}

	return &HistoryRepository{path: path, keep: keep, mu: lockForPath(path)}, nil
}

// Emit appends the summary and drops the oldest cycles beyond the keep limit.
func (r *HistoryRepository) Emit(summary ports.CycleSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	file.Cycles = append(file.Cycles, toCycleSchema(summary))
	if overflow := len(file.Cycles) - r.keep; overflow > 0 {
		file.Cycles = file.Cycles[overflow:]
	}
	file.applyDefaults()

	if err := writeTOMLFile(r.path, file); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}

	return nil
}

func (r *HistoryRepository) Latest(ctx context.Context) (ports.CycleSummary, error) {
	if err := ctx.Err(); err != nil {
		return ports.CycleSummary{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return ports.CycleSummary{}, err
	}
	if len(file.Cycles) == 0 {
		return ports.CycleSummary{}, domain.ErrNoCycleHistory
	}

	return fromCycleSchema(file.Cycles[len(file.Cycles)-1]), nil
}

func (r *HistoryRepository) readSchema() (historyFileSchema, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return historyFileSchema{Version: currentHistorySchemaVersion}, nil
		}
		return historyFileSchema{}, fmt.Errorf("read history file: %w", err)
	}

	var file historyFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return historyFileSchema{}, fmt.Errorf("decode history file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return historyFileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func toCycleSchema(summary ports.CycleSummary) cycleSchema {
	records := make([]recordSchema, 0, len(summary.Records))
	for _, record := range summary.Records {
		records = append(records, recordSchema{
			AccountID:    string(record.AccountID),
			Name:         record.Name,
			PointsBefore: record.PointsBefore,
			PointsAfter:  record.PointsAfter,
			Balance:      record.Balance,
			Transactions: record.Transactions,
			Outcome:      string(record.Outcome),
			NextRefresh:  record.NextRefresh,
			Detail:       record.Detail,
		})
	}

	return cycleSchema{
		CycleID:    summary.CycleID,
		StartedAt:  formatTime(summary.StartedAt),
		FinishedAt: formatTime(summary.FinishedAt),
		NextRun:    formatTime(summary.NextRun),
		Records:    records,
	}
}

func fromCycleSchema(cycle cycleSchema) ports.CycleSummary {
	records := make([]domain.StatRecord, 0, len(cycle.Records))
	for _, record := range cycle.Records {
		records = append(records, domain.StatRecord{
			AccountID:    domain.AccountID(record.AccountID),
			Name:         record.Name,
			PointsBefore: record.PointsBefore,
			PointsAfter:  record.PointsAfter,
			Balance:      record.Balance,
			Transactions: record.Transactions,
			Outcome:      domain.Outcome(record.Outcome),
			NextRefresh:  record.NextRefresh,
			Detail:       record.Detail,
		})
	}

	return ports.CycleSummary{
		CycleID:    cycle.CycleID,
		StartedAt:  parseTime(cycle.StartedAt),
		FinishedAt: parseTime(cycle.FinishedAt),
		NextRun:    parseTime(cycle.NextRun),
		Records:    records,
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.Format(time.RFC3339)
}
