package ports

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/session-runner/internal/domain"
)

type Metrics interface {
	ObserveCall(op string, category domain.Category)
	ObserveBackoff(category domain.Category, delay time.Duration)
	ObserveRenewal(result string)
	ObserveCycle(duration time.Duration, records []domain.StatRecord)
	ObserveKeepAlive(ok bool)
}

type NopMetrics struct{}

func (NopMetrics) ObserveCall(string, domain.Category) {}
func (NopMetrics) ObserveBackoff(domain.Category, time.Duration) {}
func (NopMetrics) ObserveRenewal(string) {}
func (NopMetrics) ObserveCycle(time.Duration, []domain.StatRecord) {}
func (NopMetrics) ObserveKeepAlive(bool) {}

type SummarySink interface {
	Emit(summary CycleSummary) error
}

type CycleSummary struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	NextRun    time.Time
	Records    []domain.StatRecord
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []SummarySink

func (m MultiSink) Emit(summary CycleSummary) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type CycleHistory interface {
	// Latest returns domain.ErrNoCycleHistory before the first cycle.
	Latest(ctx context.Context) (CycleSummary, error)
}
