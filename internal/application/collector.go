package application

import (
	"slices"
	"strings"
	"sync"

	"github.com/bnema/session-runner/internal/domain"
)

// StatCollector gathers the records of one cycle. Append is safe for
// concurrent use by account units.
type StatCollector struct {
	mu      sync.Mutex
	records []domain.StatRecord
}

func NewStatCollector(capacity int) *StatCollector {
	return &StatCollector{records: make([]domain.StatRecord, 0, max(capacity, 0))}
}

func (c *StatCollector) Append(record domain.StatRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func (c *StatCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Sorted returns a copy ordered by account name. Records with equal names keep
// their append order.
func (c *StatCollector) Sorted() []domain.StatRecord {
	c.mu.Lock()
	records := slices.Clone(c.records)
	c.mu.Unlock()

	slices.SortStableFunc(records, func(a, b domain.StatRecord) int {
		return strings.Compare(a.Name, b.Name)
	})
	return records
}
