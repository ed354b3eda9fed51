package domain

import (
	"fmt"
	"strconv"
)

type Outcome string

const (
	OutcomeDone         Outcome = "done"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeLowBalance   Outcome = "low_balance"
	OutcomeDead         Outcome = "dead"
	OutcomeNoCredential Outcome = "no_credential"
	OutcomeCrashed      Outcome = "crashed"
	OutcomeCanceled     Outcome = "canceled"
)

// StatRecord is the per-account, per-cycle summary row. Points are nil when
// they could not be read.
type StatRecord struct {
	AccountID    AccountID
	Name         string
	PointsBefore *float64
	PointsAfter  *float64
	Balance      *float64
	Transactions int
	Outcome      Outcome
	NextRefresh  string
	Detail       string
}

type Profile struct {
	Points        float64
	WalletAddress string
}

type Balance struct {
	Symbol string
	Amount float64
}

func Float(v float64) *float64 {
	return &v
}

// Gained is PointsAfter - PointsBefore, or false when either is unknown.
func (r StatRecord) Gained() (float64, bool) {
	if r.PointsBefore == nil || r.PointsAfter == nil {
		return 0, false
	}
	return *r.PointsAfter - *r.PointsBefore, true
}

// CompactNumber renders 1234.5 as 1.2k and 2500000 as 2.5M.
func CompactNumber(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs < 1_000:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case abs < 1_000_000:
		return fmt.Sprintf("%.1fk", v/1_000)
	default:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	}
}
