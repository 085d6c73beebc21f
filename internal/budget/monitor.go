// Package budget computes spend-to-limit status from ledger aggregates.
//
// Status is always derived fresh; it is never stored and never a source of
// truth. A missing limit means "informational only": ratio 0, level ok,
// logging is never blocked.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/pricing"
)

// Alert levels. warning starts at 80% of the limit, exceeded at 100%.
const (
	LevelOK       = "ok"
	LevelWarning  = "warning"
	LevelExceeded = "exceeded"
)

const warningRatio = 0.8

// Status is the derived budget state for one period.
type Status struct {
	Period     string
	Spent      pricing.Amount
	Limit      pricing.Amount
	HasLimit   bool
	Ratio      float64
	AlertLevel string
}

// Monitor reads ledger aggregates and limits.
type Monitor struct {
	store *ledger.Store
	now   func() time.Time
}

// NewMonitor creates a monitor over the given ledger.
func NewMonitor(store *ledger.Store) *Monitor {
	return &Monitor{store: store, now: time.Now}
}

// Status computes the current budget state for a period from the window
// [PeriodStart(now, period), now).
func (m *Monitor) Status(ctx context.Context, period string) (Status, error) {
	now := m.now().UTC()
	start, err := PeriodStart(now, period)
	if err != nil {
		return Status{}, err
	}

	rows, err := m.store.Aggregate(ctx, start, now, ledger.GroupNone)
	if err != nil {
		return Status{}, fmt.Errorf("budget status: %w", err)
	}
	var spent pricing.Amount
	if len(rows) > 0 {
		spent = rows[0].TotalCost
	}

	limit, hasLimit, err := m.store.BudgetLimit(ctx, period)
	if err != nil {
		return Status{}, fmt.Errorf("budget status: %w", err)
	}

	st := Status{
		Period:     period,
		Spent:      spent,
		Limit:      limit,
		HasLimit:   hasLimit,
		AlertLevel: LevelOK,
	}
	if !hasLimit || limit <= 0 {
		return st, nil
	}

	st.Ratio = float64(spent) / float64(limit)
	switch {
	case st.Ratio >= 1.0:
		st.AlertLevel = LevelExceeded
	case st.Ratio >= warningRatio:
		st.AlertLevel = LevelWarning
	}
	return st, nil
}

// All returns the status of every period, in daily/weekly/monthly order.
func (m *Monitor) All(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, 3)
	for _, period := range []string{ledger.PeriodDaily, ledger.PeriodWeekly, ledger.PeriodMonthly} {
		st, err := m.Status(ctx, period)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// PeriodStart returns the UTC start of the accounting window containing now:
// midnight for daily, the most recent Monday 00:00 for weekly, the first of
// the month for monthly.
func PeriodStart(now time.Time, period string) (time.Time, error) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case ledger.PeriodDaily:
		return midnight, nil
	case ledger.PeriodWeekly:
		// time.Weekday has Sunday == 0; shift so Monday is the origin.
		offset := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset), nil
	case ledger.PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unknown budget period %q", period)
}
