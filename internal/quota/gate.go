// Package quota enforces the daily publish limit that gates the batch loop.
// The counter lives in the job store; this package owns the calendar math
// and the decision surface the orchestrator consults.
package quota

import (
	"context"
	"log/slog"
	"time"

	"reeler/internal/logging"
)

// CounterStore is the persistence surface the gate needs. The queue store
// satisfies it.
type CounterStore interface {
	DailyCount(ctx context.Context, date string) (int, error)
	IncrementDailyCount(ctx context.Context, date string) (int, error)
}

// Decision is one evaluation of the gate at a point in time.
type Decision struct {
	Date    string
	Count   int
	Limit   int
	Reached bool
}

// Remaining reports how many completions are still allowed today.
func (d Decision) Remaining() int {
	if d.Limit <= 0 {
		return 0
	}
	remaining := d.Limit - d.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Gate evaluates and advances the daily completion counter. A limit of zero
// or less disables the gate entirely.
type Gate struct {
	store    CounterStore
	limit    int
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a quota gate. The location decides when "today" rolls over.
func New(store CounterStore, limit int, location *time.Location, logger *slog.Logger) *Gate {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		store:    store,
		limit:    limit,
		location: location,
		logger:   logger.With(logging.String(logging.FieldComponent, "quota")),
		now:      time.Now,
	}
}

// DayKey returns the counter key for the given instant in the gate's zone.
func (g *Gate) DayKey(at time.Time) string {
	return at.In(g.location).Format("2006-01-02")
}

// Check reads today's counter without modifying it.
func (g *Gate) Check(ctx context.Context) (Decision, error) {
	if g.limit <= 0 {
		return Decision{Date: g.DayKey(g.now()), Limit: 0}, nil
	}
	date := g.DayKey(g.now())
	count, err := g.store.DailyCount(ctx, date)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Date: date, Count: count, Limit: g.limit, Reached: count >= g.limit}
	if decision.Reached {
		g.logger.InfoContext(ctx, "daily quota reached",
			logging.String("date", date),
			logging.Int("count", count),
			logging.Int("limit", g.limit))
	}
	return decision, nil
}

// Record increments today's counter after a successful publish and returns
// the post-increment decision. The increment is a single atomic upsert, so
// concurrent callers each observe a distinct count.
func (g *Gate) Record(ctx context.Context) (Decision, error) {
	date := g.DayKey(g.now())
	count, err := g.store.IncrementDailyCount(ctx, date)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Date: date, Count: count, Limit: g.limit}
	if g.limit > 0 {
		decision.Reached = count >= g.limit
	}
	return decision, nil
}
