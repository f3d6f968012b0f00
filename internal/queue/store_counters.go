package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementDailyCount atomically increments the completion counter for a day
// and returns the new count. The upsert is a single conditional update so
// concurrent process instances and restarts agree on the same value.
func (s *Store) IncrementDailyCount(ctx context.Context, date string) (int, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO daily_counters (date, count, updated_at) VALUES (?, 1, ?)
         ON CONFLICT(date) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
         RETURNING count`,
		date,
		timestamp,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment daily counter: %w", err)
	}
	return count, nil
}

// DailyCount returns the completion count recorded for a day. Days without a
// record count as zero; rows are created lazily on first increment.
func (s *Store) DailyCount(ctx context.Context, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count FROM daily_counters WHERE date = ?`, date).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily counter: %w", err)
	}
	return count, nil
}

// DailyCounters lists all counter rows, oldest first. Counters are retained
// indefinitely for audit.
func (s *Store) DailyCounters(ctx context.Context) ([]DailyCounter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, count, updated_at FROM daily_counters ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("list daily counters: %w", err)
	}
	defer rows.Close()

	var counters []DailyCounter
	for rows.Next() {
		var (
			counter    DailyCounter
			updatedRaw string
		)
		if err := rows.Scan(&counter.Date, &counter.Count, &updatedRaw); err != nil {
			return nil, err
		}
		if updated, err := parseTimeString(updatedRaw); err == nil {
			counter.UpdatedAt = updated
		}
		counters = append(counters, counter)
	}
	return counters, rows.Err()
}
