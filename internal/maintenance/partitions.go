package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maintainPartitions ensures the current and next month's chat_messages
// partitions exist and drops partitions whose upper bound is older than
// PartitionCutoff, grounded on biweekly_maintenance.rs's
// run_partition_maintenance.
func (s *Scheduler) maintainPartitions(ctx context.Context) error {
	if s.cfg.DB == nil {
		return nil
	}

	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	nextMonth := thisMonth.AddDate(0, 1, 0)

	if err := s.ensureMonthPartition(ctx, thisMonth); err != nil {
		return err
	}
	if err := s.ensureMonthPartition(ctx, nextMonth); err != nil {
		return err
	}
	return s.dropOldPartitions(ctx, now.Add(-s.cfg.PartitionCutoff))
}

// ensureMonthPartition creates the partition covering [monthStart,
// monthStart+1 month) if it does not already exist, matching
// create_month_partition_if_needed.
func (s *Scheduler) ensureMonthPartition(ctx context.Context, monthStart time.Time) error {
	monthEnd := monthStart.AddDate(0, 1, 0)
	name := partitionName(monthStart)

	q := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF chat_messages FOR VALUES FROM ('%s') TO ('%s')`,
		name, monthStart.Format(time.RFC3339), monthEnd.Format(time.RFC3339),
	)
	if _, err := s.cfg.DB.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	return nil
}

func partitionName(monthStart time.Time) string {
	return fmt.Sprintf("chat_messages_%04d%02d", monthStart.Year(), int(monthStart.Month()))
}

// dropOldPartitions lists chat_messages's child partitions via
// pg_inherits, parses each one's upper bound out of its partition
// boundary expression, and drops any whose upper bound is before cutoff.
// Matches drop_old_chat_partitions, with Go's regexp replacing the
// original's manual lowercase-and-find string scan.
func (s *Scheduler) dropOldPartitions(ctx context.Context, cutoff time.Time) error {
	const listQ = `
		SELECT (inhrelid::regclass)::text
		FROM pg_inherits
		WHERE inhparent::regclass = 'chat_messages'::regclass`
	rows, err := s.cfg.DB.QueryContext(ctx, listQ)
	if err != nil {
		return fmt.Errorf("list chat_messages partitions: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan partition name: %w", err)
		}
		names = append(names, name)
	}
	closeErr := rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chat_messages partitions: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close partition rows: %w", closeErr)
	}

	for _, name := range names {
		upper, ok, err := s.partitionUpperBound(ctx, name)
		if err != nil {
			return err
		}
		if !ok || upper.After(cutoff) {
			continue
		}
		dropQ := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)
		if _, err := s.cfg.DB.ExecContext(ctx, dropQ); err != nil {
			return fmt.Errorf("drop partition %s: %w", name, err)
		}
		if s.cfg.Logger != nil {
			s.cfg.Logger.WithField("partition", name).Info("maintenance: dropped old partition")
		}
	}
	return nil
}

var upperBoundPattern = regexp.MustCompile(`(?i)to\s*\('([^']+)'\)`)

// partitionUpperBound reads name's partition bound expression (e.g.
// "FOR VALUES FROM ('2025-01-01T00:00:00Z') TO ('2025-02-01T00:00:00Z')")
// and parses out the upper timestamp.
func (s *Scheduler) partitionUpperBound(ctx context.Context, name string) (time.Time, bool, error) {
	const q = `SELECT pg_get_expr(relpartbound, oid) FROM pg_class WHERE relname = $1`
	var boundary sql.NullString
	if err := s.cfg.DB.QueryRowContext(ctx, q, name).Scan(&boundary); err != nil {
		return time.Time{}, false, fmt.Errorf("read partition bound for %s: %w", name, err)
	}
	if !boundary.Valid {
		return time.Time{}, false, nil
	}

	match := upperBoundPattern.FindStringSubmatch(boundary.String)
	if match == nil {
		return time.Time{}, false, nil
	}

	raw := strings.TrimSpace(match[1])
	if upper, err := time.Parse(time.RFC3339, raw); err == nil {
		return upper, true, nil
	}
	if upper, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return upper, true, nil
	}
	return time.Time{}, false, nil
}
