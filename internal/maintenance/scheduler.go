// Package maintenance implements the periodic upkeep original_source's
// Rust tasks spell out: monthly partition creation, biweekly archival of
// old chat
// messages, and periodic rollups of per-user counters into a column
// store for fast analytics. Grounded on
// maowbot-core/src/tasks/biweekly_maintenance.rs (restored from
// original_source, dropped by the distillation) for the pass's shape and
// ordering, and on pkg/database/clickhouse.go for the two-tier
// Postgres/ClickHouse split: Postgres stays OLTP-shaped, ClickHouse holds
// the rollup for analytics queries.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatbroker/internal/logging"
	"chatbroker/internal/repository/postgres"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	// DefaultRunInterval matches biweekly_maintenance.rs's two-week cadence.
	DefaultRunInterval = 14 * 24 * time.Hour
	// DefaultArchiveCutoff matches run_archive_and_analysis's 30-day cutoff.
	DefaultArchiveCutoff = 30 * 24 * time.Hour
	// DefaultPartitionCutoff matches run_partition_maintenance's 60-day cutoff.
	DefaultPartitionCutoff = 60 * 24 * time.Hour

	rollupPageSize = 500
)

// Store is the persistence surface maintenance needs, satisfied by
// internal/repository/postgres.Store. Declared locally so tests can
// substitute a fake instead of a live Postgres connection.
type Store interface {
	ArchiveMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListAnalysisForRollup(ctx context.Context, offset, limit int) ([]postgres.RollupCandidate, error)
}

// ClickHouseWriter is the native ClickHouse batch-insert surface the
// rollup step writes to, satisfied by driver.Conn
// (pkg/database/clickhouse.go's ConnectClickHouseNative). A nil writer
// disables rollup export entirely, for deployments with no analytics
// tier.
type ClickHouseWriter interface {
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
}

// Config configures a Scheduler.
type Config struct {
	DB              *sql.DB // raw Postgres handle, for partition DDL only
	Store           Store
	ClickHouse      ClickHouseWriter
	RunInterval     time.Duration
	ArchiveCutoff   time.Duration
	PartitionCutoff time.Duration
	Logger          logging.Logger
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = DefaultRunInterval
	}
	if c.ArchiveCutoff <= 0 {
		c.ArchiveCutoff = DefaultArchiveCutoff
	}
	if c.PartitionCutoff <= 0 {
		c.PartitionCutoff = DefaultPartitionCutoff
	}
	return c
}

// Scheduler runs the periodic maintenance pass: partition upkeep,
// message archival, and per-user rollup export.
type Scheduler struct {
	cfg Config
}

// New constructs a Scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults()}
}

// Run blocks, firing RunOnce every RunInterval until ctx is canceled,
// mirroring biweekly_maintenance.rs's spawn_biweekly_maintenance_task
// interval loop. A failed pass is logged, not fatal; the next tick tries
// again.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && s.cfg.Logger != nil {
				s.cfg.Logger.WithError(err).Error("maintenance: run failed")
			}
		}
	}
}

// RunOnce executes one maintenance pass: ensure this and next month's
// chat_messages partitions exist, drop partitions past PartitionCutoff,
// archive messages past ArchiveCutoff, then export user_analysis rollups
// to ClickHouse. Matches run_biweekly_maintenance's step ordering.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("maintenance: starting pass")
	}

	if err := s.maintainPartitions(ctx); err != nil {
		return fmt.Errorf("maintenance: partition step: %w", err)
	}

	archived, err := s.cfg.Store.ArchiveMessagesOlderThan(ctx, time.Now().Add(-s.cfg.ArchiveCutoff))
	if err != nil {
		return fmt.Errorf("maintenance: archive step: %w", err)
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.WithFields(logging.Fields{"archived": archived}).Info("maintenance: archived old messages")
	}

	if err := s.exportRollups(ctx); err != nil {
		return fmt.Errorf("maintenance: rollup step: %w", err)
	}

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("maintenance: pass complete")
	}
	return nil
}
