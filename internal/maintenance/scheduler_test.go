package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"chatbroker/internal/repository/postgres"
)

// fakeStore is an in-memory Store recording calls made against it.
type fakeStore struct {
	archiveCutoff time.Time
	archivedCount int64
	archiveErr    error

	rollupPages [][]postgres.RollupCandidate
	rollupCalls int
}

func (f *fakeStore) ArchiveMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.archiveCutoff = cutoff
	return f.archivedCount, f.archiveErr
}

func (f *fakeStore) ListAnalysisForRollup(ctx context.Context, offset, limit int) ([]postgres.RollupCandidate, error) {
	page := offset / limit
	f.rollupCalls++
	if page >= len(f.rollupPages) {
		return nil, nil
	}
	return f.rollupPages[page], nil
}

func TestRunOnceArchivesAndSkipsRollupWithoutClickHouse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// Both month partitions, then the empty-partitions listing.
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_messages_").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_messages_").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM pg_inherits").WillReturnRows(sqlmock.NewRows([]string{"regclass"}))

	store := &fakeStore{archivedCount: 7}
	sched := New(Config{DB: db, Store: store})

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if store.rollupCalls != 0 {
		t.Fatalf("expected no rollup calls without a ClickHouse writer, got %d", store.rollupCalls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDropOldPartitionsParsesBoundaryAndDrops(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM pg_inherits").
		WillReturnRows(sqlmock.NewRows([]string{"regclass"}).AddRow("chat_messages_202401"))
	mock.ExpectQuery("FROM pg_class").
		WithArgs("chat_messages_202401").
		WillReturnRows(sqlmock.NewRows([]string{"pg_get_expr"}).
			AddRow("FOR VALUES FROM ('2024-01-01T00:00:00Z') TO ('2024-02-01T00:00:00Z')"))
	mock.ExpectExec("DROP TABLE IF EXISTS chat_messages_202401").WillReturnResult(sqlmock.NewResult(0, 0))

	sched := New(Config{DB: db})
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := sched.dropOldPartitions(context.Background(), cutoff); err != nil {
		t.Fatalf("dropOldPartitions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDropOldPartitionsKeepsRecentPartition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM pg_inherits").
		WillReturnRows(sqlmock.NewRows([]string{"regclass"}).AddRow("chat_messages_202501"))
	mock.ExpectQuery("FROM pg_class").
		WithArgs("chat_messages_202501").
		WillReturnRows(sqlmock.NewRows([]string{"pg_get_expr"}).
			AddRow("FOR VALUES FROM ('2025-01-01T00:00:00Z') TO ('2025-02-01T00:00:00Z')"))

	sched := New(Config{DB: db})
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := sched.dropOldPartitions(context.Background(), cutoff); err != nil {
		t.Fatalf("dropOldPartitions: %v", err)
	}
	// No DROP TABLE expectation was set; ExpectationsWereMet fails if one
	// ran that we didn't anticipate.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPartitionName(t *testing.T) {
	got := partitionName(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if got != "chat_messages_202503" {
		t.Fatalf("unexpected partition name: %s", got)
	}
}

func TestPaginateStopsOnShortPage(t *testing.T) {
	var calls []int
	err := paginate(2, func(offset, limit int) (int, error) {
		calls = append(calls, offset)
		switch offset {
		case 0:
			return 2, nil
		case 2:
			return 1, nil // short page: stop here
		default:
			t.Fatalf("unexpected extra call at offset %d", offset)
			return 0, nil
		}
	})
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d: %v", len(calls), calls)
	}
}

func TestPaginatePropagatesError(t *testing.T) {
	boom := context.DeadlineExceeded
	err := paginate(2, func(offset, limit int) (int, error) {
		return 0, boom
	})
	if err != boom {
		t.Fatalf("expected propagated error, got %v", err)
	}
}
