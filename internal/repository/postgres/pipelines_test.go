package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestListEnabledPipelinesDecodesMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "enabled", "priority", "stop_on_match", "stop_on_error", "is_system",
		"tags", "metadata", "execution_count", "last_executed_at", "created_at", "updated_at",
	}).AddRow("p1", "greeter", true, 0, true, false, false,
		pq.StringArray{"fun"}, []byte(`{"owner": "ops"}`), int64(4), nil, now, now)

	mock.ExpectQuery("FROM event_pipelines WHERE enabled = true").WillReturnRows(rows)

	store := New(db, nil)
	pipelines, err := store.ListEnabledPipelines(context.Background())
	if err != nil {
		t.Fatalf("ListEnabledPipelines: %v", err)
	}
	if len(pipelines) != 1 || pipelines[0].Name != "greeter" {
		t.Fatalf("unexpected pipelines: %+v", pipelines)
	}
	if owner, _ := pipelines[0].Metadata["owner"].(string); owner != "ops" {
		t.Fatalf("unexpected metadata: %v", pipelines[0].Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIncrementExecutionCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE event_pipelines SET execution_count").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db, nil)
	if err := store.IncrementExecutionCount(context.Background(), "p1"); err != nil {
		t.Fatalf("IncrementExecutionCount: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListFiltersOrdersByFilterOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "pipeline_id", "filter_order", "filter_type", "filter_config", "is_negated", "is_required"}).
		AddRow("f1", "p1", 1, "platform_filter", []byte(`{}`), false, false).
		AddRow("f2", "p1", 2, "channel_filter", []byte(`{}`), false, false)

	mock.ExpectQuery("FROM pipeline_filters").WithArgs("p1").WillReturnRows(rows)

	store := New(db, nil)
	filters, err := store.ListFilters(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListFilters: %v", err)
	}
	if len(filters) != 2 || filters[0].FilterType != "platform_filter" {
		t.Fatalf("unexpected filters: %+v", filters)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
