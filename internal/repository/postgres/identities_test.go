package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"chatbroker/internal/identity"
	"chatbroker/internal/models"
)

func TestFindIdentityByPlatformIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM platform_identities").
		WithArgs(models.PlatformTwitchChat, "123").
		WillReturnError(sql.ErrNoRows)

	store := New(db, nil)
	_, err = store.FindIdentityByPlatformID(context.Background(), models.PlatformTwitchChat, "123")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected identity.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindIdentityByPlatformIDScansRolesAndData(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "platform", "platform_user_id", "platform_username",
		"display_name", "roles", "data", "created_at", "updated_at",
	}).AddRow("ident-1", "user-1", models.PlatformDiscord, "999", "bob",
		nil, pq.StringArray{"mod", "vip"}, []byte(`{"level": 3}`), now, now)

	mock.ExpectQuery("FROM platform_identities").
		WithArgs(models.PlatformDiscord, "999").
		WillReturnRows(rows)

	store := New(db, nil)
	pi, err := store.FindIdentityByPlatformID(context.Background(), models.PlatformDiscord, "999")
	if err != nil {
		t.Fatalf("FindIdentityByPlatformID: %v", err)
	}
	if len(pi.Roles) != 2 || pi.Roles[0] != "mod" {
		t.Fatalf("unexpected roles: %v", pi.Roles)
	}
	if lvl, _ := pi.Data["level"].(float64); lvl != 3 {
		t.Fatalf("unexpected data: %v", pi.Data)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRebindIdentityNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE platform_identities").
		WithArgs("456", "ident-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := New(db, nil)
	err = store.RebindIdentity(context.Background(), "ident-missing", "456")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected identity.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM users").
		WithArgs("missing-user").
		WillReturnError(sql.ErrNoRows)

	store := New(db, nil)
	_, err = store.GetUser(context.Background(), "missing-user")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected identity.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
