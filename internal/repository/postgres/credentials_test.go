package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"chatbroker/internal/credential"
	"chatbroker/internal/models"
)

func TestGetCredentialNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM credentials").
		WithArgs(models.PlatformTwitchChat, "acct1", models.CredentialOAuth2).
		WillReturnError(sql.ErrNoRows)

	store := New(db, nil)
	_, err = store.Get(context.Background(), models.PlatformTwitchChat, "acct1", models.CredentialOAuth2)
	if !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected credential.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCredentialScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "platform", "credential_type", "sealed_primary", "sealed_refresh",
		"expires_at", "is_bot", "is_broadcaster", "is_teammate", "is_active", "created_at", "updated_at",
	}).AddRow("cred-1", "acct1", models.PlatformDiscord, models.CredentialOAuth2, "sealed-token", nil,
		nil, true, false, false, true, now, now)

	mock.ExpectQuery("FROM credentials").
		WithArgs(models.PlatformDiscord, "acct1", models.CredentialOAuth2).
		WillReturnRows(rows)

	store := New(db, nil)
	c, err := store.Get(context.Background(), models.PlatformDiscord, "acct1", models.CredentialOAuth2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.ID != "cred-1" || c.SealedPrimary != "sealed-token" || !c.IsBot {
		t.Fatalf("unexpected credential: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListExpiringWithinBindsWindowBounds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	window := 10 * time.Minute
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "platform", "credential_type", "sealed_primary", "sealed_refresh",
		"expires_at", "is_bot", "is_broadcaster", "is_teammate", "is_active", "created_at", "updated_at",
	}).AddRow("cred-2", "acct2", models.PlatformTwitchChat, models.CredentialOAuth2, "sealed", nil,
		now.Add(5*time.Minute), false, false, false, true, now, now)

	mock.ExpectQuery("FROM credentials").
		WithArgs(now, now.Add(window)).
		WillReturnRows(rows)

	store := New(db, nil)
	creds, err := store.ListExpiringWithin(context.Background(), window, now)
	if err != nil {
		t.Fatalf("ListExpiringWithin: %v", err)
	}
	if len(creds) != 1 || creds[0].ID != "cred-2" {
		t.Fatalf("unexpected result: %+v", creds)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteCredentialNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM credentials").
		WithArgs(models.PlatformVRChat, "acct3", models.CredentialAPIKey).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := New(db, nil)
	err = store.Delete(context.Background(), models.PlatformVRChat, "acct3", models.CredentialAPIKey)
	if !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected credential.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
