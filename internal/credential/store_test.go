package credential

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatbroker/internal/cryptoseal"
	"chatbroker/internal/models"
)

// fakeRepository is an in-memory Repository, matching the shape of
// identity's fakeRepository.
type fakeRepository struct {
	mu   sync.Mutex
	rows map[string]models.Credential
}

func key(platform models.Platform, userID string, credType models.CredentialType) string {
	return string(platform) + ":" + userID + ":" + string(credType)
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{rows: make(map[string]models.Credential)}
}

func (f *fakeRepository) Insert(ctx context.Context, c models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(c.Platform, c.UserID, c.Type)
	if _, ok := f.rows[k]; ok {
		return ErrAlreadyExists
	}
	f.rows[k] = c
	return nil
}

func (f *fakeRepository) Get(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[key(platform, userID, credType)]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (f *fakeRepository) Update(ctx context.Context, c models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(c.Platform, c.UserID, c.Type)
	if _, ok := f.rows[k]; !ok {
		return ErrNotFound
	}
	f.rows[k] = c
	return nil
}

func (f *fakeRepository) Delete(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(platform, userID, credType)
	if _, ok := f.rows[k]; !ok {
		return ErrNotFound
	}
	delete(f.rows, k)
	return nil
}

func (f *fakeRepository) List(ctx context.Context) ([]models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Credential, 0, len(f.rows))
	for _, c := range f.rows {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepository) ListForPlatform(ctx context.Context, platform models.Platform) ([]models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Credential
	for _, c := range f.rows {
		if c.Platform == platform {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListExpiringWithin(ctx context.Context, window time.Duration, now time.Time) ([]models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Credential
	cutoff := now.Add(window)
	for _, c := range f.rows {
		if c.ExpiresAt == nil {
			continue
		}
		if !c.ExpiresAt.Before(now) && !c.ExpiresAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func testSealer(t *testing.T) *cryptoseal.Sealer {
	t.Helper()
	s, err := cryptoseal.New([]byte("0123456789abcdef0123456789abcdef"), "credential-test")
	if err != nil {
		t.Fatalf("cryptoseal.New: %v", err)
	}
	return s
}

func TestStoreRoundTripSealsSecrets(t *testing.T) {
	repo := newFakeRepository()
	store := New(repo, testSealer(t))
	ctx := context.Background()

	refresh := "refresh-token-value"
	c := models.Credential{
		ID:       "cred-1",
		UserID:   "user-1",
		Platform: models.PlatformTwitchChat,
		Type:     models.CredentialOAuth2,
		IsActive: true,
	}
	if err := store.Store(ctx, c, "access-token-value", &refresh); err != nil {
		t.Fatalf("Store: %v", err)
	}

	raw, err := repo.Get(ctx, models.PlatformTwitchChat, "user-1", models.CredentialOAuth2)
	if err != nil {
		t.Fatalf("raw Get: %v", err)
	}
	if raw.SealedPrimary == "access-token-value" {
		t.Fatalf("expected primary secret to be sealed at rest, got plaintext")
	}
	if !cryptoseal.IsSealed(raw.SealedPrimary) {
		t.Fatalf("expected sealed prefix on stored primary secret")
	}

	plain, err := store.Get(ctx, models.PlatformTwitchChat, "user-1", models.CredentialOAuth2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if plain.Primary != "access-token-value" {
		t.Fatalf("expected unsealed primary %q, got %q", "access-token-value", plain.Primary)
	}
	if plain.Refresh == nil || *plain.Refresh != refresh {
		t.Fatalf("expected unsealed refresh %q, got %v", refresh, plain.Refresh)
	}
}

func TestStoreUpdatePartialReseal(t *testing.T) {
	repo := newFakeRepository()
	store := New(repo, testSealer(t))
	ctx := context.Background()

	c := models.Credential{ID: "cred-1", UserID: "user-1", Platform: models.PlatformDiscord, Type: models.CredentialOAuth2}
	if err := store.Store(ctx, c, "original", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	newPrimary := "rotated"
	if err := store.Update(ctx, c, &newPrimary, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	plain, err := store.Get(ctx, models.PlatformDiscord, "user-1", models.CredentialOAuth2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if plain.Primary != "rotated" {
		t.Fatalf("expected rotated primary, got %q", plain.Primary)
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	repo := newFakeRepository()
	store := New(repo, testSealer(t))
	ctx := context.Background()

	c := models.Credential{ID: "cred-1", UserID: "user-1", Platform: models.PlatformDiscord, Type: models.CredentialAPIKey}
	if err := store.Store(ctx, c, "secret", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := store.Delete(ctx, models.PlatformDiscord, "user-1", models.CredentialAPIKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, models.PlatformDiscord, "user-1", models.CredentialAPIKey); err == nil {
		t.Fatalf("expected error after delete, got none")
	}
}

// TestExpiringWithinWindowReturnsOnlyMatchingCredentials verifies
// GetExpiringWithin returns exactly those credentials whose expires_at
// lies in [now, now+window].
func TestExpiringWithinWindowReturnsOnlyMatchingCredentials(t *testing.T) {
	repo := newFakeRepository()
	store := New(repo, testSealer(t))
	ctx := context.Background()
	now := time.Now()

	mk := func(id string, expiresAt *time.Time) models.Credential {
		return models.Credential{ID: id, UserID: id, Platform: models.PlatformTwitchChat, Type: models.CredentialOAuth2, ExpiresAt: expiresAt}
	}

	already := now.Add(-time.Minute)
	soon := now.Add(5 * time.Minute)
	boundary := now.Add(10 * time.Minute)
	late := now.Add(time.Hour)

	for _, c := range []models.Credential{
		mk("expired", &already),
		mk("soon", &soon),
		mk("boundary", &boundary),
		mk("late", &late),
		mk("never", nil),
	} {
		if err := store.Store(ctx, c, "secret", nil); err != nil {
			t.Fatalf("Store(%s): %v", c.ID, err)
		}
	}

	got, err := store.GetExpiringWithin(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("GetExpiringWithin: %v", err)
	}

	ids := make(map[string]bool)
	for _, c := range got {
		ids[c.ID] = true
	}
	if !ids["soon"] || !ids["boundary"] {
		t.Fatalf("expected soon and boundary credentials in expiring set, got %v", ids)
	}
	if ids["expired"] || ids["late"] || ids["never"] {
		t.Fatalf("expiring set should exclude already-expired, far-future, and non-expiring credentials, got %v", ids)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Fatalf("expected IsNotFound(ErrNotFound) to be true")
	}
}
