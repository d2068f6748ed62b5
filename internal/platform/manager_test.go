package platform

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatbroker/internal/credential"
	"chatbroker/internal/cryptoseal"
	"chatbroker/internal/dbretry"
	"chatbroker/internal/eventbus"
	"chatbroker/internal/models"
)

// fakeRuntime is a hand-written Runtime test double, in the style of the
// identity and credential packages' fakeRepository fakes.
type fakeRuntime struct {
	platform models.Platform

	mu          sync.Mutex
	failUntil   int32 // Connect fails for attempts < failUntil
	attempts    int32
	inbound     chan InboundMessage
	disconnects int32
	sent        []string
}

func newFakeRuntime(platform models.Platform, failUntil int32) *fakeRuntime {
	return &fakeRuntime{platform: platform, failUntil: failUntil}
}

func (f *fakeRuntime) Platform() models.Platform { return f.platform }

func (f *fakeRuntime) Connect(ctx context.Context, cred credential.PlainCredential) (<-chan InboundMessage, error) {
	attempt := atomic.AddInt32(&f.attempts, 1)
	if attempt <= f.failUntil {
		return nil, errors.New("fake: connect refused")
	}
	f.mu.Lock()
	f.inbound = make(chan InboundMessage, 8)
	ch := f.inbound
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeRuntime) Disconnect(ctx context.Context) error {
	atomic.AddInt32(&f.disconnects, 1)
	f.mu.Lock()
	if f.inbound != nil {
		close(f.inbound)
		f.inbound = nil
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) Send(ctx context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, channel+":"+text)
	return nil
}

func (f *fakeRuntime) JoinChannel(ctx context.Context, channel string) error { return nil }

func (f *fakeRuntime) push(msg InboundMessage) {
	f.mu.Lock()
	ch := f.inbound
	f.mu.Unlock()
	if ch != nil {
		ch <- msg
	}
}

// fakeCredRepo is an in-memory credential.Repository.
type fakeCredRepo struct {
	mu   sync.Mutex
	rows map[string]models.Credential
}

func newFakeCredRepo() *fakeCredRepo { return &fakeCredRepo{rows: make(map[string]models.Credential)} }

func (f *fakeCredRepo) key(p models.Platform, userID string, t models.CredentialType) string {
	return string(p) + ":" + userID + ":" + string(t)
}

func (f *fakeCredRepo) Insert(ctx context.Context, c models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[f.key(c.Platform, c.UserID, c.Type)] = c
	return nil
}
func (f *fakeCredRepo) Get(ctx context.Context, platform models.Platform, userID string, t models.CredentialType) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[f.key(platform, userID, t)]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return &c, nil
}
func (f *fakeCredRepo) Update(ctx context.Context, c models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[f.key(c.Platform, c.UserID, c.Type)] = c
	return nil
}
func (f *fakeCredRepo) Delete(ctx context.Context, platform models.Platform, userID string, t models.CredentialType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, f.key(platform, userID, t))
	return nil
}
func (f *fakeCredRepo) List(ctx context.Context) ([]models.Credential, error) { return nil, nil }
func (f *fakeCredRepo) ListForPlatform(ctx context.Context, platform models.Platform) ([]models.Credential, error) {
	return nil, nil
}
func (f *fakeCredRepo) ListExpiringWithin(ctx context.Context, window time.Duration, now time.Time) ([]models.Credential, error) {
	return nil, nil
}

func testCredStore(t *testing.T) (*credential.Store, *fakeCredRepo) {
	t.Helper()
	sealer, err := cryptoseal.New([]byte("0123456789abcdef0123456789abcdef"), "platform-test")
	if err != nil {
		t.Fatalf("cryptoseal.New: %v", err)
	}
	repo := newFakeCredRepo()
	return credential.New(repo, sealer), repo
}

func TestManagerConnectsFansOutAndStops(t *testing.T) {
	store, _ := testCredStore(t)
	ctx := context.Background()
	if err := store.Store(ctx, models.Credential{UserID: "acct1", Platform: models.PlatformTwitchChat, Type: models.CredentialOAuth2}, "token", nil); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	bus := eventbus.New(nil, nil)
	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	rt := newFakeRuntime(models.PlatformTwitchChat, 0)
	mgr := NewManager(ManagerConfig{Bus: bus, Credentials: store, ConnectRetry: dbretry.Policy{}})
	mgr.RegisterFactory(models.PlatformTwitchChat, models.CredentialOAuth2, func(p models.Platform, account string) Runtime {
		return rt
	})

	if err := mgr.Start(models.PlatformTwitchChat, "acct1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		st, err := mgr.Status(models.PlatformTwitchChat, "acct1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st == StateConnected {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("runtime never reached Connected, last state %v", st)
		case <-time.After(10 * time.Millisecond):
		}
	}

	rt.push(InboundMessage{Channel: "#a", User: "bob", Text: "hi", Timestamp: time.Now()})

	select {
	case ev := <-events:
		if ev.Kind != eventbus.KindSystemMessage && ev.Kind != eventbus.KindChatMessage {
			t.Fatalf("unexpected first event kind %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for connect system message")
	}

	var gotChat bool
	for i := 0; i < 4; i++ {
		select {
		case ev := <-events:
			if ev.Kind == eventbus.KindChatMessage && ev.ChatMessage.Text == "hi" {
				gotChat = true
			}
		case <-time.After(time.Second):
		}
		if gotChat {
			break
		}
	}
	if !gotChat {
		t.Fatalf("expected a ChatMessage event carrying the pushed inbound message")
	}

	if err := mgr.Stop(models.PlatformTwitchChat, "acct1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if atomic.LoadInt32(&rt.disconnects) == 0 {
		t.Fatalf("expected Disconnect to be called on stop")
	}
}

func TestManagerSendMessageDelegatesToRuntime(t *testing.T) {
	store, _ := testCredStore(t)
	ctx := context.Background()
	if err := store.Store(ctx, models.Credential{UserID: "acct1", Platform: models.PlatformDiscord, Type: models.CredentialOAuth2}, "token", nil); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	bus := eventbus.New(nil, nil)
	rt := newFakeRuntime(models.PlatformDiscord, 0)
	mgr := NewManager(ManagerConfig{Bus: bus, Credentials: store, ConnectRetry: dbretry.Policy{}})
	mgr.RegisterFactory(models.PlatformDiscord, models.CredentialOAuth2, func(p models.Platform, account string) Runtime { return rt })

	if err := mgr.Start(models.PlatformDiscord, "acct1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(models.PlatformDiscord, "acct1")

	deadline := time.After(2 * time.Second)
	for {
		if st, _ := mgr.Status(models.PlatformDiscord, "acct1"); st == StateConnected {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("runtime never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := mgr.SendMessage(context.Background(), models.PlatformDiscord, "acct1", "#general", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	rt.mu.Lock()
	sent := append([]string(nil), rt.sent...)
	rt.mu.Unlock()
	if len(sent) != 1 || sent[0] != "#general:hello" {
		t.Fatalf("expected runtime to record the sent message, got %v", sent)
	}
}

func TestListActiveReportsStartedRuntimes(t *testing.T) {
	store, _ := testCredStore(t)
	ctx := context.Background()
	store.Store(ctx, models.Credential{UserID: "acct1", Platform: models.PlatformTwitchChat, Type: models.CredentialOAuth2}, "t", nil)

	bus := eventbus.New(nil, nil)
	rt := newFakeRuntime(models.PlatformTwitchChat, 0)
	mgr := NewManager(ManagerConfig{Bus: bus, Credentials: store, ConnectRetry: dbretry.Policy{}})
	mgr.RegisterFactory(models.PlatformTwitchChat, models.CredentialOAuth2, func(p models.Platform, account string) Runtime { return rt })
	mgr.Start(models.PlatformTwitchChat, "acct1")
	defer mgr.Stop(models.PlatformTwitchChat, "acct1")

	time.Sleep(50 * time.Millisecond)
	active := mgr.ListActive()
	if len(active) != 1 || active[0].Account != "acct1" {
		t.Fatalf("expected one active runtime for acct1, got %v", active)
	}
}
