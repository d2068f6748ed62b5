package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatbroker/internal/credential"
	"chatbroker/internal/dbretry"
	"chatbroker/internal/eventbus"
	"chatbroker/internal/logging"
	"chatbroker/internal/metrics"
	"chatbroker/internal/models"
)

const defaultRefreshWindow = 10 * time.Minute

// Refresher performs an OAuth refresh for a platform's credential. Manager
// calls it when a credential's expiry falls inside the refresh window.
// Refresh itself is platform-specific, so Manager only orchestrates the
// call.
type Refresher func(ctx context.Context, c credential.PlainCredential) (newPrimary string, newExpiresAt *time.Time, err error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Bus           *eventbus.Bus
	Credentials   *credential.Store
	Logger        logging.Logger
	Metrics       *metrics.Metrics
	RefreshWindow time.Duration // default 10 minutes
	ConnectRetry  dbretry.Policy
	Refresher     Refresher // optional
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.RefreshWindow == 0 {
		c.RefreshWindow = defaultRefreshWindow
	}
	return c
}

// Manager owns one runtime per (platform, account), grounded on
// pkg/clients/foghorn/pool.go's RWMutex-guarded map of lazily created
// handles plus background state supervision.
type Manager struct {
	mu        sync.RWMutex
	handles   map[string]*handle
	factories map[models.Platform]Factory
	credType  map[models.Platform]models.CredentialType
	cfg       ManagerConfig
}

type handle struct {
	platform models.Platform
	account  string
	runtime  Runtime

	mu    sync.RWMutex
	state State

	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (h *handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *handle) getState() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// NewManager constructs a Manager. Call RegisterFactory for each supported
// platform before calling Start.
func NewManager(cfg ManagerConfig) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		handles:   make(map[string]*handle),
		factories: make(map[models.Platform]Factory),
		credType:  make(map[models.Platform]models.CredentialType),
		cfg:       cfg,
	}
}

// RegisterFactory associates a Runtime factory and the credential type it
// authenticates with for platform.
func (m *Manager) RegisterFactory(platform models.Platform, credType models.CredentialType, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[platform] = f
	m.credType[platform] = credType
}

func handleKey(platform models.Platform, account string) string {
	return string(platform) + ":" + account
}

// Start is non-blocking: it spawns the connection loop and returns
// immediately.
func (m *Manager) Start(platform models.Platform, account string) error {
	m.mu.Lock()
	key := handleKey(platform, account)
	if _, exists := m.handles[key]; exists {
		m.mu.Unlock()
		return fmt.Errorf("platform: runtime %s already started", key)
	}
	factory, ok := m.factories[platform]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("platform: no runtime factory registered for %s", platform)
	}
	h := &handle{
		platform: platform,
		account:  account,
		runtime:  factory(platform, account),
		state:    StateDisconnected,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.handles[key] = h
	m.mu.Unlock()

	go m.connectionLoop(h)
	return nil
}

// Stop signals the runtime's connection loop to shut down, waits for it to
// perform a clean platform-side disconnect, and removes the handle.
func (m *Manager) Stop(platform models.Platform, account string) error {
	m.mu.RLock()
	h, ok := m.handles[handleKey(platform, account)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("platform: runtime %s:%s not running", platform, account)
	}

	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done

	m.mu.Lock()
	delete(m.handles, handleKey(platform, account))
	m.mu.Unlock()
	return nil
}

// Status returns the current state of a runtime.
func (m *Manager) Status(platform models.Platform, account string) (State, error) {
	m.mu.RLock()
	h, ok := m.handles[handleKey(platform, account)]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("platform: runtime %s:%s not running", platform, account)
	}
	return h.getState(), nil
}

// SendMessage sends text to channel on an active runtime.
func (m *Manager) SendMessage(ctx context.Context, platform models.Platform, account, channel, text string) error {
	m.mu.RLock()
	h, ok := m.handles[handleKey(platform, account)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("platform: runtime %s:%s not running", platform, account)
	}
	return h.runtime.Send(ctx, channel, text)
}

// JoinChannel subscribes an active runtime to an additional channel.
func (m *Manager) JoinChannel(ctx context.Context, platform models.Platform, account, channel string) error {
	m.mu.RLock()
	h, ok := m.handles[handleKey(platform, account)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("platform: runtime %s:%s not running", platform, account)
	}
	return h.runtime.JoinChannel(ctx, channel)
}

// ActiveRuntime describes one entry returned by ListActive.
type ActiveRuntime struct {
	Platform models.Platform
	Account  string
	State    State
}

// ListActive returns every currently supervised runtime and its state.
func (m *Manager) ListActive() []ActiveRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActiveRuntime, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, ActiveRuntime{Platform: h.platform, Account: h.account, State: h.getState()})
	}
	return out
}

// connectionLoop is the per-runtime supervision loop: select between the
// shutdown mailbox, the active connection's liveness, and the reconnect
// backoff sleep.
func (m *Manager) connectionLoop(h *handle) {
	defer close(h.done)
	backoff := NewBackoff()

	for {
		select {
		case <-h.shutdown:
			h.setState(StateDisconnected)
			return
		default:
		}

		h.setState(StateConnecting)
		cred, err := m.fetchCredential(context.Background(), h)
		if err != nil {
			m.logError(h, "fetch credential", err)
			h.setState(StateError)
			if m.sleepBackoff(h, backoff) {
				return
			}
			continue
		}

		var inbound <-chan InboundMessage
		connectErr := m.cfg.ConnectRetry.Execute(context.Background(), func(ctx context.Context) error {
			var err error
			inbound, err = h.runtime.Connect(ctx, *cred)
			return err
		})
		if connectErr != nil {
			m.logError(h, "connect", connectErr)
			h.setState(StateError)
			m.recordReconnect(h)
			if m.sleepBackoff(h, backoff) {
				return
			}
			continue
		}

		h.setState(StateConnected)
		backoff.Reset()
		m.setRuntimeStateMetric(h, true)
		m.cfg.Bus.Publish(eventbus.NewSystemMessage(fmt.Sprintf("%s runtime %s connected", h.platform, h.account)))

		shutdownRequested := m.readLoop(h, inbound)

		m.setRuntimeStateMetric(h, false)
		h.runtime.Disconnect(context.Background())
		if shutdownRequested {
			h.setState(StateDisconnected)
			return
		}

		h.setState(StateDisconnected)
		m.cfg.Bus.Publish(eventbus.NewSystemMessage(fmt.Sprintf("%s runtime %s disconnected", h.platform, h.account)))
		m.recordReconnect(h)
		if m.sleepBackoff(h, backoff) {
			return
		}
	}
}

// readLoop relays inbound chat messages to the event bus until the
// connection dies (inbound closes) or shutdown is requested. It returns
// true if shutdown was the reason it returned.
func (m *Manager) readLoop(h *handle, inbound <-chan InboundMessage) bool {
	for {
		select {
		case <-h.shutdown:
			return true
		case msg, ok := <-inbound:
			if !ok {
				return false
			}
			m.cfg.Bus.Publish(eventbus.NewChatMessage(eventbus.ChatMessage{
				Platform:  h.platform,
				Channel:   msg.Channel,
				User:      msg.User,
				Text:      msg.Text,
				Timestamp: msg.Timestamp,
			}))
		}
	}
}

// sleepBackoff sleeps the next backoff interval, returning true if
// shutdown was requested during the sleep (caller should stop the loop).
func (m *Manager) sleepBackoff(h *handle, backoff *Backoff) bool {
	d := backoff.Next()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RuntimeBackoffSeconds.WithLabelValues(string(h.platform), h.account).Observe(d.Seconds())
	}
	select {
	case <-time.After(d):
		return false
	case <-h.shutdown:
		return true
	}
}

func (m *Manager) recordReconnect(h *handle) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RuntimeReconnects.WithLabelValues(string(h.platform), h.account).Inc()
	}
}

func (m *Manager) setRuntimeStateMetric(h *handle, connected bool) {
	if m.cfg.Metrics == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	m.cfg.Metrics.RuntimeState.WithLabelValues(string(h.platform), h.account).Set(v)
}

func (m *Manager) logError(h *handle, op string, err error) {
	if m.cfg.Logger == nil {
		return
	}
	m.cfg.Logger.WithFields(logging.Fields{
		"platform": h.platform,
		"account":  h.account,
		"op":       op,
	}).WithError(err).Warn("platform runtime: attempt failed")
}

// fetchCredential loads the account's credential, refreshing it first if
// its expiry falls within the configured refresh window.
func (m *Manager) fetchCredential(ctx context.Context, h *handle) (*credential.PlainCredential, error) {
	m.mu.RLock()
	credType := m.credType[h.platform]
	m.mu.RUnlock()

	cred, err := m.cfg.Credentials.Get(ctx, h.platform, h.account, credType)
	if err != nil {
		return nil, fmt.Errorf("platform: load credential: %w", err)
	}

	if cred.ExpiresAt == nil || m.cfg.Refresher == nil {
		return cred, nil
	}
	if time.Until(*cred.ExpiresAt) > m.cfg.RefreshWindow {
		return cred, nil
	}

	newPrimary, newExpiresAt, err := m.cfg.Refresher(ctx, *cred)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.CredentialRefreshes.WithLabelValues(string(h.platform), outcome).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("platform: refresh credential: %w", err)
	}

	refreshed := cred.Credential
	refreshed.ExpiresAt = newExpiresAt
	if updErr := m.cfg.Credentials.Update(ctx, refreshed, &newPrimary, nil); updErr != nil {
		if m.cfg.Logger != nil {
			m.cfg.Logger.WithError(updErr).Warn("platform runtime: persisting refreshed credential failed")
		}
	}
	cred.Primary = newPrimary
	cred.ExpiresAt = newExpiresAt
	return cred, nil
}
