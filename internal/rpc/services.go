// Package rpc exposes the service surface (User, Credential, Command,
// Redeem, AI, EventPipeline, Plugin, Platform) as plain Go interfaces
// backed by thin adapters over the core subsystems. Generated protobuf
// service stubs are out of scope; these adapters are what a generated
// gRPC server's method bodies would call into, and what
// internal/httpapi's gin handlers call into directly. Grounded on
// api_control/internal/grpc/server.go's
// pattern of one small service struct per domain wrapping a repository
// or manager, each method a thin validate-then-delegate.
package rpc

import (
	"context"
	"fmt"
	"time"

	"chatbroker/internal/credential"
	"chatbroker/internal/eventbus"
	"chatbroker/internal/identity"
	"chatbroker/internal/models"
	"chatbroker/internal/pipeline"
	"chatbroker/internal/platform"
	"chatbroker/internal/repository/postgres"
)

// LogFlusher is the narrow surface UserService needs from
// internal/dblogger.Tail: a way to force the currently-buffered batch out
// before a merge reassigns or deletes the rows it might reference.
// Declared locally, following this package's import-cycle-avoidance
// convention, so rpc never imports dblogger directly.
type LogFlusher interface {
	FlushNow()
}

// UserService resolves and looks up canonical users, wrapping
// internal/identity.Resolver.
type UserService struct {
	identities *identity.Resolver
	logFlusher LogFlusher
}

// NewUserService constructs a UserService. logFlusher may be nil, in
// which case Merge skips the pre-merge flush (tests that don't run a
// DB logger tail).
func NewUserService(identities *identity.Resolver, logFlusher LogFlusher) *UserService {
	return &UserService{identities: identities, logFlusher: logFlusher}
}

// GetOrCreate resolves a platform identity to its canonical user,
// creating one on first sight.
func (s *UserService) GetOrCreate(ctx context.Context, plat models.Platform, platformUserID string, platformUsername *string) (models.User, error) {
	return s.identities.GetOrCreateUser(ctx, plat, platformUserID, platformUsername)
}

// GetIdentity returns the platform identity row for (platform, id), if any.
func (s *UserService) GetIdentity(ctx context.Context, plat models.Platform, platformUserID string) (*models.PlatformIdentity, error) {
	return s.identities.GetIdentity(ctx, plat, platformUserID)
}

// Merge folds fromUserID's identities and history into toUserID, forcing
// a drain of any buffered log batch first so it cannot still reference
// fromUserID once the merge deletes it.
func (s *UserService) Merge(ctx context.Context, fromUserID, toUserID string, rename *string) error {
	var flush func(context.Context) error
	if s.logFlusher != nil {
		flush = func(context.Context) error {
			s.logFlusher.FlushNow()
			return nil
		}
	}
	return s.identities.Merge(ctx, fromUserID, toUserID, rename, flush)
}

// CredentialService is the CRUD plus auth-flow surface over
// internal/credential.Store.
type CredentialService struct {
	credentials *credential.Store
	pending     *pendingAuthStore
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(credentials *credential.Store) *CredentialService {
	return &CredentialService{credentials: credentials, pending: newPendingAuthStore()}
}

// Store persists a new credential.
func (s *CredentialService) Store(ctx context.Context, c models.Credential, primary string, refresh *string) error {
	return s.credentials.Store(ctx, c, primary, refresh)
}

// Get returns the decrypted credential for (platform, userID, type).
func (s *CredentialService) Get(ctx context.Context, plat models.Platform, userID string, credType models.CredentialType) (*credential.PlainCredential, error) {
	return s.credentials.Get(ctx, plat, userID, credType)
}

// Update replaces a credential's secret material and/or expiry.
func (s *CredentialService) Update(ctx context.Context, c models.Credential, primary, refresh *string) error {
	return s.credentials.Update(ctx, c, primary, refresh)
}

// Delete removes a credential.
func (s *CredentialService) Delete(ctx context.Context, plat models.Platform, userID string, credType models.CredentialType) error {
	return s.credentials.Delete(ctx, plat, userID, credType)
}

// List returns every stored credential.
func (s *CredentialService) List(ctx context.Context) ([]models.Credential, error) {
	return s.credentials.List(ctx)
}

// BeginAuth starts an out-of-band OAuth exchange: it hands back an
// opaque state token the caller embeds in a platform-specific
// authorization URL it constructs itself (platform OAuth client
// specifics are an external collaborator this package never talks to
// directly). CompleteAuth later correlates that state token to the
// token material an operator or gateway process obtained out-of-band.
// This is a deliberately honest simplification of a real OAuth client:
// chatbroker never talks to a platform's OAuth endpoints itself.
func (s *CredentialService) BeginAuth(plat models.Platform, userID string) (state string) {
	return s.pending.begin(plat, userID)
}

// CompleteAuth resolves state (from BeginAuth) against the primary/refresh
// token material the caller obtained out-of-band, and stores the result
// as a credential for the user BeginAuth was called with.
func (s *CredentialService) CompleteAuth(ctx context.Context, state, primary string, refresh *string, expiresAt *time.Time) error {
	pending, ok := s.pending.complete(state)
	if !ok {
		return fmt.Errorf("rpc: unknown or expired auth state")
	}
	c := models.Credential{
		UserID:   pending.userID,
		Platform: pending.platform,
		Type:     models.CredentialOAuth2,
		IsActive: true,
	}
	if expiresAt != nil {
		c.ExpiresAt = expiresAt
	}
	return s.credentials.Store(ctx, c, primary, refresh)
}

// AIService is the single-exchange AI responder surface, wrapping
// pipeline.AIResponder directly so the RPC facade and the ai_respond
// action share one implementation.
type AIService struct {
	responder pipeline.AIResponder
}

// NewAIService constructs an AIService.
func NewAIService(responder pipeline.AIResponder) *AIService {
	return &AIService{responder: responder}
}

// Respond generates a reply for prompt.
func (s *AIService) Respond(ctx context.Context, prompt string) (string, error) {
	return s.responder.Respond(ctx, prompt)
}

// PluginService wraps the plugin host's invocation surface.
type PluginService struct {
	invoker pipeline.PluginInvoker
}

// NewPluginService constructs a PluginService.
func NewPluginService(invoker pipeline.PluginInvoker) *PluginService {
	return &PluginService{invoker: invoker}
}

// Invoke calls method on the named remote plugin.
func (s *PluginService) Invoke(ctx context.Context, pluginName, method string, payload map[string]any) (map[string]any, error) {
	return s.invoker.Invoke(ctx, pluginName, method, payload)
}

// PlatformService wraps internal/platform.Manager's control surface.
type PlatformService struct {
	manager *platform.Manager
}

// NewPlatformService constructs a PlatformService.
func NewPlatformService(manager *platform.Manager) *PlatformService {
	return &PlatformService{manager: manager}
}

// Start brings up a platform runtime for (platform, account).
func (s *PlatformService) Start(plat models.Platform, account string) error {
	return s.manager.Start(plat, account)
}

// Stop tears down a platform runtime.
func (s *PlatformService) Stop(plat models.Platform, account string) error {
	return s.manager.Stop(plat, account)
}

// Status returns a runtime's current connection state.
func (s *PlatformService) Status(plat models.Platform, account string) (platform.State, error) {
	return s.manager.Status(plat, account)
}

// SendMessage sends text to channel over (platform, account).
func (s *PlatformService) SendMessage(ctx context.Context, plat models.Platform, account, channel, text string) error {
	return s.manager.SendMessage(ctx, plat, account, channel, text)
}

// ListActive returns every currently supervised runtime.
func (s *PlatformService) ListActive() []platform.ActiveRuntime {
	return s.manager.ListActive()
}

// PipelineStore is the subset of internal/repository/postgres.Store the
// EventPipeline/Command/Redeem facades need beyond pipeline.Repository.
// Declared locally so tests can substitute a fake store.
type PipelineStore interface {
	pipeline.Repository
	ListAllPipelines(ctx context.Context) ([]models.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (*models.Pipeline, error)
	CreatePipeline(ctx context.Context, p models.Pipeline) (*models.Pipeline, error)
	SetPipelineEnabled(ctx context.Context, id string, enabled bool) error
	DeletePipeline(ctx context.Context, id string) error
	CreateFilter(ctx context.Context, f models.PipelineFilter) (*models.PipelineFilter, error)
	CreateAction(ctx context.Context, a models.PipelineAction) (*models.PipelineAction, error)
	ListExecutionsPage(ctx context.Context, pipelineID, after string, limit int) ([]models.ExecutionLog, string, error)
}

var _ PipelineStore = (*postgres.Store)(nil)

// PipelineReloader is the engine surface EventPipelineService needs to
// pick up newly-created/edited pipelines without a process restart.
type PipelineReloader interface {
	Reload(ctx context.Context) error
}

// EventPipelineService is the CRUD plus reload surface over pipeline
// definitions.
type EventPipelineService struct {
	store  PipelineStore
	engine PipelineReloader
}

// NewEventPipelineService constructs an EventPipelineService.
func NewEventPipelineService(store PipelineStore, engine PipelineReloader) *EventPipelineService {
	return &EventPipelineService{store: store, engine: engine}
}

// List returns every pipeline, enabled or not.
func (s *EventPipelineService) List(ctx context.Context) ([]models.Pipeline, error) {
	return s.store.ListAllPipelines(ctx)
}

// Get returns one pipeline by id.
func (s *EventPipelineService) Get(ctx context.Context, id string) (*models.Pipeline, error) {
	return s.store.GetPipeline(ctx, id)
}

// Create persists a new pipeline definition and reloads the engine so it
// takes effect immediately.
func (s *EventPipelineService) Create(ctx context.Context, p models.Pipeline) (*models.Pipeline, error) {
	created, err := s.store.CreatePipeline(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Reload(ctx); err != nil {
		return created, fmt.Errorf("rpc: pipeline created but reload failed: %w", err)
	}
	return created, nil
}

// SetEnabled flips a pipeline's enabled flag and reloads the engine.
func (s *EventPipelineService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := s.store.SetPipelineEnabled(ctx, id, enabled); err != nil {
		return err
	}
	return s.engine.Reload(ctx)
}

// Delete removes a pipeline and reloads the engine.
func (s *EventPipelineService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeletePipeline(ctx, id); err != nil {
		return err
	}
	return s.engine.Reload(ctx)
}

// AddFilter appends a filter to a pipeline and reloads the engine.
func (s *EventPipelineService) AddFilter(ctx context.Context, f models.PipelineFilter) (*models.PipelineFilter, error) {
	created, err := s.store.CreateFilter(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Reload(ctx); err != nil {
		return created, fmt.Errorf("rpc: filter created but reload failed: %w", err)
	}
	return created, nil
}

// AddAction appends an action to a pipeline and reloads the engine.
func (s *EventPipelineService) AddAction(ctx context.Context, a models.PipelineAction) (*models.PipelineAction, error) {
	created, err := s.store.CreateAction(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Reload(ctx); err != nil {
		return created, fmt.Errorf("rpc: action created but reload failed: %w", err)
	}
	return created, nil
}

// Reload forces the engine to reload every enabled pipeline, for the
// operator-triggered manual reload surface.
func (s *EventPipelineService) Reload(ctx context.Context) error {
	return s.engine.Reload(ctx)
}

// ExecutionHistory returns one cursor page of a pipeline's execution log.
func (s *EventPipelineService) ExecutionHistory(ctx context.Context, pipelineID, after string, limit int) ([]models.ExecutionLog, string, error) {
	return s.store.ListExecutionsPage(ctx, pipelineID, after, limit)
}

// PipelineExecutor is the engine surface Command/Redeem execution needs:
// run one named, already-loaded pipeline synchronously and return its
// execution log. Satisfied by *pipeline.Engine.
type PipelineExecutor interface {
	ExecutePipeline(ctx context.Context, name string, event eventbus.Event) (models.ExecutionLog, error)
}

// CommandService executes and tests ad hoc commands. A command is not a
// distinct engine concept: it is a pipeline whose name the caller
// already knows, triggered directly instead of waiting for a bus event
// to match it.
// Execute and Test both run that pipeline and return its execution log.
type CommandService struct {
	store  PipelineStore
	engine PipelineExecutor
}

// NewCommandService constructs a CommandService.
func NewCommandService(store PipelineStore, engine PipelineExecutor) *CommandService {
	return &CommandService{store: store, engine: engine}
}

// Execute runs the command pipeline named name against a synthetic
// platform-subscription event (with an empty platform) carrying args, and
// returns its execution log.
func (s *CommandService) Execute(ctx context.Context, name string, args map[string]any) (models.ExecutionLog, error) {
	event := eventbus.NewPlatformSubscription("", args)
	return s.engine.ExecutePipeline(ctx, name, event)
}

// Test runs the same pipeline Execute would, with the same effects (its
// actions execute for real), for operators trying a pipeline before
// wiring it to a real trigger.
func (s *CommandService) Test(ctx context.Context, name string, args map[string]any) (models.ExecutionLog, error) {
	return s.Execute(ctx, name, args)
}

// List returns every command-eligible pipeline (every pipeline; commands
// and ordinary event-triggered pipelines share one namespace and one
// engine per the Non-goals).
func (s *CommandService) List(ctx context.Context) ([]models.Pipeline, error) {
	return s.store.ListAllPipelines(ctx)
}

// RedeemService executes channel-point-style redeems. Modeled identically
// to CommandService: a redeem is a pipeline, triggered directly rather
// than matched off a platform subscription event, per the same
// one-engine design note.
type RedeemService struct {
	store  PipelineStore
	engine PipelineExecutor
}

// NewRedeemService constructs a RedeemService.
func NewRedeemService(store PipelineStore, engine PipelineExecutor) *RedeemService {
	return &RedeemService{store: store, engine: engine}
}

// Execute runs the redeem pipeline named name against a platform
// subscription event carrying payload (the redemption's metadata:
// redeeming user, reward cost, user input, etc).
func (s *RedeemService) Execute(ctx context.Context, plat models.Platform, name string, payload map[string]any) (models.ExecutionLog, error) {
	event := eventbus.NewPlatformSubscription(plat, payload)
	return s.engine.ExecutePipeline(ctx, name, event)
}

// Sync returns the current redeem-eligible pipeline set. Platforms whose
// channel-point rewards are configured remotely (e.g. Twitch's reward
// catalog) would normally be reconciled against that remote catalog here;
// since the remote reward-management API is an external collaborator
// this repo does not implement, Sync reports chatbroker's own view of
// record rather than calling out to one.
func (s *RedeemService) Sync(ctx context.Context) ([]models.Pipeline, error) {
	return s.store.ListAllPipelines(ctx)
}
