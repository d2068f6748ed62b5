package rpc

import (
	"context"
	"errors"
	"testing"

	"chatbroker/internal/eventbus"
	"chatbroker/internal/models"
)

type fakePipelineStore struct {
	all        []models.Pipeline
	createdP   *models.Pipeline
	enabledID  string
	enabledVal bool
	deletedID  string
}

func (f *fakePipelineStore) ListEnabledPipelines(ctx context.Context) ([]models.Pipeline, error) {
	return nil, nil
}
func (f *fakePipelineStore) ListFilters(ctx context.Context, pipelineID string) ([]models.PipelineFilter, error) {
	return nil, nil
}
func (f *fakePipelineStore) ListActions(ctx context.Context, pipelineID string) ([]models.PipelineAction, error) {
	return nil, nil
}
func (f *fakePipelineStore) RecordExecution(ctx context.Context, log models.ExecutionLog) error {
	return nil
}
func (f *fakePipelineStore) IncrementExecutionCount(ctx context.Context, pipelineID string) error {
	return nil
}
func (f *fakePipelineStore) ListAllPipelines(ctx context.Context) ([]models.Pipeline, error) {
	return f.all, nil
}
func (f *fakePipelineStore) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	return nil, nil
}
func (f *fakePipelineStore) CreatePipeline(ctx context.Context, p models.Pipeline) (*models.Pipeline, error) {
	f.createdP = &p
	return &p, nil
}
func (f *fakePipelineStore) SetPipelineEnabled(ctx context.Context, id string, enabled bool) error {
	f.enabledID, f.enabledVal = id, enabled
	return nil
}
func (f *fakePipelineStore) DeletePipeline(ctx context.Context, id string) error {
	f.deletedID = id
	return nil
}
func (f *fakePipelineStore) CreateFilter(ctx context.Context, filter models.PipelineFilter) (*models.PipelineFilter, error) {
	return &filter, nil
}
func (f *fakePipelineStore) CreateAction(ctx context.Context, a models.PipelineAction) (*models.PipelineAction, error) {
	return &a, nil
}
func (f *fakePipelineStore) ListExecutionsPage(ctx context.Context, pipelineID, after string, limit int) ([]models.ExecutionLog, string, error) {
	return nil, "", nil
}

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	f.calls++
	return f.err
}

type fakeExecutor struct {
	gotName  string
	gotEvent eventbus.Event
	result   models.ExecutionLog
	err      error
}

func (f *fakeExecutor) ExecutePipeline(ctx context.Context, name string, event eventbus.Event) (models.ExecutionLog, error) {
	f.gotName, f.gotEvent = name, event
	return f.result, f.err
}

func TestCommandServiceExecuteRunsNamedPipeline(t *testing.T) {
	store := &fakePipelineStore{}
	exec := &fakeExecutor{result: models.ExecutionLog{Status: models.ExecutionSuccess}}
	svc := NewCommandService(store, exec)

	log, err := svc.Execute(context.Background(), "!hello", map[string]any{"arg": "world"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.gotName != "!hello" {
		t.Fatalf("expected pipeline name !hello, got %q", exec.gotName)
	}
	if log.Status != models.ExecutionSuccess {
		t.Fatalf("unexpected status: %v", log.Status)
	}
}

func TestCommandServicePropagatesNotFound(t *testing.T) {
	store := &fakePipelineStore{}
	exec := &fakeExecutor{err: errors.New("pipeline: not found: !missing")}
	svc := NewCommandService(store, exec)

	if _, err := svc.Execute(context.Background(), "!missing", nil); err == nil {
		t.Fatal("expected error for missing pipeline")
	}
}

func TestRedeemServiceExecuteCarriesPlatformPayload(t *testing.T) {
	store := &fakePipelineStore{}
	exec := &fakeExecutor{}
	svc := NewRedeemService(store, exec)

	_, err := svc.Execute(context.Background(), models.PlatformTwitchChat, "hydrate", map[string]any{"cost": 100})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.gotName != "hydrate" {
		t.Fatalf("unexpected pipeline name: %q", exec.gotName)
	}
	if exec.gotEvent.Kind != eventbus.KindPlatformSubscription {
		t.Fatalf("expected a platform subscription event, got %v", exec.gotEvent.Kind)
	}
	if exec.gotEvent.PlatformSubscription.Platform != models.PlatformTwitchChat {
		t.Fatalf("unexpected platform: %v", exec.gotEvent.PlatformSubscription.Platform)
	}
}

func TestEventPipelineServiceReloadsAfterMutation(t *testing.T) {
	store := &fakePipelineStore{}
	reloader := &fakeReloader{}
	svc := NewEventPipelineService(store, reloader)

	if _, err := svc.Create(context.Background(), models.Pipeline{Name: "p1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.SetEnabled(context.Background(), "p1", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if err := svc.Delete(context.Background(), "p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if reloader.calls != 3 {
		t.Fatalf("expected 3 reloads, got %d", reloader.calls)
	}
	if store.enabledID != "p1" || store.enabledVal != false {
		t.Fatalf("unexpected SetPipelineEnabled args: %s %v", store.enabledID, store.enabledVal)
	}
	if store.deletedID != "p1" {
		t.Fatalf("unexpected DeletePipeline arg: %s", store.deletedID)
	}
}

func TestEventPipelineServiceCreateSurfacesReloadFailure(t *testing.T) {
	store := &fakePipelineStore{}
	reloader := &fakeReloader{err: errors.New("reload boom")}
	svc := NewEventPipelineService(store, reloader)

	_, err := svc.Create(context.Background(), models.Pipeline{Name: "p1"})
	if err == nil {
		t.Fatal("expected reload failure to surface")
	}
	if store.createdP == nil || store.createdP.Name != "p1" {
		t.Fatal("expected pipeline to still be created despite reload failure")
	}
}

type fakeAIResponder struct {
	gotPrompt string
	reply     string
	err       error
}

func (f *fakeAIResponder) Respond(ctx context.Context, prompt string) (string, error) {
	f.gotPrompt = prompt
	return f.reply, f.err
}

func TestAIServiceDelegatesToResponder(t *testing.T) {
	responder := &fakeAIResponder{reply: "hi"}
	svc := NewAIService(responder)
	got, err := svc.Respond(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "hi" || responder.gotPrompt != "hello" {
		t.Fatalf("unexpected delegation: got=%q prompt=%q", got, responder.gotPrompt)
	}
}

type fakePluginInvoker struct {
	gotPlugin, gotMethod string
	result               map[string]any
}

func (f *fakePluginInvoker) Invoke(ctx context.Context, plugin, method string, payload map[string]any) (map[string]any, error) {
	f.gotPlugin, f.gotMethod = plugin, method
	return f.result, nil
}

func TestPluginServiceDelegatesToInvoker(t *testing.T) {
	invoker := &fakePluginInvoker{result: map[string]any{"ok": true}}
	svc := NewPluginService(invoker)
	out, err := svc.Invoke(context.Background(), "myplugin", "do_thing", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if invoker.gotPlugin != "myplugin" || invoker.gotMethod != "do_thing" {
		t.Fatalf("unexpected delegation: %s %s", invoker.gotPlugin, invoker.gotMethod)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestCredentialServiceBeginCompleteAuthRoundTrip(t *testing.T) {
	svc := NewCredentialService(nil)
	state := svc.BeginAuth(models.PlatformDiscord, "user-1")
	if state == "" {
		t.Fatal("expected non-empty state token")
	}

	pending, ok := svc.pending.complete(state)
	if !ok {
		t.Fatal("expected pending auth to be found")
	}
	if pending.platform != models.PlatformDiscord || pending.userID != "user-1" {
		t.Fatalf("unexpected pending auth: %+v", pending)
	}

	// A state token is single-use.
	if _, ok := svc.pending.complete(state); ok {
		t.Fatal("expected state token to be consumed after first completion")
	}
}

func TestCredentialServiceCompleteAuthRejectsUnknownState(t *testing.T) {
	svc := NewCredentialService(nil)
	err := svc.CompleteAuth(context.Background(), "not-a-real-state", "token", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown state")
	}
}
