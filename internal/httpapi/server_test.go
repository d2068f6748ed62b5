package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"chatbroker/internal/logging"
	"chatbroker/internal/models"
	"chatbroker/internal/rpc"
	"chatbroker/internal/rpcauth"
)

type stubPipelineStore struct{ pipelines []models.Pipeline }

func (s *stubPipelineStore) ListEnabledPipelines(ctx context.Context) ([]models.Pipeline, error) {
	return nil, nil
}
func (s *stubPipelineStore) ListFilters(ctx context.Context, pipelineID string) ([]models.PipelineFilter, error) {
	return nil, nil
}
func (s *stubPipelineStore) ListActions(ctx context.Context, pipelineID string) ([]models.PipelineAction, error) {
	return nil, nil
}
func (s *stubPipelineStore) RecordExecution(ctx context.Context, log models.ExecutionLog) error {
	return nil
}
func (s *stubPipelineStore) IncrementExecutionCount(ctx context.Context, pipelineID string) error {
	return nil
}
func (s *stubPipelineStore) ListAllPipelines(ctx context.Context) ([]models.Pipeline, error) {
	return s.pipelines, nil
}
func (s *stubPipelineStore) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	return nil, nil
}
func (s *stubPipelineStore) CreatePipeline(ctx context.Context, p models.Pipeline) (*models.Pipeline, error) {
	return &p, nil
}
func (s *stubPipelineStore) SetPipelineEnabled(ctx context.Context, id string, enabled bool) error {
	return nil
}
func (s *stubPipelineStore) DeletePipeline(ctx context.Context, id string) error { return nil }
func (s *stubPipelineStore) CreateFilter(ctx context.Context, f models.PipelineFilter) (*models.PipelineFilter, error) {
	return &f, nil
}
func (s *stubPipelineStore) CreateAction(ctx context.Context, a models.PipelineAction) (*models.PipelineAction, error) {
	return &a, nil
}
func (s *stubPipelineStore) ListExecutionsPage(ctx context.Context, pipelineID, after string, limit int) ([]models.ExecutionLog, string, error) {
	return nil, "", nil
}

type stubReloader struct{}

func (stubReloader) Reload(ctx context.Context) error { return nil }

func newTestRouter() (*httptest.Server, *rpcauth.Issuer) {
	gin.SetMode(gin.TestMode)
	store := &stubPipelineStore{pipelines: []models.Pipeline{{ID: "p1", Name: "hello"}}}
	pipelines := rpc.NewEventPipelineService(store, stubReloader{})
	issuer := rpcauth.NewIssuer([]byte("test-secret"))

	router := NewRouter(Deps{
		Pipelines: pipelines,
		Issuer:    issuer,
	}, logging.New())
	return httptest.NewServer(router), issuer
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	srv, _ := newTestRouter()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestPipelinesRequiresAuth(t *testing.T) {
	srv, _ := newTestRouter()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/pipelines")
	if err != nil {
		t.Fatalf("GET /pipelines: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestPipelinesListWithValidToken(t *testing.T) {
	srv, issuer := newTestRouter()
	defer srv.Close()

	token, err := issuer.Issue("operator-1", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/pipelines", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
