package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/promptsentry/promptsentry/internal/chread"
	"github.com/promptsentry/promptsentry/internal/detect"
	"github.com/promptsentry/promptsentry/internal/patterns"
	"github.com/promptsentry/promptsentry/internal/storage"
	"github.com/promptsentry/promptsentry/internal/store"
)

// ProjectStore is the Postgres surface the handlers need. *store.Store
// satisfies it; tests substitute a stub.
type ProjectStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*store.Project, error)
	CreateProject(ctx context.Context, name string) (*store.Project, string, error)
	ListProjects(ctx context.Context) ([]*store.Project, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	UpdateProject(ctx context.Context, id string, params store.UpdateProjectParams) (*store.Project, error)
	DeleteProject(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, id string) (*store.Project, string, error)
	ListCustomRules(ctx context.Context, projectID string) ([]*store.CustomRule, error)
	InsertCustomRule(ctx context.Context, projectID string, p patterns.Pattern) (*store.CustomRule, error)
	DeleteCustomRule(ctx context.Context, projectID, name string) error
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store    ProjectStore
	Detector *detect.Detector
	Writer   storage.EventWriter
	Reader   *chread.Reader // nil if ClickHouse unavailable
	Logger   *zap.Logger
	CacheTTL time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Detection endpoints (auth required via Bearer psk_ token)
	mux.HandleFunc("POST /v1/detect", deps.authMiddleware(deps.handleDetect))
	mux.HandleFunc("POST /v1/detect/batch", deps.authMiddleware(deps.handleBatchDetect))

	// Project CRUD (no auth — dashboard auth added later)
	mux.HandleFunc("POST /api/projects", deps.handleCreateProject)
	mux.HandleFunc("GET /api/projects", deps.handleListProjects)
	mux.HandleFunc("GET /api/projects/{project_id}", deps.handleGetProject)
	mux.HandleFunc("PATCH /api/projects/{project_id}", deps.handleUpdateProject)
	mux.HandleFunc("DELETE /api/projects/{project_id}", deps.handleDeleteProject)
	mux.HandleFunc("POST /api/projects/{project_id}/rotate-key", deps.handleRotateKey)

	// Custom rule CRUD (no auth)
	mux.HandleFunc("GET /api/projects/{project_id}/rules", deps.handleListRules)
	mux.HandleFunc("POST /api/projects/{project_id}/rules", deps.handleCreateRule)
	mux.HandleFunc("DELETE /api/projects/{project_id}/rules/{name}", deps.handleDeleteRule)

	// Events & Analytics (no auth)
	mux.HandleFunc("GET /api/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/events/{request_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
