package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/internal/config"
	"github.com/bucketworks/boardwalk/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Orchestrator *collab.Orchestrator
	Authenticate func(http.Handler) http.Handler
	Readiness    observability.ReadinessChecks
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware, applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes, no authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))

	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Method(http.MethodGet, metricsPath, observability.Handler())

	// Authenticated API.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	orch := deps.Orchestrator

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/projects", handleListProjects(orch))
		r.Post("/projects", handleCreateProject(orch))

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Patch("/", handleUpdateProject(orch))
			r.Get("/board", handleBoard(orch))
			r.Post("/backfill", handleTriggerBackfill(orch))
			r.Put("/view", handleSetViewState(orch))

			r.Get("/members", handleListMembers(orch))
			r.Post("/members", handleAddMember(orch))
			r.Delete("/members/{memberID}", handleRemoveMember(orch))

			r.Post("/actions", handleCreateAction(orch))
			r.Route("/actions/{actionID}", func(r chi.Router) {
				r.Get("/", handleActionDetail(orch))
				r.Patch("/", handleUpdateAction(orch))
				r.Post("/transition", handleTransition(orch))
				r.Post("/move", handleMove(orch))
				r.Post("/comments", handleAddComment(orch))
				r.Put("/draft", handleSaveDraft(orch))
				r.Delete("/draft", handleDiscardDraft(orch))
			})
		})
	})

	return r
}
