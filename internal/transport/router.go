package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Logger        *zap.Logger
	Orchestrators Orchestrators

	HealthHandler  http.HandlerFunc
	ReadyHandler   http.HandlerFunc
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the middleware pipeline and all route
// registrations for the operational API.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Probe and scrape endpoints skip request logging.
	r.Get("/healthz", deps.HealthHandler)
	r.Get("/readyz", deps.ReadyHandler)
	r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(RequestLogging(logger))

		r.Get("/v1/workflows/{kind}/{workflowId}", handleGetWorkflow(deps.Orchestrators))
		r.Post("/v1/workflows/{kind}/{workflowId}/abort", handleAbortWorkflow(deps.Orchestrators))
		r.Post("/v1/workflows/validation/{workflowId}/retry", handleRetryStep(deps.Orchestrators))
	})

	return r
}
