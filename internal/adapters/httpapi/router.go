package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	httpopenapi "medipay/internal/adapters/httpapi/openapi"
	"medipay/internal/auth"
	"medipay/internal/core"
	"medipay/internal/obs"
	"medipay/internal/statements"
)

// ExportScheduler is the statement export surface the API drives.
// *statements.Worker satisfies it.
type ExportScheduler interface {
	Enqueue(ctx context.Context, userID string, formats []statements.Format) (statements.Export, error)
	Get(userID, id string) (statements.Export, bool)
	OpenArtifact(ctx context.Context, userID, id string, f statements.Format) (statements.Artifact, io.ReadCloser, error)
	ArtifactURL(ctx context.Context, userID, id string, f statements.Format, expiry time.Duration) (string, error)
}

// API holds the collaborators behind the HTTP routes.
type API struct {
	svc     *core.Service
	auth    *auth.Authenticator
	exports ExportScheduler
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithExports enables the statement routes.
func WithExports(e ExportScheduler) Option {
	return func(a *API) { a.exports = e }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// New constructs the API.
func New(svc *core.Service, authn *auth.Authenticator, opts ...Option) *API {
	a := &API{svc: svc, auth: authn, logger: obs.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func openapiHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

// Handler registers the routes and returns them wrapped in middleware.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.healthHandler)
	mux.HandleFunc("GET /openapi.yaml", openapiHandler)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}

	mux.HandleFunc("POST /api/v1/auth/register", a.registerHandler)
	mux.HandleFunc("POST /api/v1/auth/login", a.loginHandler)
	mux.HandleFunc("GET /api/v1/me", a.requireUser(a.meHandler))

	mux.HandleFunc("GET /api/v1/prescriptions", a.requireUser(a.listPrescriptionsHandler))
	mux.HandleFunc("POST /api/v1/prescriptions", a.requireUser(a.addPrescriptionHandler))
	mux.HandleFunc("POST /api/v1/projections", a.requireUser(a.previewHandler))
	mux.HandleFunc("GET /api/v1/predictions/latest", a.requireUser(a.latestPredictionHandler))
	mux.HandleFunc("GET /api/v1/dashboard", a.requireUser(a.dashboardHandler))

	mux.HandleFunc("GET /api/v1/alerts", a.requireUser(a.listAlertsHandler))
	mux.HandleFunc("POST /api/v1/alerts/{id}/read", a.requireUser(a.markAlertReadHandler))

	mux.HandleFunc("GET /api/v1/payments", a.requireUser(a.listPaymentsHandler))
	mux.HandleFunc("POST /api/v1/payments", a.requireUser(a.makePaymentHandler))
	mux.HandleFunc("GET /api/v1/payments/summary", a.requireUser(a.paymentSummaryHandler))
	mux.HandleFunc("PUT /api/v1/payments/autopay", a.requireUser(a.autoPayHandler))

	if a.exports != nil {
		mux.HandleFunc("POST /api/v1/statements", a.requireUser(a.createStatementHandler))
		mux.HandleFunc("GET /api/v1/statements/{id}", a.requireUser(a.getStatementHandler))
		mux.HandleFunc("GET /api/v1/statements/{id}/artifacts/{format}", a.requireUser(a.artifactHandler))
	}
	return WithRequestID(WithLogging(a.logger, mux))
}
