package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medipay/internal/adapters/httpapi"
	"medipay/internal/auth"
	"medipay/internal/blob"
	"medipay/internal/config"
	"medipay/internal/core"
	"medipay/internal/statements"
)

// app is the fully wired service.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    core.PersistentStore
	svc      *core.Service
	exports  *statements.Worker
	auth     *auth.Authenticator
}

// openService connects the configured store and builds the core service with
// metrics, audit and logging attached.
func openService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(core.NewSlogAuditRecorder(logger)),
	)
	logger.Info("store_opened", "driver", cfg.Storage.Driver)
	return &app{cfg: cfg, logger: logger, registry: registry, store: store, svc: svc}, nil
}

// attachAPI adds the blob store, statement worker and authenticator used by the HTTP API.
func (a *app) attachAPI(ctx context.Context) error {
	objects, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	a.exports = statements.NewWorker(a.svc, objects,
		statements.WithLogger(a.logger),
		statements.WithAuditRecorder(core.NewSlogAuditRecorder(a.logger)),
		statements.WithQueueSize(a.cfg.Export.QueueSize),
		statements.WithRetention(a.cfg.Export.Retention),
	)
	tokens, err := auth.NewTokenIssuer(a.cfg.Auth.TokenSecret, a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	a.auth = auth.NewAuthenticator(a.svc, tokens)
	a.logger.Info("blob_opened", "driver", objects.Driver())
	return nil
}

func (a *app) handler() http.Handler {
	return httpapi.New(a.svc, a.auth,
		httpapi.WithExports(a.exports),
		httpapi.WithLogger(a.logger),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
	).Handler()
}

// close releases the store connection when the backend holds one.
func (a *app) close() {
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("store_close_failed", "error", err)
		}
	}
}
