// Package handler wires the HTTP surface: routes, middleware and the
// operational endpoints.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/controller"
	"github.com/unclebandit/outreach-funnel/internal/metrics"
)

type Controllers struct {
	Campaigns *controller.CampaignController
	Webhook   *controller.WebhookController
	Integrity *controller.IntegrityController
	Quota     *controller.QuotaController
	Cadence   *controller.CadenceController
}

type Options struct {
	Log          *zap.Logger
	Metrics      *metrics.Metrics
	WebhookToken string
}

func NewRouter(opts Options, c Controllers) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(AccessLog(log))
	r.Use(Recovery(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// Campaign routes
	r.Route("/campaigns", func(r chi.Router) {
		r.With(BearerAuth(opts.WebhookToken)).Post("/webhook/prospect-status", c.Webhook.ProspectStatus)
		r.Post("/activate", c.Campaigns.Activate)
		r.Get("/", c.Campaigns.ListCampaigns)
		r.Get("/{id}", c.Campaigns.GetCampaignDetails)
		r.Post("/{id}/deactivate", c.Campaigns.Deactivate)
		r.Post("/{id}/queue", c.Campaigns.QueueSends)
	})

	r.Get("/cadence", c.Cadence.Get)
	r.Get("/accounts/{id}/quota", c.Quota.Get)

	r.Route("/admin/data-integrity", func(r chi.Router) {
		r.Get("/", c.Integrity.Health)
		r.Post("/", c.Integrity.Repair)
	})

	return r
}
