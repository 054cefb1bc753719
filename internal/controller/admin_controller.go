package controller

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/cadence"
	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/service"
)

// IntegrityController exposes the reconciler to operators.
type IntegrityController struct {
	Reconciler *service.Reconciler
	Log        *zap.Logger
}

// Health reports the current integrity state. Anomalies are part of the
// report, not an error response.
func (c *IntegrityController) Health(w http.ResponseWriter, r *http.Request) {
	report, err := c.Reconciler.ComputeHealth(r.Context())
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c *IntegrityController) Repair(w http.ResponseWriter, r *http.Request) {
	result, err := c.Reconciler.RepairCorrupted(r.Context())
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	nopIfNil(c.Log).Info("integrity repair requested",
		zap.Int("fixed_count", result.FixedCount),
		zap.Strings("campaign_ids", result.AffectedCampaignIDs),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

type QuotaController struct {
	QuotaGuard *service.QuotaGuard
	Log        *zap.Logger
}

func (c *QuotaController) Get(w http.ResponseWriter, r *http.Request) {
	d, err := c.QuotaGuard.CanSend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type CadenceController struct {
	Scheduler *cadence.Scheduler
	Now       func() time.Time
}

// Get samples a delay for ?label= and the send time it lands on.
func (c *CadenceController) Get(w http.ResponseWriter, r *http.Request) {
	label := strings.TrimSpace(r.URL.Query().Get("label"))
	if label == "" {
		WriteError(w, nil, appErrors.Validation("label is required"))
		return
	}
	now := time.Now().UTC()
	if c.Now != nil {
		now = c.Now()
	}
	next, days := c.Scheduler.NextSendAt(label, now)
	writeJSON(w, http.StatusOK, map[string]any{
		"label":        label,
		"known":        c.Scheduler.Known(label),
		"timing":       c.Scheduler.TimingFor(label),
		"delay_days":   days,
		"next_send_at": next,
	})
}
