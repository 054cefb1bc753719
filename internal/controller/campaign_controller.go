// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/service"
)

type CampaignController struct {
	CampaignService   *service.CampaignService
	ActivationService *service.ActivationService
	Log               *zap.Logger
}

type activateBody struct {
	CampaignID  string `json:"campaignId"`
	WorkspaceID string `json:"workspaceId"`
}

// Activate runs the activation saga for the caller named in X-User-ID.
func (c *CampaignController) Activate(w http.ResponseWriter, r *http.Request) {
	var body activateBody
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	campaign, err := c.ActivationService.Activate(r.Context(), service.ActivateRequest{
		CampaignID:  body.CampaignID,
		WorkspaceID: body.WorkspaceID,
		CallerID:    r.Header.Get(CallerHeader),
	})
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "campaign": campaign})
}

// Deactivate is the manual compensation: it writes an active campaign back
// to inactive.
func (c *CampaignController) Deactivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID string `json:"workspaceId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	campaign, err := c.ActivationService.Deactivate(r.Context(), service.ActivateRequest{
		CampaignID:  chi.URLParam(r, "id"),
		WorkspaceID: body.WorkspaceID,
		CallerID:    r.Header.Get(CallerHeader),
	})
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "campaign": campaign})
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	campaignType := r.URL.Query().Get("type")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, campaignType, status)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// QueueSends creates pending sends for the listed prospects and publishes
// them to the worker.
func (c *CampaignController) QueueSends(w http.ResponseWriter, r *http.Request) {
	var body service.EnqueueRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	result, err := c.CampaignService.QueueSends(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
