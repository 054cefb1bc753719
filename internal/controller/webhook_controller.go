package controller

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/service"
)

// WebhookController receives status callbacks from the orchestration workflow.
type WebhookController struct {
	FunnelService *service.FunnelService
	Log           *zap.Logger
}

type prospectStatusBody struct {
	ProspectID     string         `json:"prospect_id"`
	CampaignID     string         `json:"campaign_id"`
	Status         string         `json:"status"`
	MessageID      string         `json:"message_id"`
	MessageContent string         `json:"message_content"`
	SentAt         *time.Time     `json:"sent_at"`
	ErrorMessage   string         `json:"error_message"`
	Metadata       map[string]any `json:"metadata"`
	Override       bool           `json:"override"`
}

type prospectSummary struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	PreviousStatus model.FunnelStatus `json:"previous_status"`
	NewStatus      model.FunnelStatus `json:"new_status"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func (c *WebhookController) ProspectStatus(w http.ResponseWriter, r *http.Request) {
	var body prospectStatusBody
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	res, err := c.FunnelService.ApplyStatusUpdate(r.Context(), service.StatusUpdate{
		ProspectID:     body.ProspectID,
		CampaignID:     body.CampaignID,
		Status:         body.Status,
		OccurredAt:     body.SentAt,
		MessageID:      body.MessageID,
		MessageContent: body.MessageContent,
		ErrorMessage:   body.ErrorMessage,
		Metadata:       body.Metadata,
		Override:       body.Override,
	})
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"prospect": prospectSummary{
			ID:             res.Prospect.ID,
			Name:           res.Prospect.Name(),
			PreviousStatus: res.PreviousStatus,
			NewStatus:      res.NewStatus,
			UpdatedAt:      res.Prospect.UpdatedAt,
		},
		"replayed": res.Replayed,
	})
}
