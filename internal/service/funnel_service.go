package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/metrics"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/queue"
	"github.com/unclebandit/outreach-funnel/internal/repository"
)

// maxWriteConflicts bounds how often one update re-reads a prospect after
// losing a version race.
const maxWriteConflicts = 8

// StatusUpdate is one event reported by the orchestration workflow.
type StatusUpdate struct {
	ProspectID     string
	CampaignID     string
	Status         string
	OccurredAt     *time.Time
	MessageID      string
	MessageContent string
	ErrorMessage   string
	Metadata       map[string]any
	// Override accepts a transition missing from the funnel table.
	Override bool
}

type TransitionResult struct {
	PreviousStatus model.FunnelStatus
	NewStatus      model.FunnelStatus
	Prospect       *model.Prospect
	// Replayed is set when the same message id was already recorded for
	// this status and nothing was written.
	Replayed bool
}

// FunnelEvent is published on the funnel_events topic after every applied
// transition.
type FunnelEvent struct {
	ProspectID     string             `json:"prospect_id"`
	CampaignID     string             `json:"campaign_id"`
	PreviousStatus model.FunnelStatus `json:"previous_status"`
	NewStatus      model.FunnelStatus `json:"new_status"`
	OccurredAt     time.Time          `json:"occurred_at"`
	MessageID      string             `json:"message_id,omitempty"`
	Override       bool               `json:"override,omitempty"`
}

type FunnelService struct {
	Prospects repository.ProspectRepositoryInterface
	Queue     queue.Queue
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Now       func() time.Time
}

func NewFunnelService(prospects repository.ProspectRepositoryInterface, q queue.Queue, m *metrics.Metrics, log *zap.Logger) *FunnelService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FunnelService{Prospects: prospects, Queue: q, Metrics: m, Log: log, Now: time.Now}
}

func (s *FunnelService) now() time.Time {
	if s.Now == nil {
		return model.Timestamp(time.Now())
	}
	return model.Timestamp(s.Now())
}

// ApplyStatusUpdate validates and persists one prospect transition.
func (s *FunnelService) ApplyStatusUpdate(ctx context.Context, upd StatusUpdate) (*TransitionResult, error) {
	if strings.TrimSpace(upd.ProspectID) == "" || strings.TrimSpace(upd.CampaignID) == "" {
		return nil, appErrors.Validation("prospect_id and campaign_id are required")
	}
	status, ok := model.ParseFunnelStatus(upd.Status)
	if !ok {
		s.observe(model.FunnelStatus("invalid"), "rejected")
		return nil, appErrors.Validation("invalid status").
			WithDetails(map[string]any{"status": upd.Status, "allowed": model.FunnelStatuses})
	}

	for attempt := 0; attempt < maxWriteConflicts; attempt++ {
		p, err := s.Prospects.Get(ctx, upd.ProspectID, upd.CampaignID)
		if err != nil {
			if appErrors.Is(err, appErrors.KindNotFound) {
				return nil, err
			}
			return nil, appErrors.ExternalService(err, "load prospect")
		}
		previous := p.Status

		if p.FunnelTracking.HasMessage(status, upd.MessageID) {
			s.observe(status, "replayed")
			return &TransitionResult{PreviousStatus: previous, NewStatus: status, Prospect: p, Replayed: true}, nil
		}

		inTable := model.CanTransition(previous, status)
		if !inTable && !upd.Override {
			s.observe(status, "rejected")
			return nil, appErrors.Conflict("transition not allowed").WithDetails(map[string]any{
				"prospect_id":     p.ID,
				"previous_status": previous,
				"new_status":      status,
			})
		}

		now := s.now()
		applyTransition(p, status, upd, !inTable, now)

		err = s.Prospects.SaveTransition(ctx, p)
		if errors.Is(err, repository.ErrStaleProspect) {
			s.Log.Debug("prospect changed underneath update, retrying",
				zap.String("prospect_id", p.ID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, appErrors.ExternalService(err, "persist prospect transition")
		}

		s.observe(status, "applied")
		s.Log.Info("prospect transition applied",
			zap.String("prospect_id", p.ID),
			zap.String("campaign_id", p.CampaignID),
			zap.String("previous_status", string(previous)),
			zap.String("new_status", string(status)),
			zap.Bool("override", !inTable),
		)
		s.publish(ctx, FunnelEvent{
			ProspectID:     p.ID,
			CampaignID:     p.CampaignID,
			PreviousStatus: previous,
			NewStatus:      status,
			OccurredAt:     p.UpdatedAt,
			MessageID:      upd.MessageID,
			Override:       !inTable,
		})
		return &TransitionResult{PreviousStatus: previous, NewStatus: status, Prospect: p}, nil
	}

	return nil, appErrors.New(appErrors.KindExternalService, "prospect is being updated concurrently").
		WithDetails(map[string]any{"prospect_id": upd.ProspectID, "attempts": maxWriteConflicts})
}

// applyTransition derives timestamps and appends the audit entry in place.
func applyTransition(p *model.Prospect, status model.FunnelStatus, upd StatusUpdate, override bool, now time.Time) {
	occurred := now
	if upd.OccurredAt != nil && !upd.OccurredAt.IsZero() {
		occurred = model.Timestamp(*upd.OccurredAt)
	}

	if status.IsMessageSent() {
		t := occurred
		p.LastMessageSentAt = &t
	}
	// First touch keeps the first value. Any contacted stage reached with
	// contacted_at unset also sets it so overrides cannot corrupt the row.
	if status.IsContacted() && p.ContactedAt == nil {
		t := occurred
		p.ContactedAt = &t
	}
	switch status {
	case model.StatusReplied:
		if p.RepliedAt == nil {
			t := occurred
			p.RepliedAt = &t
		}
	case model.StatusFailed:
		p.ErrorMessage = upd.ErrorMessage
	}

	var metadata map[string]any
	if len(upd.Metadata) > 0 || override {
		metadata = make(map[string]any, len(upd.Metadata)+1)
		for k, v := range upd.Metadata {
			metadata[k] = v
		}
		if override {
			metadata["override"] = true
		}
	}

	if p.FunnelTracking == nil {
		p.FunnelTracking = model.FunnelTracking{}
	}
	p.FunnelTracking[status] = append(p.FunnelTracking[status], model.TrackingEntry{
		OccurredAt:     occurred,
		MessageID:      upd.MessageID,
		MessageContent: upd.MessageContent,
		Metadata:       metadata,
	})
	p.Status = status
	p.UpdatedAt = now
}

func (s *FunnelService) observe(status model.FunnelStatus, result string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Transitions.WithLabelValues(string(status), result).Inc()
}

func (s *FunnelService) publish(ctx context.Context, ev FunnelEvent) {
	if s.Queue == nil {
		return
	}
	if err := s.Queue.Publish(ctx, queue.TopicFunnelEvents, ev); err != nil {
		s.Log.Warn("failed to publish funnel event",
			zap.String("prospect_id", ev.ProspectID),
			zap.Error(err),
		)
	}
}
