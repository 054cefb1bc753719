// internal/service/campaign_service.go
package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/queue"
	"github.com/unclebandit/outreach-funnel/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ProspectRepo repository.ProspectRepositoryInterface
	SendRepo     repository.SendQueueRepositoryInterface
	Queue        queue.Queue
	Log          *zap.Logger
}

// SendJob is the campaign_sends message body.
type SendJob struct {
	SendRecordID string `json:"send_record_id"`
}

// EnqueueRequest asks for one send per prospect at the given funnel step.
type EnqueueRequest struct {
	ProspectIDs []string           `json:"prospect_ids"`
	Step        model.FunnelStatus `json:"step"`
	Content     string             `json:"content"`
}

// Result struct for QueueSends
type SendCampaignResult struct {
	CampaignID     string   `json:"campaign_id"`
	MessagesQueued int      `json:"messages_queued"`
	Created        int      `json:"created"`
	RecordIDs      []string `json:"record_ids"`
	Skipped        []string `json:"skipped"`
}

type CampaignDetails struct {
	*model.Campaign
	FunnelStats map[string]int `json:"funnel_stats"`
	QueueStats  map[string]int `json:"queue_stats"`
}

func (s *CampaignService) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, campaignType, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, campaignType, status)
	if err != nil {
		return nil, nil, appErrors.ExternalService(err, "list campaigns")
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID string) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	funnel, err := s.ProspectRepo.FunnelStats(ctx, campaignID)
	if err != nil {
		return nil, appErrors.ExternalService(err, "funnel stats")
	}
	total := 0
	for _, n := range funnel {
		total += n
	}
	funnel["total"] = total

	sends, err := s.SendRepo.StatusCounts(ctx, campaignID)
	if err != nil {
		return nil, appErrors.ExternalService(err, "send queue stats")
	}

	return &CampaignDetails{Campaign: campaign, FunnelStats: funnel, QueueStats: sends}, nil
}

// QueueSends creates one pending send per prospect for the step and
// publishes it for the worker. Existing pending sends are reused.
func (s *CampaignService) QueueSends(ctx context.Context, campaignID string, req EnqueueRequest) (*SendCampaignResult, error) {
	if len(req.ProspectIDs) == 0 {
		return nil, appErrors.Validation("prospect_ids is required")
	}
	step, ok := model.ParseFunnelStatus(string(req.Step))
	if !ok || !step.IsMessageSent() {
		return nil, appErrors.Validation("step must be a message-sending funnel status").
			WithDetails(map[string]any{"step": req.Step})
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, appErrors.Validation("content cannot be empty")
	}

	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignActive {
		return nil, appErrors.Conflict("campaign is not active").
			WithDetails(map[string]any{"campaign_id": campaignID, "status": campaign.Status})
	}

	result := &SendCampaignResult{
		CampaignID: campaignID,
		RecordIDs:  []string{},
		Skipped:    []string{},
	}

	for _, prospectID := range req.ProspectIDs {
		prospect, err := s.ProspectRepo.Get(ctx, prospectID, campaignID)
		if err != nil {
			s.log().Warn("skipping prospect", zap.String("prospect_id", prospectID), zap.Error(err))
			result.Skipped = append(result.Skipped, prospectID)
			continue
		}
		if prospect.Status.IsTerminal() {
			result.Skipped = append(result.Skipped, prospectID)
			continue
		}

		rec := &model.SendQueueRecord{
			ProspectID: prospect.ID,
			CampaignID: campaignID,
			Step:       step,
			Content:    RenderTemplate(req.Content, ProspectPlaceholders(prospect)),
		}
		created, err := s.SendRepo.Enqueue(ctx, rec)
		if err != nil {
			s.log().Warn("failed to create send record", zap.String("prospect_id", prospectID), zap.Error(err))
			result.Skipped = append(result.Skipped, prospectID)
			continue
		}
		if created {
			result.Created++
		}

		// Existing records are published again so one whose earlier publish
		// was lost still reaches a worker. The worker's claim drops repeats.
		if s.Queue != nil {
			if err := s.Queue.Publish(ctx, queue.TopicCampaignSends, SendJob{SendRecordID: rec.ID}); err != nil {
				s.log().Warn("failed to publish send", zap.String("send_record_id", rec.ID), zap.Error(err))
				continue
			}
		}

		result.RecordIDs = append(result.RecordIDs, rec.ID)
		result.MessagesQueued++
	}

	return result, nil
}
