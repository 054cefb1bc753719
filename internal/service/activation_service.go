package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/execution"
	"github.com/unclebandit/outreach-funnel/internal/metrics"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/repository"
	"github.com/unclebandit/outreach-funnel/internal/retry"
)

const compensationTimeout = 10 * time.Second

// Executor starts a campaign on its execution channel.
type Executor interface {
	Execute(ctx context.Context, channel model.Channel, req execution.ExecuteRequest) error
}

// QuotaChecker is the advisory half of QuotaGuard.
type QuotaChecker interface {
	CanSend(ctx context.Context, accountID string) (Decision, error)
}

type ActivateRequest struct {
	CampaignID  string
	WorkspaceID string
	CallerID    string
}

// ActivationService runs campaign activation as a saga: commit active, call
// the execution channel, and roll back to inactive on any failure.
type ActivationService struct {
	Campaigns repository.CampaignRepositoryInterface
	Members   repository.WorkspaceRepositoryInterface
	Quota     QuotaChecker
	Executor  Executor
	Retry     retry.Options
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Now       func() time.Time
}

func (s *ActivationService) now() time.Time {
	if s.Now == nil {
		return model.Timestamp(time.Now())
	}
	return model.Timestamp(s.Now())
}

func (s *ActivationService) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// authorize loads the campaign and checks the caller may act on it.
func (s *ActivationService) authorize(ctx context.Context, req ActivateRequest) (*model.Campaign, error) {
	if strings.TrimSpace(req.CampaignID) == "" || strings.TrimSpace(req.WorkspaceID) == "" {
		return nil, appErrors.Validation("campaignId and workspaceId are required")
	}
	if strings.TrimSpace(req.CallerID) == "" {
		return nil, appErrors.New(appErrors.KindUnauthenticated, "caller identity is required")
	}

	campaign, err := s.Campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		if appErrors.Is(err, appErrors.KindNotFound) {
			return nil, err
		}
		return nil, appErrors.ExternalService(err, "load campaign")
	}

	denied := appErrors.Authorization("caller cannot manage this campaign").WithDetails(map[string]any{
		"campaign_id":  req.CampaignID,
		"workspace_id": req.WorkspaceID,
	})
	if campaign.WorkspaceID != req.WorkspaceID {
		return nil, denied
	}
	member, err := s.Members.IsMember(ctx, req.WorkspaceID, req.CallerID)
	if err != nil {
		return nil, appErrors.ExternalService(err, "check workspace membership")
	}
	if !member {
		return nil, denied
	}
	return campaign, nil
}

// Activate moves a draft or inactive campaign to active and starts it on its
// channel. If anything after the status write fails, panics or is cancelled,
// the campaign is written back to inactive before Activate returns.
func (s *ActivationService) Activate(ctx context.Context, req ActivateRequest) (activated *model.Campaign, err error) {
	campaign, err := s.authorize(ctx, req)
	if err != nil {
		s.observe("rejected")
		return nil, err
	}
	if !campaign.Status.CanActivate() {
		s.observe("rejected")
		return nil, appErrors.Conflict(fmt.Sprintf("campaign cannot be activated from status %s", campaign.Status)).
			WithDetails(map[string]any{"campaign_id": campaign.ID, "status": campaign.Status})
	}
	channel, ok := campaign.Type.Channel()
	if !ok {
		s.observe("rejected")
		return nil, appErrors.Validation("unknown campaign type").
			WithDetails(map[string]any{"campaign_id": campaign.ID, "campaign_type": campaign.Type})
	}

	now := s.now()
	ok, err = s.Campaigns.MarkActive(ctx, campaign.ID, now)
	if err != nil {
		s.observe("failed")
		return nil, appErrors.ExternalService(err, "activate campaign")
	}
	if !ok {
		s.observe("rejected")
		return nil, appErrors.Conflict("campaign status changed during activation").
			WithDetails(map[string]any{"campaign_id": campaign.ID})
	}

	succeeded := false
	defer func() {
		r := recover()
		if succeeded && r == nil {
			return
		}
		cause := err
		if r != nil {
			cause = fmt.Errorf("execution panicked: %v", r)
		}
		rbErr := s.compensate(ctx, campaign.ID)
		activated = nil
		err = rollbackError(campaign.ID, channel, cause, rbErr)
		s.observe("rolled_back")
		s.log().Error("campaign activation rolled back",
			zap.String("campaign_id", campaign.ID),
			zap.String("channel", string(channel)),
			zap.Bool("rollback_ok", rbErr == nil),
			zap.Error(cause),
		)
	}()

	if campaign.SendingAccountID != nil && s.Quota != nil {
		d, qerr := s.Quota.CanSend(ctx, *campaign.SendingAccountID)
		if qerr != nil {
			return nil, qerr
		}
		if !d.Allowed {
			return nil, QuotaExceeded(d)
		}
	}

	opts := s.Retry
	if s.Metrics != nil {
		opts.OnRetry = s.Metrics.RetryObserver("execute")
	}
	execReq := execution.ExecuteRequest{CampaignID: campaign.ID, WorkspaceID: campaign.WorkspaceID}
	if campaign.SendingAccountID != nil {
		execReq.SendingAccountID = *campaign.SendingAccountID
	}
	if err := retry.Run(ctx, opts, func(ctx context.Context) error {
		return s.Executor.Execute(ctx, channel, execReq)
	}); err != nil {
		return nil, err
	}

	succeeded = true
	campaign.Status = model.CampaignActive
	campaign.ActivatedAt = &now
	campaign.UpdatedAt = now
	s.observe("activated")
	s.log().Info("campaign activated",
		zap.String("campaign_id", campaign.ID),
		zap.String("channel", string(channel)),
	)
	return campaign, nil
}

// compensate writes the campaign back to inactive. It runs on a context
// detached from the caller so cancellation cannot skip it.
func (s *ActivationService) compensate(ctx context.Context, campaignID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	_, err := s.Campaigns.MarkInactive(ctx, campaignID, s.now())
	return err
}

func rollbackError(campaignID string, channel model.Channel, cause, rbErr error) error {
	details := map[string]any{
		"campaign_id": campaignID,
		"channel":     channel,
		"rolled_back": rbErr == nil,
		"cause":       cause.Error(),
	}
	if rbErr != nil {
		details["rollback_error"] = rbErr.Error()
	}

	if appErrors.Is(cause, appErrors.KindQuotaExceeded) {
		for k, v := range appErrors.DetailsOf(cause) {
			if _, taken := details[k]; !taken {
				details[k] = v
			}
		}
		return appErrors.Wrap(appErrors.KindQuotaExceeded, cause, "campaign activation refused by quota, campaign rolled back").
			WithDetails(details)
	}

	msg := "campaign activation failed, campaign rolled back to inactive"
	if rbErr != nil {
		msg = "campaign activation failed and rollback did not complete"
	}
	return appErrors.Wrap(appErrors.KindInternal, cause, msg).WithDetails(details)
}

// Deactivate is the manual form of the compensating write. It is a no-op for
// campaigns that are not active.
func (s *ActivationService) Deactivate(ctx context.Context, req ActivateRequest) (*model.Campaign, error) {
	campaign, err := s.authorize(ctx, req)
	if err != nil {
		return nil, err
	}
	changed, err := s.Campaigns.MarkInactive(ctx, campaign.ID, s.now())
	if err != nil {
		return nil, appErrors.ExternalService(err, "deactivate campaign")
	}
	if changed {
		s.log().Info("campaign deactivated", zap.String("campaign_id", campaign.ID))
	}
	return s.Campaigns.GetByID(ctx, campaign.ID)
}

func (s *ActivationService) observe(outcome string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Activations.WithLabelValues(outcome).Inc()
}
