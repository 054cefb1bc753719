package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/execution"
	"github.com/unclebandit/outreach-funnel/internal/metrics"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/repository"
	"github.com/unclebandit/outreach-funnel/internal/retry"
)

// Deliverer hands one message to a sending account's provider.
type Deliverer interface {
	Deliver(ctx context.Context, accountID string, d execution.Delivery) error
}

// SendWorker processes campaign_sends jobs: quota, delivery, record status.
type SendWorker struct {
	Sends     repository.SendQueueRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Quota     *QuotaGuard
	Provider  Deliverer
	Retry     retry.Options
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// Handle is the queue handler. Errors it returns are already classified for
// the queue's retry loop.
func (w *SendWorker) Handle(ctx context.Context, body []byte) error {
	var job SendJob
	if err := json.Unmarshal(body, &job); err != nil || job.SendRecordID == "" {
		w.log().Warn("invalid send job", zap.ByteString("body", body))
		return retry.Permanent(fmt.Errorf("invalid send job: %s", body))
	}
	return w.Process(ctx, job.SendRecordID)
}

// Process delivers one send record. The record is claimed before anything
// else happens, so concurrent or repeated jobs for the same id deliver at most
// once.
func (w *SendWorker) Process(ctx context.Context, id string) error {
	log := w.log().With(zap.String("send_record_id", id))

	rec, err := w.Sends.GetByID(ctx, id)
	if err != nil {
		if appErrors.Is(err, appErrors.KindNotFound) {
			log.Warn("send record not found")
			return retry.Permanent(err)
		}
		return err
	}
	if rec.Status != model.SendPending {
		log.Debug("send record already processed", zap.String("status", string(rec.Status)))
		return nil
	}
	claimed, err := w.Sends.Claim(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("send record claimed by another job")
		return nil
	}

	campaign, err := w.Campaigns.GetByID(ctx, rec.CampaignID)
	if err != nil {
		if appErrors.Is(err, appErrors.KindNotFound) {
			return w.fail(ctx, rec, "campaign not found")
		}
		return w.release(ctx, rec, err)
	}
	if campaign.Status != model.CampaignActive {
		return w.fail(ctx, rec, fmt.Sprintf("campaign is %s", campaign.Status))
	}
	if campaign.SendingAccountID == nil {
		return w.fail(ctx, rec, "campaign has no sending account")
	}
	accountID := *campaign.SendingAccountID

	if _, err := w.Quota.RecordSend(ctx, accountID); err != nil {
		if appErrors.Is(err, appErrors.KindQuotaExceeded) {
			// Back to pending for a later run once counters roll over.
			w.observe("deferred")
			log.Info("send deferred by quota", zap.String("account_id", accountID))
			return retry.Permanent(w.release(ctx, rec, err))
		}
		return w.release(ctx, rec, err)
	}

	opts := w.Retry
	if w.Metrics != nil {
		opts.OnRetry = w.Metrics.RetryObserver("deliver")
	}
	delivery := execution.Delivery{
		SendRecordID: rec.ID,
		ProspectID:   rec.ProspectID,
		CampaignID:   rec.CampaignID,
		Step:         rec.Step,
		Content:      rec.Content,
	}
	err = retry.Run(ctx, opts, func(ctx context.Context) error {
		return w.Provider.Deliver(ctx, accountID, delivery)
	})
	if err != nil {
		log.Warn("delivery failed", zap.String("account_id", accountID), zap.Error(err))
		if ferr := w.fail(ctx, rec, err.Error()); ferr != nil {
			log.Error("failed to record delivery failure", zap.Error(ferr))
		}
		return retry.Permanent(err)
	}

	// The provider has the message now. A failed status write must not
	// trigger a redelivery; the record stays in sending.
	if err := w.Sends.MarkSent(context.WithoutCancel(ctx), rec.ID); err != nil {
		log.Error("message sent but record not updated", zap.String("account_id", accountID), zap.Error(err))
		return retry.Permanent(err)
	}
	w.observe("sent")
	log.Info("message sent", zap.String("account_id", accountID), zap.String("step", string(rec.Step)))
	return nil
}

// release hands a claimed record back to pending and returns cause, so the
// job can be retried later.
func (w *SendWorker) release(ctx context.Context, rec *model.SendQueueRecord, cause error) error {
	if err := w.Sends.Release(context.WithoutCancel(ctx), rec.ID); err != nil {
		w.log().Error("failed to release send record", zap.String("send_record_id", rec.ID), zap.Error(err))
	}
	return cause
}

// fail marks the record failed. A nil return means the job is finished; on
// error the claim is released so a retry can pick the record up again.
func (w *SendWorker) fail(ctx context.Context, rec *model.SendQueueRecord, reason string) error {
	if err := w.Sends.MarkFailed(ctx, rec.ID, reason); err != nil {
		return w.release(ctx, rec, err)
	}
	w.observe("failed")
	w.log().Warn("send record failed", zap.String("send_record_id", rec.ID), zap.String("reason", reason))
	return nil
}

func (w *SendWorker) observe(outcome string) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.Sends.WithLabelValues(outcome).Inc()
}

func (w *SendWorker) log() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}
