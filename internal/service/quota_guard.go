package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/metrics"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/repository"
)

const (
	ReasonDailyLimit  = "daily_limit_reached"
	ReasonHourlyLimit = "hourly_limit_reached"
	ReasonReputation  = "reputation_below_threshold"
)

// Decision is the outcome of a quota check with the counters it was based on.
type Decision struct {
	Allowed  bool                `json:"allowed"`
	Reason   string              `json:"reason,omitempty"`
	Snapshot model.QuotaSnapshot `json:"snapshot"`
}

// QuotaGuard gates sends per sending account.
type QuotaGuard struct {
	Accounts repository.AccountRepositoryInterface
	// SuspensionThreshold is the reputation score an account must stay above.
	SuspensionThreshold float64
	Metrics             *metrics.Metrics
	Log                 *zap.Logger
}

func NewQuotaGuard(accounts repository.AccountRepositoryInterface, threshold float64, m *metrics.Metrics, log *zap.Logger) *QuotaGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuotaGuard{Accounts: accounts, SuspensionThreshold: threshold, Metrics: m, Log: log}
}

func (g *QuotaGuard) decide(a *model.SendingAccount) Decision {
	d := Decision{Allowed: true, Snapshot: a.Snapshot()}
	switch {
	case a.EmailsSentToday >= a.DailySendLimit:
		d.Allowed, d.Reason = false, ReasonDailyLimit
	case a.EmailsSentThisHour >= a.HourlySendLimit:
		d.Allowed, d.Reason = false, ReasonHourlyLimit
	case a.ReputationScore <= g.SuspensionThreshold:
		d.Allowed, d.Reason = false, ReasonReputation
	}
	return d
}

// CanSend is an advisory read. Only RecordSend reserves capacity.
func (g *QuotaGuard) CanSend(ctx context.Context, accountID string) (Decision, error) {
	a, err := g.Accounts.GetByID(ctx, accountID)
	if err != nil {
		if appErrors.Is(err, appErrors.KindNotFound) {
			return Decision{}, err
		}
		return Decision{}, appErrors.ExternalService(err, "load sending account")
	}
	d := g.decide(a)
	if d.Allowed {
		g.observe("allowed")
	} else {
		g.observe("denied")
	}
	return d, nil
}

// RecordSend atomically checks every limit and increments both counters.
// At a limit it returns a quota_exceeded error carrying the current counters.
func (g *QuotaGuard) RecordSend(ctx context.Context, accountID string) (model.QuotaSnapshot, error) {
	ok, err := g.Accounts.ConsumeQuota(ctx, accountID, g.SuspensionThreshold, model.Timestamp(time.Now()))
	if err != nil {
		return model.QuotaSnapshot{}, appErrors.ExternalService(err, "record send")
	}

	a, err := g.Accounts.GetByID(ctx, accountID)
	if err != nil {
		if appErrors.Is(err, appErrors.KindNotFound) {
			return model.QuotaSnapshot{}, err
		}
		return model.QuotaSnapshot{}, appErrors.ExternalService(err, "load sending account")
	}

	if !ok {
		d := g.decide(a)
		if d.Allowed {
			// Counters moved between the update and the read.
			d.Allowed, d.Reason = false, ReasonDailyLimit
		}
		g.observe("exceeded")
		g.Log.Info("send refused by quota",
			zap.String("account_id", accountID),
			zap.String("reason", d.Reason),
			zap.Int("emails_sent_today", a.EmailsSentToday),
			zap.Int("emails_sent_this_hour", a.EmailsSentThisHour),
		)
		return d.Snapshot, QuotaExceeded(d)
	}
	g.observe("recorded")
	return a.Snapshot(), nil
}

// QuotaExceeded builds the quota_exceeded error for a refused decision.
func QuotaExceeded(d Decision) *appErrors.Error {
	details := d.Snapshot.AsMap()
	details["reason"] = d.Reason
	return appErrors.New(appErrors.KindQuotaExceeded,
		fmt.Sprintf("sending quota exhausted for account %s", d.Snapshot.AccountID)).WithDetails(details)
}

func (g *QuotaGuard) observe(outcome string) {
	if g.Metrics == nil {
		return
	}
	g.Metrics.QuotaDecisions.WithLabelValues(outcome).Inc()
}
