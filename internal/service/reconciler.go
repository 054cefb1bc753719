package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/metrics"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/repository"
)

const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

type HealthReport struct {
	HealthScore          float64                `json:"health_score"`
	Status               string                 `json:"status"`
	TotalProspects       int                    `json:"total_prospects"`
	CorruptedCount       int                    `json:"corrupted_count"`
	DuplicateQueueCount  int                    `json:"duplicate_queue_count"`
	CorruptedCampaignIDs []string               `json:"corrupted_campaign_ids"`
	DuplicateGroups      []model.DuplicateGroup `json:"duplicate_groups"`
	QueueStats           map[string]int         `json:"queue_stats"`
	CheckedAt            time.Time              `json:"checked_at"`
}

func (r *HealthReport) Anomalies() bool {
	return r.CorruptedCount > 0 || r.DuplicateQueueCount > 0
}

type RepairResult struct {
	FixedCount          int       `json:"fixed_count"`
	AffectedCampaignIDs []string  `json:"affected_campaign_ids"`
	RepairedAt          time.Time `json:"repaired_at"`
}

// Reconciler audits prospect and send-queue state. It only repairs when
// RepairCorrupted is called explicitly.
type Reconciler struct {
	Prospects repository.ProspectRepositoryInterface
	Sends     repository.SendQueueRepositoryInterface
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

func NewReconciler(prospects repository.ProspectRepositoryInterface, sends repository.SendQueueRepositoryInterface, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{Prospects: prospects, Sends: sends, Metrics: m, Log: log}
}

// HealthScore is max(0, 100 - corrupted/total*100), rounded to two decimals.
func HealthScore(corrupted, total int) float64 {
	return math.Round(rawHealthScore(corrupted, total)*100) / 100
}

func rawHealthScore(corrupted, total int) float64 {
	if total <= 0 {
		return 100
	}
	return math.Max(0, 100-float64(corrupted)*100/float64(total))
}

// Health returns the reported score and its status. The status is taken
// from the unrounded score, so 94.999 stays a warning.
func Health(corrupted, total int) (float64, string) {
	return HealthScore(corrupted, total), HealthStatus(rawHealthScore(corrupted, total))
}

func HealthStatus(score float64) string {
	switch {
	case score >= 95:
		return HealthHealthy
	case score >= 80:
		return HealthWarning
	default:
		return HealthCritical
	}
}

func (r *Reconciler) ComputeHealth(ctx context.Context) (*HealthReport, error) {
	total, err := r.Prospects.CountAll(ctx)
	if err != nil {
		return nil, appErrors.ExternalService(err, "count prospects")
	}
	corrupted, err := r.Prospects.CountCorrupted(ctx)
	if err != nil {
		return nil, appErrors.ExternalService(err, "count corrupted prospects")
	}
	campaignIDs, err := r.Prospects.CorruptedCampaignIDs(ctx)
	if err != nil {
		return nil, appErrors.ExternalService(err, "list corrupted campaigns")
	}
	groups, err := r.Sends.DuplicateGroups(ctx)
	if err != nil {
		return nil, appErrors.ExternalService(err, "find duplicate sends")
	}
	queueStats, err := r.Sends.StatusCounts(ctx, "")
	if err != nil {
		return nil, appErrors.ExternalService(err, "send queue stats")
	}

	score, status := Health(corrupted, total)
	report := &HealthReport{
		HealthScore:          score,
		Status:               status,
		TotalProspects:       total,
		CorruptedCount:       corrupted,
		DuplicateQueueCount:  len(groups),
		CorruptedCampaignIDs: campaignIDs,
		DuplicateGroups:      groups,
		QueueStats:           queueStats,
		CheckedAt:            model.Timestamp(time.Now()),
	}

	if r.Metrics != nil {
		r.Metrics.HealthScore.Set(report.HealthScore)
		r.Metrics.CorruptedCount.Set(float64(report.CorruptedCount))
		r.Metrics.DuplicateGroups.Set(float64(report.DuplicateQueueCount))
	}
	return report, nil
}

// Check returns the report and, when anomalies exist, an integrity error
// describing them.
func (r *Reconciler) Check(ctx context.Context) (*HealthReport, error) {
	report, err := r.ComputeHealth(ctx)
	if err != nil {
		return nil, err
	}
	if !report.Anomalies() {
		return report, nil
	}
	return report, appErrors.New(appErrors.KindIntegrity,
		fmt.Sprintf("%d corrupted prospects, %d duplicate send groups", report.CorruptedCount, report.DuplicateQueueCount)).
		WithDetails(map[string]any{
			"health_score":           report.HealthScore,
			"corrupted_count":        report.CorruptedCount,
			"duplicate_queue_count":  report.DuplicateQueueCount,
			"corrupted_campaign_ids": report.CorruptedCampaignIDs,
		})
}

func (r *Reconciler) RepairCorrupted(ctx context.Context) (*RepairResult, error) {
	now := model.Timestamp(time.Now())
	fixed, campaigns, err := r.Prospects.RepairCorrupted(ctx, now)
	if err != nil {
		return nil, appErrors.ExternalService(err, "repair corrupted prospects")
	}
	if campaigns == nil {
		campaigns = []string{}
	}
	r.Log.Info("corrupted prospects repaired",
		zap.Int("fixed_count", fixed),
		zap.Strings("affected_campaign_ids", campaigns),
	)
	return &RepairResult{FixedCount: fixed, AffectedCampaignIDs: campaigns, RepairedAt: now}, nil
}

// Run checks on every tick until ctx is done. It reports and never repairs.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	report, err := r.Check(ctx)
	switch {
	case report == nil:
		if ctx.Err() == nil {
			r.Log.Error("integrity check failed", zap.Error(err))
		}
	case err != nil:
		r.Log.Warn("integrity anomalies detected",
			zap.Float64("health_score", report.HealthScore),
			zap.String("status", report.Status),
			zap.Int("corrupted_count", report.CorruptedCount),
			zap.Int("duplicate_queue_count", report.DuplicateQueueCount),
			zap.Strings("corrupted_campaign_ids", report.CorruptedCampaignIDs),
		)
	default:
		r.Log.Debug("integrity check clean", zap.Float64("health_score", report.HealthScore))
	}
}
