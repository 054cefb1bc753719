package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/service"
)

func TestHealthScoreAndStatus(t *testing.T) {
	tests := []struct {
		corrupted, total int
		score            float64
		status           string
	}{
		{0, 0, 100, service.HealthHealthy},
		{10, 1000, 99, service.HealthHealthy},
		{5, 100, 95, service.HealthHealthy},
		{6, 100, 94, service.HealthWarning},
		{20, 100, 80, service.HealthWarning},
		{21, 100, 79, service.HealthCritical},
		{5001, 100000, 95, service.HealthWarning},
		{20001, 100000, 80, service.HealthCritical},
		{1, 3, 66.67, service.HealthCritical},
		{100, 100, 0, service.HealthCritical},
	}
	for _, tt := range tests {
		score, status := service.Health(tt.corrupted, tt.total)
		assert.Equal(t, tt.score, score, "%d/%d", tt.corrupted, tt.total)
		assert.Equal(t, tt.score, service.HealthScore(tt.corrupted, tt.total))
		assert.Equal(t, tt.status, status, "%d/%d", tt.corrupted, tt.total)
	}
}

func seedProspects(t *testing.T, e *env, campaignID string, total, corrupted int) {
	t.Helper()
	ctx := context.Background()
	contact := model.Timestamp(time.Now().Add(-72 * time.Hour))

	tx, err := e.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < total; i++ {
		status := model.StatusPending
		var contactedAt any
		tracking := `{}`
		switch {
		case i < corrupted:
			status = model.StatusConnectionRequested
			tracking = `{"connection_requested":[{"timestamp":"` + contact.Format(time.RFC3339Nano) + `"}]}`
		case i%3 == 0:
			status = model.StatusFU1Sent
			contactedAt = contact
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO prospects (id, campaign_id, status, contacted_at, funnel_tracking, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			fmt.Sprintf("%s-%04d", campaignID, i), campaignID, status, contactedAt, tracking, contact, contact)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

func TestReconcilerScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	rec := service.NewReconciler(e.prospects, e.sends, e.metrics, zaptest.NewLogger(t))
	c := e.campaign(t, model.CampaignActive, nil)
	seedProspects(t, e, c.ID, 1000, 10)

	report, err := rec.ComputeHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000, report.TotalProspects)
	assert.Equal(t, 10, report.CorruptedCount)
	assert.Equal(t, 99.0, report.HealthScore)
	assert.Equal(t, service.HealthHealthy, report.Status)
	assert.Equal(t, []string{c.ID}, report.CorruptedCampaignIDs)
	assert.Equal(t, 99.0, promtest.ToFloat64(e.metrics.HealthScore))

	_, err = rec.Check(ctx)
	assert.Equal(t, appErrors.KindIntegrity, appErrors.KindOf(err))

	repaired, err := rec.RepairCorrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, repaired.FixedCount)
	assert.Equal(t, []string{c.ID}, repaired.AffectedCampaignIDs)

	report, err = rec.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.CorruptedCount)
	assert.Equal(t, 100.0, report.HealthScore)

	repaired, err = rec.RepairCorrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired.FixedCount)
	assert.Empty(t, repaired.AffectedCampaignIDs)
}

func TestReconcilerDuplicateGroups(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	rec := service.NewReconciler(e.prospects, e.sends, nil, nil)
	c := e.campaign(t, model.CampaignActive, nil)
	p := e.prospect(t, c.ID, model.StatusConnectionAccepted)

	for i := 0; i < 2; i++ {
		require.NoError(t, e.sends.Insert(ctx, &model.SendQueueRecord{ProspectID: p.ID, CampaignID: c.ID, Step: model.StatusAcceptanceMessageSent}))
	}

	report, err := rec.Check(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, report.DuplicateQueueCount)
	require.Len(t, report.DuplicateGroups, 1)
	assert.Equal(t, 2, report.DuplicateGroups[0].Count)
	assert.Equal(t, 2, report.QueueStats["pending"])
	assert.Equal(t, 100.0, report.HealthScore, "duplicates do not lower the prospect score")
}

func TestReconcilerRunStopsWithContext(t *testing.T) {
	e := newEnv(t)
	rec := service.NewReconciler(e.prospects, e.sends, e.metrics, zaptest.NewLogger(t))
	c := e.campaign(t, model.CampaignActive, nil)
	seedProspects(t, e, c.ID, 10, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, rec.Run(ctx, 5*time.Millisecond))

	assert.Equal(t, 90.0, promtest.ToFloat64(e.metrics.HealthScore))
	n, err := e.prospects.CountCorrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the loop never repairs")
}
