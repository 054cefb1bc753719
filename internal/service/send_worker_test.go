package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/outreach-funnel/internal/execution"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/retry"
	"github.com/unclebandit/outreach-funnel/internal/service"
)

type workerFixture struct {
	env      *env
	worker   *service.SendWorker
	account  *model.SendingAccount
	campaign *model.Campaign
	calls    *atomic.Int32
}

func newWorkerFixture(t *testing.T, status int, mutate func(a *model.SendingAccount)) *workerFixture {
	e := newEnv(t)
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var d execution.Delivery
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&d))
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	a := e.account(t, mutate)
	c := e.campaign(t, model.CampaignActive, &a.ID)
	return &workerFixture{
		env: e,
		worker: &service.SendWorker{
			Sends:     e.sends,
			Campaigns: e.campaigns,
			Quota:     service.NewQuotaGuard(e.accounts, 50, e.metrics, nil),
			Provider:  execution.New(srv.URL, time.Second, nil),
			Retry:     fastRetry(),
			Metrics:   e.metrics,
			Log:       zaptest.NewLogger(t),
		},
		account:  a,
		campaign: c,
		calls:    calls,
	}
}

// slowProvider swaps in a provider that holds every request for d, so
// overlapping jobs are in flight together.
func (f *workerFixture) slowProvider(t *testing.T, d time.Duration) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		time.Sleep(d)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	f.worker.Provider = execution.New(srv.URL, time.Second, nil)
}

func (f *workerFixture) pendingSend(t *testing.T) *model.SendQueueRecord {
	t.Helper()
	p := f.env.prospect(t, f.campaign.ID, model.StatusConnectionAccepted)
	rec := &model.SendQueueRecord{ProspectID: p.ID, CampaignID: f.campaign.ID, Step: model.StatusAcceptanceMessageSent, Content: "hello"}
	_, err := f.env.sends.Enqueue(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func (f *workerFixture) job(id string) []byte {
	body, _ := json.Marshal(service.SendJob{SendRecordID: id})
	return body
}

func TestWorkerDeliversAndRecordsQuota(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, http.StatusOK, nil)
	rec := f.pendingSend(t)

	require.NoError(t, f.worker.Handle(ctx, f.job(rec.ID)))

	got, err := f.env.sends.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendSent, got.Status)

	acct, err := f.env.accounts.GetByID(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.EmailsSentToday)

	require.NoError(t, f.worker.Handle(ctx, f.job(rec.ID)), "already sent records are skipped")
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestWorkerDefersWhenQuotaExhausted(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, http.StatusOK, func(a *model.SendingAccount) { a.EmailsSentThisHour = a.HourlySendLimit })
	rec := f.pendingSend(t)

	err := f.worker.Handle(ctx, f.job(rec.ID))
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))
	assert.Zero(t, f.calls.Load())

	got, err := f.env.sends.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendPending, got.Status)
}

func TestWorkerMarksPermanentProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, http.StatusBadRequest, nil)
	rec := f.pendingSend(t)

	err := f.worker.Handle(ctx, f.job(rec.ID))
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))
	assert.EqualValues(t, 1, f.calls.Load())

	got, err := f.env.sends.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendFailed, got.Status)
	assert.Contains(t, got.LastError, "400")
	assert.Equal(t, 1, got.RetryCount)

	acct, err := f.env.accounts.GetByID(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.EmailsSentToday, "the reservation is kept for a failed attempt")
}

func TestWorkerRetriesServerErrors(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, http.StatusServiceUnavailable, nil)
	rec := f.pendingSend(t)

	err := f.worker.Handle(ctx, f.job(rec.ID))
	require.Error(t, err)
	assert.EqualValues(t, 3, f.calls.Load())

	got, err := f.env.sends.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendFailed, got.Status)
}

func TestWorkerFailsRecordsForInactiveCampaign(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, http.StatusOK, nil)
	rec := f.pendingSend(t)
	_, err := f.env.campaigns.MarkInactive(ctx, f.campaign.ID, model.Timestamp(time.Now()))
	require.NoError(t, err)

	require.NoError(t, f.worker.Handle(ctx, f.job(rec.ID)))
	got, err := f.env.sends.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendFailed, got.Status)
	assert.Equal(t, "campaign is inactive", got.LastError)
	assert.Zero(t, f.calls.Load())
}

func TestWorkerRejectsMalformedJobs(t *testing.T) {
	f := newWorkerFixture(t, http.StatusOK, nil)
	for _, body := range []string{"not json", `{}`, `{"send_record_id":"missing"}`} {
		err := f.worker.Handle(context.Background(), []byte(body))
		require.Error(t, err, body)
		assert.False(t, retry.IsRetryable(err), body)
	}
}

func TestWorkerDeliversOverlappingJobsOnce(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, http.StatusOK, nil)
	f.slowProvider(t, 50*time.Millisecond)
	rec := f.pendingSend(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.worker.Handle(ctx, f.job(rec.ID)))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.calls.Load())
	acct, err := f.env.accounts.GetByID(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.EmailsSentToday)
	got, err := f.env.sends.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendSent, got.Status)
}

func TestWorkerReleasesClaimWhenQuotaDefers(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, http.StatusOK, func(a *model.SendingAccount) { a.EmailsSentToday = a.DailySendLimit })
	rec := f.pendingSend(t)

	require.Error(t, f.worker.Handle(ctx, f.job(rec.ID)))
	got, err := f.env.sends.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendPending, got.Status)

	claimed, err := f.env.sends.Claim(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, claimed, "a deferred record can be claimed by a later run")
}
