package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/execution"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/retry"
	"github.com/unclebandit/outreach-funnel/internal/service"
)

type executorFunc func(ctx context.Context, channel model.Channel, req execution.ExecuteRequest) error

func (f executorFunc) Execute(ctx context.Context, channel model.Channel, req execution.ExecuteRequest) error {
	return f(ctx, channel, req)
}

type panickingQuota struct{}

func (panickingQuota) CanSend(context.Context, string) (service.Decision, error) {
	panic("quota store exploded")
}

func newActivation(t *testing.T, e *env, exec service.Executor) *service.ActivationService {
	require.NoError(t, e.members.AddMember(context.Background(), "ws-1", "user-1"))
	return &service.ActivationService{
		Campaigns: e.campaigns,
		Members:   e.members,
		Quota:     service.NewQuotaGuard(e.accounts, 50, e.metrics, zaptest.NewLogger(t)),
		Executor:  exec,
		Retry:     fastRetry(),
		Metrics:   e.metrics,
		Log:       zaptest.NewLogger(t),
	}
}

func activateReq(c *model.Campaign) service.ActivateRequest {
	return service.ActivateRequest{CampaignID: c.ID, WorkspaceID: c.WorkspaceID, CallerID: "user-1"}
}

func assertRolledBack(t *testing.T, e *env, c *model.Campaign) {
	t.Helper()
	got, err := e.campaigns.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignInactive, got.Status)
	assert.Nil(t, got.ActivatedAt)
}

func TestActivateHappyPath(t *testing.T) {
	e := newEnv(t)
	var channel model.Channel
	svc := newActivation(t, e, executorFunc(func(ctx context.Context, ch model.Channel, req execution.ExecuteRequest) error {
		channel = ch
		return nil
	}))
	c := e.campaign(t, model.CampaignDraft, nil)

	got, err := svc.Activate(context.Background(), activateReq(c))
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, got.Status)
	assert.NotNil(t, got.ActivatedAt)
	assert.Equal(t, model.ChannelConnectionRequest, channel)

	stored, err := e.campaigns.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, stored.Status)
	require.NotNil(t, stored.ActivatedAt)
}

func TestActivateChannelByType(t *testing.T) {
	for typ, want := range map[model.CampaignType]model.Channel{
		model.CampaignConnector: model.ChannelConnectionRequest,
		model.CampaignMessenger: model.ChannelDirectMessage,
		model.CampaignEmail:     model.ChannelEmail,
	} {
		e := newEnv(t)
		var got model.Channel
		svc := newActivation(t, e, executorFunc(func(ctx context.Context, ch model.Channel, req execution.ExecuteRequest) error {
			got = ch
			return nil
		}))
		c := &model.Campaign{WorkspaceID: "ws-1", Name: "x", Type: typ, Status: model.CampaignInactive}
		require.NoError(t, e.campaigns.Create(context.Background(), c))

		_, err := svc.Activate(context.Background(), activateReq(c))
		require.NoError(t, err)
		assert.Equal(t, want, got, typ)
	}
}

func TestActivateRollsBackOnExecutionFailure(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int32
	svc := newActivation(t, e, executorFunc(func(ctx context.Context, ch model.Channel, req execution.ExecuteRequest) error {
		calls.Add(1)
		return retry.Permanent(appErrors.New(appErrors.KindExternalService, "execution returned 400"))
	}))
	c := e.campaign(t, model.CampaignDraft, nil)

	got, err := svc.Activate(context.Background(), activateReq(c))
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, appErrors.KindInternal, appErrors.KindOf(err))
	assert.Equal(t, true, appErrors.DetailsOf(err)["rolled_back"])
	assert.Contains(t, err.Error(), "execution returned 400")
	assert.EqualValues(t, 1, calls.Load())
	assertRolledBack(t, e, c)
}

func TestActivateRetriesTransientFailures(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int32
	svc := newActivation(t, e, executorFunc(func(ctx context.Context, ch model.Channel, req execution.ExecuteRequest) error {
		if calls.Add(1) < 3 {
			return retry.Transient(errors.New("503 from execution"))
		}
		return nil
	}))
	c := e.campaign(t, model.CampaignInactive, nil)

	_, err := svc.Activate(context.Background(), activateReq(c))
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestActivateRollsBackOnExhaustedRetries(t *testing.T) {
	e := newEnv(t)
	svc := newActivation(t, e, executorFunc(func(ctx context.Context, ch model.Channel, req execution.ExecuteRequest) error {
		return retry.Transient(errors.New("503 from execution"))
	}))
	c := e.campaign(t, model.CampaignDraft, nil)

	_, err := svc.Activate(context.Background(), activateReq(c))
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assertRolledBack(t, e, c)
}

func TestActivateRollsBackOnPanic(t *testing.T) {
	e := newEnv(t)
	svc := newActivation(t, e, executorFunc(func(ctx context.Context, ch model.Channel, req execution.ExecuteRequest) error {
		panic("nil map in execution client")
	}))
	c := e.campaign(t, model.CampaignDraft, nil)

	_, err := svc.Activate(context.Background(), activateReq(c))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assertRolledBack(t, e, c)
}

func TestActivateRollsBackOnPanicOutsideExecutor(t *testing.T) {
	e := newEnv(t)
	a := e.account(t, nil)
	svc := newActivation(t, e, executorFunc(func(context.Context, model.Channel, execution.ExecuteRequest) error { return nil }))
	svc.Quota = panickingQuota{}
	c := e.campaign(t, model.CampaignDraft, &a.ID)

	_, err := svc.Activate(context.Background(), activateReq(c))
	require.Error(t, err)
	assert.Equal(t, appErrors.KindInternal, appErrors.KindOf(err))
	assert.Contains(t, err.Error(), "quota store exploded")
	assertRolledBack(t, e, c)
}

func TestActivateRollsBackOnCancellation(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{})
	svc := newActivation(t, e, executorFunc(func(ctx context.Context, ch model.Channel, req execution.ExecuteRequest) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	c := e.campaign(t, model.CampaignDraft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := svc.Activate(ctx, activateReq(c))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assertRolledBack(t, e, c)
}

func TestActivateRefusedByQuota(t *testing.T) {
	e := newEnv(t)
	a := e.account(t, func(a *model.SendingAccount) { a.EmailsSentToday = a.DailySendLimit })
	var calls atomic.Int32
	svc := newActivation(t, e, executorFunc(func(context.Context, model.Channel, execution.ExecuteRequest) error {
		calls.Add(1)
		return nil
	}))
	c := e.campaign(t, model.CampaignDraft, &a.ID)

	_, err := svc.Activate(context.Background(), activateReq(c))
	require.Error(t, err)
	assert.Equal(t, appErrors.KindQuotaExceeded, appErrors.KindOf(err))
	details := appErrors.DetailsOf(err)
	assert.Equal(t, true, details["rolled_back"])
	assert.Equal(t, a.DailySendLimit, details["emails_sent_today"])
	assert.Zero(t, calls.Load())
	assertRolledBack(t, e, c)
}

func TestActivateRejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := newActivation(t, e, executorFunc(func(context.Context, model.Channel, execution.ExecuteRequest) error { return nil }))

	active := e.campaign(t, model.CampaignActive, nil)
	_, err := svc.Activate(ctx, activateReq(active))
	assert.Equal(t, appErrors.KindConflict, appErrors.KindOf(err))

	errored := e.campaign(t, model.CampaignError, nil)
	_, err = svc.Activate(ctx, activateReq(errored))
	assert.Equal(t, appErrors.KindConflict, appErrors.KindOf(err))

	draft := e.campaign(t, model.CampaignDraft, nil)

	req := activateReq(draft)
	req.WorkspaceID = "ws-2"
	_, err = svc.Activate(ctx, req)
	assert.Equal(t, appErrors.KindAuthorization, appErrors.KindOf(err))

	req = activateReq(draft)
	req.CallerID = "stranger"
	_, err = svc.Activate(ctx, req)
	assert.Equal(t, appErrors.KindAuthorization, appErrors.KindOf(err))

	req = activateReq(draft)
	req.CallerID = ""
	_, err = svc.Activate(ctx, req)
	assert.Equal(t, appErrors.KindUnauthenticated, appErrors.KindOf(err))

	_, err = svc.Activate(ctx, service.ActivateRequest{CampaignID: "missing", WorkspaceID: "ws-1", CallerID: "user-1"})
	assert.Equal(t, appErrors.KindNotFound, appErrors.KindOf(err))

	got, err := e.campaigns.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, got.Status, "rejected requests have no side effects")
}

func TestDeactivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := newActivation(t, e, executorFunc(func(context.Context, model.Channel, execution.ExecuteRequest) error { return nil }))
	c := e.campaign(t, model.CampaignActive, nil)

	for i := 0; i < 2; i++ {
		got, err := svc.Deactivate(ctx, activateReq(c))
		require.NoError(t, err)
		assert.Equal(t, model.CampaignInactive, got.Status)
		assert.Nil(t, got.ActivatedAt)
	}
}

func TestActivationMetrics(t *testing.T) {
	e := newEnv(t)
	svc := newActivation(t, e, executorFunc(func(context.Context, model.Channel, execution.ExecuteRequest) error {
		return retry.Permanent(errors.New("bad request"))
	}))
	svc.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	c := e.campaign(t, model.CampaignDraft, nil)

	_, _ = svc.Activate(context.Background(), activateReq(c))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.Activations.WithLabelValues("rolled_back")))
}
