package execution_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/execution"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/retry"
)

func TestExecutePostsToChannel(t *testing.T) {
	var got execution.ExecuteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute/connection-request", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := execution.New(srv.URL+"/", time.Second, nil)
	err := c.Execute(context.Background(), model.ChannelConnectionRequest, execution.ExecuteRequest{CampaignID: "c-1", WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.CampaignID)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := execution.New(srv.URL, time.Second, nil)
		err := c.Deliver(context.Background(), "acct-1", execution.Delivery{SendRecordID: "s-1"})
		srv.Close()

		require.Error(t, err, tt.status)
		assert.Equal(t, tt.retryable, retry.IsRetryable(err), tt.status)
		assert.Equal(t, appErrors.KindExternalService, appErrors.KindOf(err), tt.status)
		assert.Equal(t, tt.status, appErrors.DetailsOf(err)["status"])
	}
}

func TestRetriedUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := execution.New(srv.URL, time.Second, nil)
	opts := retry.Options{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, AttemptTimeout: time.Second}
	err := retry.Run(context.Background(), opts, func(ctx context.Context) error {
		return c.Execute(ctx, model.ChannelEmail, execution.ExecuteRequest{CampaignID: "c-1"})
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestUnconfiguredEndpointIsPermanent(t *testing.T) {
	c := execution.New("", time.Second, nil)
	err := c.Execute(context.Background(), model.ChannelEmail, execution.ExecuteRequest{})
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))
}
