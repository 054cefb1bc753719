// Package execution talks to the channel execution subsystem and to the
// sending-account provider over HTTP.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/retry"
)

// ExecuteRequest starts a campaign on one channel.
type ExecuteRequest struct {
	CampaignID       string `json:"campaign_id"`
	WorkspaceID      string `json:"workspace_id"`
	SendingAccountID string `json:"sending_account_id,omitempty"`
}

// Delivery is one outbound message handed to a sending account's provider.
type Delivery struct {
	SendRecordID string             `json:"send_record_id"`
	ProspectID   string             `json:"prospect_id"`
	CampaignID   string             `json:"campaign_id"`
	Step         model.FunnelStatus `json:"step"`
	Content      string             `json:"content"`
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Execute calls POST /execute/{channel}.
func (c *Client) Execute(ctx context.Context, channel model.Channel, req ExecuteRequest) error {
	return c.post(ctx, "/execute/"+url.PathEscape(string(channel)), req)
}

// Deliver calls POST /accounts/{id}/send.
func (c *Client) Deliver(ctx context.Context, accountID string, d Delivery) error {
	return c.post(ctx, "/accounts/"+url.PathEscape(accountID)+"/send", d)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if c.baseURL == "" {
		return retry.Permanent(appErrors.New(appErrors.KindInternal, "execution endpoint not configured"))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return appErrors.ExternalService(err, "call "+path)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	c.log.Debug("execution response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return classify(path, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// classify maps a response status to nil, a retryable error (429, 5xx) or a
// permanent one (other 4xx).
func classify(path string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	e := appErrors.New(appErrors.KindExternalService, fmt.Sprintf("%s returned %d", path, status)).
		WithDetails(map[string]any{"status": status, "body": body})
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return retry.Transient(e)
	default:
		return retry.Permanent(e)
	}
}
