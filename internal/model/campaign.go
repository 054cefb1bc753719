// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft    CampaignStatus = "draft"
	CampaignInactive CampaignStatus = "inactive"
	CampaignActive   CampaignStatus = "active"
	CampaignError    CampaignStatus = "error"
)

// CanActivate reports whether a campaign in this status may enter active.
func (s CampaignStatus) CanActivate() bool {
	return s == CampaignDraft || s == CampaignInactive
}

type CampaignType string

const (
	CampaignConnector CampaignType = "connector"
	CampaignMessenger CampaignType = "messenger"
	CampaignEmail     CampaignType = "email"
)

// Channel is the execution channel a campaign type runs on.
type Channel string

const (
	ChannelConnectionRequest Channel = "connection-request"
	ChannelDirectMessage     Channel = "direct-message"
	ChannelEmail             Channel = "email"
)

// Channel selects the execution channel for the campaign type.
func (t CampaignType) Channel() (Channel, bool) {
	switch t {
	case CampaignConnector:
		return ChannelConnectionRequest, true
	case CampaignMessenger:
		return ChannelDirectMessage, true
	case CampaignEmail:
		return ChannelEmail, true
	}
	return "", false
}

type Campaign struct {
	ID               string         `db:"id" json:"id"`
	WorkspaceID      string         `db:"workspace_id" json:"workspace_id"`
	Name             string         `db:"name" json:"name"`
	Type             CampaignType   `db:"campaign_type" json:"campaign_type"`
	Status           CampaignStatus `db:"status" json:"status"`
	SendingAccountID *string        `db:"sending_account_id" json:"sending_account_id,omitempty"`
	ActivatedAt      *time.Time     `db:"activated_at" json:"activated_at"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}
