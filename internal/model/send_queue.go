// internal/model/send_queue.go
package model

import "time"

type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSending SendStatus = "sending" // claimed by a worker, delivery in flight
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
)

// SendQueueRecord is one pending outbound action for a prospect at a funnel step.
type SendQueueRecord struct {
	ID         string       `db:"id" json:"id"`
	ProspectID string       `db:"prospect_id" json:"prospect_id"`
	CampaignID string       `db:"campaign_id" json:"campaign_id"`
	Step       FunnelStatus `db:"step" json:"step"`
	Content    string       `db:"content" json:"content"`
	Status     SendStatus   `db:"status" json:"status"` // pending, sending, sent, failed
	LastError  string       `db:"last_error" json:"last_error,omitempty"`
	RetryCount int          `db:"retry_count" json:"retry_count"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// DuplicateGroup is one (prospect, step) pair holding more than one pending record.
type DuplicateGroup struct {
	ProspectID string       `json:"prospect_id"`
	Step       FunnelStatus `json:"step"`
	Count      int          `json:"count"`
}
