// internal/model/prospect.go
package model

import "time"

// TrackingEntry is one audit record appended on every applied transition.
type TrackingEntry struct {
	OccurredAt     time.Time      `json:"timestamp"`
	MessageID      string         `json:"message_id,omitempty"`
	MessageContent string         `json:"message_content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// FunnelTracking is keyed by the status that was entered. Entries are only
// ever appended.
type FunnelTracking map[FunnelStatus][]TrackingEntry

// HasMessage reports whether status already holds an entry with messageID.
func (t FunnelTracking) HasMessage(status FunnelStatus, messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, e := range t[status] {
		if e.MessageID == messageID {
			return true
		}
	}
	return false
}

// EarliestContact returns the oldest entry time recorded for any contacted stage.
func (t FunnelTracking) EarliestContact() (time.Time, bool) {
	var earliest time.Time
	found := false
	for status, entries := range t {
		if !status.IsContacted() {
			continue
		}
		for _, e := range entries {
			if e.OccurredAt.IsZero() {
				continue
			}
			if !found || e.OccurredAt.Before(earliest) {
				earliest = e.OccurredAt
				found = true
			}
		}
	}
	return earliest, found
}

type Prospect struct {
	ID                string         `db:"id" json:"id"`
	CampaignID        string         `db:"campaign_id" json:"campaign_id"`
	FirstName         string         `db:"first_name" json:"first_name"`
	LastName          string         `db:"last_name" json:"last_name"`
	LinkedInID        string         `db:"linkedin_id" json:"linkedin_id,omitempty"`
	Email             string         `db:"email" json:"email,omitempty"`
	Status            FunnelStatus   `db:"status" json:"status"`
	ContactedAt       *time.Time     `db:"contacted_at" json:"contacted_at"`
	LastMessageSentAt *time.Time     `db:"last_message_sent_at" json:"last_message_sent_at"`
	RepliedAt         *time.Time     `db:"replied_at" json:"replied_at"`
	ErrorMessage      string         `db:"error_message" json:"error_message,omitempty"`
	FunnelTracking    FunnelTracking `db:"funnel_tracking" json:"funnel_tracking"`
	Version           int            `db:"version" json:"-"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

func (p *Prospect) Name() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Corrupted reports a prospect past its first send with no contacted_at.
func (p *Prospect) Corrupted() bool {
	return p.Status.IsContacted() && p.ContactedAt == nil
}

// Timestamp normalizes t to the precision both datastores keep.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
