// internal/model/sending_account.go
package model

import "time"

// SendingAccount holds the quota counters of one outbound identity.
type SendingAccount struct {
	ID                 string     `db:"id" json:"id"`
	WorkspaceID        string     `db:"workspace_id" json:"workspace_id"`
	Email              string     `db:"email" json:"email"`
	EmailsSentToday    int        `db:"emails_sent_today" json:"emails_sent_today"`
	EmailsSentThisHour int        `db:"emails_sent_this_hour" json:"emails_sent_this_hour"`
	DailySendLimit     int        `db:"daily_send_limit" json:"daily_send_limit"`
	HourlySendLimit    int        `db:"hourly_send_limit" json:"hourly_send_limit"`
	ReputationScore    float64    `db:"reputation_score" json:"reputation_score"`
	LastSentAt         *time.Time `db:"last_sent_at" json:"last_sent_at,omitempty"`
}

// QuotaSnapshot is the counter view attached to quota decisions.
type QuotaSnapshot struct {
	AccountID          string  `json:"account_id"`
	EmailsSentToday    int     `json:"emails_sent_today"`
	DailySendLimit     int     `json:"daily_send_limit"`
	EmailsSentThisHour int     `json:"emails_sent_this_hour"`
	HourlySendLimit    int     `json:"hourly_send_limit"`
	ReputationScore    float64 `json:"reputation_score"`
}

func (a *SendingAccount) Snapshot() QuotaSnapshot {
	return QuotaSnapshot{
		AccountID:          a.ID,
		EmailsSentToday:    a.EmailsSentToday,
		DailySendLimit:     a.DailySendLimit,
		EmailsSentThisHour: a.EmailsSentThisHour,
		HourlySendLimit:    a.HourlySendLimit,
		ReputationScore:    a.ReputationScore,
	}
}

// AsMap flattens the snapshot for error details.
func (s QuotaSnapshot) AsMap() map[string]any {
	return map[string]any{
		"account_id":            s.AccountID,
		"emails_sent_today":     s.EmailsSentToday,
		"daily_send_limit":      s.DailySendLimit,
		"emails_sent_this_hour": s.EmailsSentThisHour,
		"hourly_send_limit":     s.HourlySendLimit,
		"reputation_score":      s.ReputationScore,
	}
}
