package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/model"
)

type AccountRepositoryInterface interface {
	Create(ctx context.Context, a *model.SendingAccount) error
	GetByID(ctx context.Context, id string) (*model.SendingAccount, error)
	// ConsumeQuota increments both counters only if every limit still holds.
	// false means the account is at a limit or below the reputation floor.
	ConsumeQuota(ctx context.Context, id string, minReputation float64, at time.Time) (bool, error)
}

type AccountRepository struct {
	DB *sql.DB
}

func (r *AccountRepository) Create(ctx context.Context, a *model.SendingAccount) error {
	if a.ID == "" {
		a.ID = newID()
	}
	query := `
		INSERT INTO sending_accounts (id, workspace_id, email, emails_sent_today, emails_sent_this_hour,
			daily_send_limit, hourly_send_limit, reputation_score, last_sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.DB.ExecContext(ctx, query, a.ID, a.WorkspaceID, a.Email, a.EmailsSentToday, a.EmailsSentThisHour,
		a.DailySendLimit, a.HourlySendLimit, a.ReputationScore, a.LastSentAt)
	if err != nil {
		return fmt.Errorf("insert sending account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.SendingAccount, error) {
	query := `
		SELECT id, workspace_id, email, emails_sent_today, emails_sent_this_hour,
			daily_send_limit, hourly_send_limit, reputation_score, last_sent_at
		FROM sending_accounts WHERE id=$1
	`
	var a model.SendingAccount
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.WorkspaceID, &a.Email,
		&a.EmailsSentToday, &a.EmailsSentThisHour, &a.DailySendLimit, &a.HourlySendLimit,
		&a.ReputationScore, &a.LastSentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("account", id)
		}
		return nil, fmt.Errorf("get sending account %s: %w", id, err)
	}
	return &a, nil
}

func (r *AccountRepository) ConsumeQuota(ctx context.Context, id string, minReputation float64, at time.Time) (bool, error) {
	query := `
		UPDATE sending_accounts
		SET emails_sent_today = emails_sent_today + 1,
			emails_sent_this_hour = emails_sent_this_hour + 1,
			last_sent_at = $1
		WHERE id = $2
			AND emails_sent_today < daily_send_limit
			AND emails_sent_this_hour < hourly_send_limit
			AND reputation_score > $3
	`
	res, err := r.DB.ExecContext(ctx, query, at, id, minReputation)
	if err != nil {
		return false, fmt.Errorf("consume quota for %s: %w", id, err)
	}
	return affected(res)
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
