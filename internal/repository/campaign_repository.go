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

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error)

	// MarkActive moves a draft or inactive campaign to active. It reports
	// false when the campaign was in any other status.
	MarkActive(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkInactive moves an active campaign back to inactive and clears
	// activated_at. Calling it on a non-active campaign is a no-op.
	MarkInactive(ctx context.Context, id string, at time.Time) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, workspace_id, name, campaign_type, status, sending_account_id, activated_at, created_at, updated_at`

func scanCampaign(row scanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.Status,
		&c.SendingAccountID, &c.ActivatedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	now := model.Timestamp(time.Now())
	c.CreatedAt = now
	c.UpdatedAt = now

	query := `
		INSERT INTO campaigns (id, workspace_id, name, campaign_type, status, sending_account_id, activated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.DB.ExecContext(ctx, query, c.ID, c.WorkspaceID, c.Name, c.Type, c.Status,
		c.SendingAccountID, c.ActivatedAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if campaignType != "" {
		where += fmt.Sprintf(" AND campaign_type=$%d", argPos)
		args = append(args, campaignType)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) MarkActive(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$1, activated_at=$2, updated_at=$3
		WHERE id=$4 AND status IN ($5, $6)
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignActive, at, at, id, model.CampaignDraft, model.CampaignInactive)
	if err != nil {
		return false, fmt.Errorf("activate campaign %s: %w", id, err)
	}
	return affected(res)
}

func (r *CampaignRepository) MarkInactive(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$1, activated_at=NULL, updated_at=$2
		WHERE id=$3 AND status=$4
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignInactive, at, id, model.CampaignActive)
	if err != nil {
		return false, fmt.Errorf("deactivate campaign %s: %w", id, err)
	}
	return affected(res)
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
