package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
	"github.com/unclebandit/outreach-funnel/internal/model"
)

// ErrStaleProspect means the row changed between read and write.
var ErrStaleProspect = errors.New("prospect was modified concurrently")

type ProspectRepositoryInterface interface {
	Create(ctx context.Context, p *model.Prospect) error
	Get(ctx context.Context, prospectID, campaignID string) (*model.Prospect, error)
	// SaveTransition writes status, derived timestamps and tracking in one
	// statement guarded by p.Version. It returns ErrStaleProspect on a lost race.
	SaveTransition(ctx context.Context, p *model.Prospect) error
	FunnelStats(ctx context.Context, campaignID string) (map[string]int, error)

	CountAll(ctx context.Context) (int, error)
	CountCorrupted(ctx context.Context) (int, error)
	CorruptedCampaignIDs(ctx context.Context) ([]string, error)
	// RepairCorrupted sets contacted_at on every corrupted row in one
	// transaction and returns the number fixed and the campaigns touched.
	RepairCorrupted(ctx context.Context, at time.Time) (int, []string, error)
}

type ProspectRepository struct {
	DB *sql.DB
}

const prospectColumns = `id, campaign_id, first_name, last_name, linkedin_id, email, status,
	contacted_at, last_message_sent_at, replied_at, error_message, funnel_tracking,
	version, created_at, updated_at`

func scanProspect(row scanner) (*model.Prospect, error) {
	var (
		p        model.Prospect
		tracking string
	)
	err := row.Scan(&p.ID, &p.CampaignID, &p.FirstName, &p.LastName, &p.LinkedInID, &p.Email, &p.Status,
		&p.ContactedAt, &p.LastMessageSentAt, &p.RepliedAt, &p.ErrorMessage, &tracking,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.FunnelTracking = model.FunnelTracking{}
	if tracking != "" {
		if err := json.Unmarshal([]byte(tracking), &p.FunnelTracking); err != nil {
			return nil, fmt.Errorf("decode funnel_tracking for prospect %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodeTracking(t model.FunnelTracking) (string, error) {
	if t == nil {
		t = model.FunnelTracking{}
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// corruptedFilter selects contacted-stage rows missing contacted_at. Its
// placeholders start at $1.
func corruptedFilter() (string, []any) {
	var args []any
	for _, s := range model.FunnelStatuses {
		if s.IsContacted() {
			args = append(args, s)
		}
	}
	return ` WHERE status IN (` + placeholders(1, len(args)) + `) AND contacted_at IS NULL`, args
}

func (r *ProspectRepository) Create(ctx context.Context, p *model.Prospect) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = model.StatusPending
	}
	tracking, err := encodeTracking(p.FunnelTracking)
	if err != nil {
		return err
	}
	now := model.Timestamp(time.Now())
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO prospects (` + prospectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.DB.ExecContext(ctx, query,
		p.ID, p.CampaignID, p.FirstName, p.LastName, p.LinkedInID, p.Email, p.Status,
		p.ContactedAt, p.LastMessageSentAt, p.RepliedAt, p.ErrorMessage, tracking,
		p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prospect: %w", err)
	}
	return nil
}

func (r *ProspectRepository) Get(ctx context.Context, prospectID, campaignID string) (*model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE id=$1 AND campaign_id=$2`
	p, err := scanProspect(r.DB.QueryRowContext(ctx, query, prospectID, campaignID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewProspectNotFound(prospectID, campaignID)
		}
		return nil, fmt.Errorf("get prospect %s: %w", prospectID, err)
	}
	return p, nil
}

func (r *ProspectRepository) SaveTransition(ctx context.Context, p *model.Prospect) error {
	tracking, err := encodeTracking(p.FunnelTracking)
	if err != nil {
		return err
	}
	query := `
		UPDATE prospects
		SET status=$1, contacted_at=$2, last_message_sent_at=$3, replied_at=$4,
			error_message=$5, funnel_tracking=$6, version=version+1, updated_at=$7
		WHERE id=$8 AND version=$9
	`
	res, err := r.DB.ExecContext(ctx, query,
		p.Status, p.ContactedAt, p.LastMessageSentAt, p.RepliedAt,
		p.ErrorMessage, tracking, p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update prospect %s: %w", p.ID, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleProspect
	}
	p.Version++
	return nil
}

func (r *ProspectRepository) FunnelStats(ctx context.Context, campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM prospects WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("funnel stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *ProspectRepository) CountAll(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM prospects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count prospects: %w", err)
	}
	return n, nil
}

func (r *ProspectRepository) CountCorrupted(ctx context.Context) (int, error) {
	where, args := corruptedFilter()
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM prospects`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count corrupted prospects: %w", err)
	}
	return n, nil
}

func (r *ProspectRepository) CorruptedCampaignIDs(ctx context.Context) ([]string, error) {
	where, args := corruptedFilter()
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT campaign_id FROM prospects`+where+` ORDER BY campaign_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("corrupted campaigns: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type repairRow struct {
	id         string
	campaignID string
	contactAt  time.Time
}

func (r *ProspectRepository) RepairCorrupted(ctx context.Context, at time.Time) (int, []string, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin repair: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	where, args := corruptedFilter()
	rows, err := tx.QueryContext(ctx, `SELECT `+prospectColumns+` FROM prospects`+where+` ORDER BY id`, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("select corrupted prospects: %w", err)
	}

	// Collect before writing; SQLite runs on a single connection.
	var pending []repairRow
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			rows.Close()
			return 0, nil, err
		}
		pending = append(pending, repairRow{id: p.ID, campaignID: p.CampaignID, contactAt: bestContactTime(p)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, nil, err
	}
	rows.Close()

	fixed := 0
	seen := map[string]bool{}
	campaigns := []string{}
	update := `
		UPDATE prospects
		SET contacted_at=$1, version=version+1, updated_at=$2
		WHERE id=$3 AND contacted_at IS NULL
	`
	for _, row := range pending {
		res, err := tx.ExecContext(ctx, update, row.contactAt, at, row.id)
		if err != nil {
			return 0, nil, fmt.Errorf("repair prospect %s: %w", row.id, err)
		}
		ok, err := affected(res)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			continue
		}
		fixed++
		if !seen[row.campaignID] {
			seen[row.campaignID] = true
			campaigns = append(campaigns, row.campaignID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit repair: %w", err)
	}
	slices.Sort(campaigns)
	return fixed, campaigns, nil
}

// bestContactTime prefers the earliest recorded contact in the audit trail,
// then the last send, then the row's own update time.
func bestContactTime(p *model.Prospect) time.Time {
	if t, ok := p.FunnelTracking.EarliestContact(); ok {
		return model.Timestamp(t)
	}
	if p.LastMessageSentAt != nil {
		return model.Timestamp(*p.LastMessageSentAt)
	}
	return model.Timestamp(p.UpdatedAt)
}

var _ ProspectRepositoryInterface = (*ProspectRepository)(nil)
