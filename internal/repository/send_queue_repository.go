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

type SendQueueRepositoryInterface interface {
	// Enqueue is idempotent per (prospect, step): an existing pending or
	// in-flight record is returned with created=false.
	Enqueue(ctx context.Context, rec *model.SendQueueRecord) (created bool, err error)
	Insert(ctx context.Context, rec *model.SendQueueRecord) error
	GetByID(ctx context.Context, id string) (*model.SendQueueRecord, error)
	// Claim moves a pending record to sending. It reports false when the
	// record is no longer pending, so exactly one caller wins.
	Claim(ctx context.Context, id string) (bool, error)
	// Release returns a claimed record to pending.
	Release(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, lastError string) error

	DuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error)
	// StatusCounts groups records by status; an empty campaignID covers all campaigns.
	StatusCounts(ctx context.Context, campaignID string) (map[string]int, error)
}

type SendQueueRepository struct {
	DB *sql.DB
}

const sendQueueColumns = `id, prospect_id, campaign_id, step, content, status, last_error, retry_count, created_at, updated_at`

func scanSendRecord(row scanner) (*model.SendQueueRecord, error) {
	var rec model.SendQueueRecord
	err := row.Scan(&rec.ID, &rec.ProspectID, &rec.CampaignID, &rec.Step, &rec.Content,
		&rec.Status, &rec.LastError, &rec.RetryCount, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SendQueueRepository) Enqueue(ctx context.Context, rec *model.SendQueueRecord) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + sendQueueColumns + ` FROM send_queue
		WHERE prospect_id=$1 AND step=$2 AND status IN ($3, $4)
		ORDER BY created_at LIMIT 1`
	existing, err := scanSendRecord(tx.QueryRowContext(ctx, query, rec.ProspectID, rec.Step, model.SendPending, model.SendSending))
	switch {
	case err == nil:
		*rec = *existing
		return false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("check pending send: %w", err)
	}

	if err := insertSendRecord(ctx, tx, rec); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit enqueue: %w", err)
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSendRecord(ctx context.Context, db execer, rec *model.SendQueueRecord) error {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.Status == "" {
		rec.Status = model.SendPending
	}
	now := model.Timestamp(time.Now())
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO send_queue (` + sendQueueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.ExecContext(ctx, query, rec.ID, rec.ProspectID, rec.CampaignID, rec.Step, rec.Content,
		rec.Status, rec.LastError, rec.RetryCount, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert send record: %w", err)
	}
	return nil
}

// Insert writes rec without the pending check. Used by seeding and imports.
func (r *SendQueueRepository) Insert(ctx context.Context, rec *model.SendQueueRecord) error {
	return insertSendRecord(ctx, r.DB, rec)
}

func (r *SendQueueRepository) GetByID(ctx context.Context, id string) (*model.SendQueueRecord, error) {
	query := `SELECT ` + sendQueueColumns + ` FROM send_queue WHERE id=$1`
	rec, err := scanSendRecord(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("send_record", id)
		}
		return nil, fmt.Errorf("get send record %s: %w", id, err)
	}
	return rec, nil
}

func (r *SendQueueRepository) Claim(ctx context.Context, id string) (bool, error) {
	query := `UPDATE send_queue SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`
	res, err := r.DB.ExecContext(ctx, query, model.SendSending, model.Timestamp(time.Now()), id, model.SendPending)
	if err != nil {
		return false, fmt.Errorf("claim send record %s: %w", id, err)
	}
	return affected(res)
}

func (r *SendQueueRepository) Release(ctx context.Context, id string) error {
	query := `UPDATE send_queue SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`
	_, err := r.DB.ExecContext(ctx, query, model.SendPending, model.Timestamp(time.Now()), id, model.SendSending)
	if err != nil {
		return fmt.Errorf("release send record %s: %w", id, err)
	}
	return nil
}

func (r *SendQueueRepository) MarkSent(ctx context.Context, id string) error {
	query := `UPDATE send_queue SET status=$1, last_error='', updated_at=$2 WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, model.SendSent, model.Timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark send record %s sent: %w", id, err)
	}
	return nil
}

func (r *SendQueueRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	query := `UPDATE send_queue SET status=$1, last_error=$2, retry_count=retry_count+1, updated_at=$3 WHERE id=$4`
	_, err := r.DB.ExecContext(ctx, query, model.SendFailed, lastError, model.Timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark send record %s failed: %w", id, err)
	}
	return nil
}

func (r *SendQueueRepository) DuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	query := `
		SELECT prospect_id, step, COUNT(*)
		FROM send_queue
		WHERE status=$1
		GROUP BY prospect_id, step
		HAVING COUNT(*) > 1
		ORDER BY prospect_id, step
	`
	rows, err := r.DB.QueryContext(ctx, query, model.SendPending)
	if err != nil {
		return nil, fmt.Errorf("duplicate groups: %w", err)
	}
	defer rows.Close()

	groups := []model.DuplicateGroup{}
	for rows.Next() {
		var g model.DuplicateGroup
		if err := rows.Scan(&g.ProspectID, &g.Step, &g.Count); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *SendQueueRepository) StatusCounts(ctx context.Context, campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM send_queue`
	var args []any
	if campaignID != "" {
		query += ` WHERE campaign_id=$1`
		args = append(args, campaignID)
	}
	query += ` GROUP BY status`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("send queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		string(model.SendPending): 0,
		string(model.SendSending): 0,
		string(model.SendSent):    0,
		string(model.SendFailed):  0,
	}
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

var _ SendQueueRepositoryInterface = (*SendQueueRepository)(nil)
