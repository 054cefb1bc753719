package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type WorkspaceRepositoryInterface interface {
	AddMember(ctx context.Context, workspaceID, userID string) error
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

type WorkspaceRepository struct {
	DB *sql.DB
}

func (r *WorkspaceRepository) AddMember(ctx context.Context, workspaceID, userID string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id) VALUES ($1, $2)`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("add workspace member: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("workspace membership: %w", err)
	}
	return count > 0, nil
}

var _ WorkspaceRepositoryInterface = (*WorkspaceRepository)(nil)
