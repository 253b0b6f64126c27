package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/purplemerit/collab-jobs/internal/data/pgxutil"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// WorkspaceRepo provides the narrow workspace lookup the job pipeline needs.
// Full workspace CRUD lives with the project service, not here.
type WorkspaceRepo struct {
	DB *sql.DB
}

// NewWorkspaceRepo constructs a WorkspaceRepo.
func NewWorkspaceRepo(db *sql.DB) *WorkspaceRepo {
	return &WorkspaceRepo{DB: db}
}

// GetByID retrieves a workspace by its ID.
func (r *WorkspaceRepo) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrWorkspaceNotFound
	}

	var ws *model.Workspace
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, project_id, name, created_at
			FROM workspaces
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Workspace])
		if err != nil {
			return err
		}
		ws = &collected
		return nil
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return ws, nil
}
