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

// MembershipRepo resolves a user's role within a project. The job pipeline
// uses it only for authorization checks on submission and status reads.
type MembershipRepo struct {
	DB *sql.DB
}

// NewMembershipRepo constructs a MembershipRepo.
func NewMembershipRepo(db *sql.DB) *MembershipRepo {
	return &MembershipRepo{DB: db}
}

// GetByProjectAndUser retrieves a membership record for a user in a project.
func (r *MembershipRepo) GetByProjectAndUser(
	ctx context.Context,
	projectID, userID string,
) (*model.ProjectMember, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrMembershipNotFound
	}

	var member *model.ProjectMember
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, project_id, user_id, role, invited_at
			FROM project_members
			WHERE project_id = $1 AND user_id = $2
		`, projectID, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.ProjectMember])
		if err != nil {
			return err
		}
		member = &collected
		return nil
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project membership: %w", err)
	}
	return member, nil
}
