package data_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purplemerit/collab-jobs/internal/data"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
	"github.com/purplemerit/collab-jobs/internal/testutil"
)

func TestWorkspaceRepoGetByID(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := data.NewWorkspaceRepo(db)
		seed := testutil.SeedWorkspace(t, db)

		workspace, err := repo.GetByID(context.Background(), seed.WorkspaceID)
		require.NoError(t, err)
		assert.Equal(t, seed.WorkspaceID, workspace.ID)
		assert.Equal(t, seed.ProjectID, workspace.ProjectID)
		assert.Equal(t, "test workspace", workspace.Name)

		_, err = repo.GetByID(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, data.ErrWorkspaceNotFound)
	})
}

func TestMembershipRepoGetByProjectAndUser(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := data.NewMembershipRepo(db)
		seed := testutil.SeedWorkspace(t, db)

		viewerID := uuid.NewString()
		testutil.SeedMember(t, db, seed.ProjectID, viewerID, model.RoleViewer)

		owner, err := repo.GetByProjectAndUser(context.Background(), seed.ProjectID, seed.OwnerID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleOwner, owner.Role)

		viewer, err := repo.GetByProjectAndUser(context.Background(), seed.ProjectID, viewerID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleViewer, viewer.Role)

		_, err = repo.GetByProjectAndUser(context.Background(), seed.ProjectID, uuid.NewString())
		assert.ErrorIs(t, err, data.ErrMembershipNotFound)
	})
}
