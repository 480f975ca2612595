package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issueflow/internal/config"
	"issueflow/internal/domain"
	"issueflow/internal/repo"
)

func TestOpenSQLiteWorkspace(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	_, ok := a.Store.(*repo.Repo)
	assert.True(t, ok)
	assert.Equal(t, 30, a.Reader.WindowDays)

	_, err = ResolveProject(ctx, a.Store, "")
	assert.Error(t, err)

	p, err := a.Engine.CreateProject(ctx, domain.Project{Name: "Core"})
	require.NoError(t, err)
	id, err := ResolveProject(ctx, a.Store, "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)

	_, err = a.Engine.CreateProject(ctx, domain.Project{Name: "Ops"})
	require.NoError(t, err)
	_, err = ResolveProject(ctx, a.Store, "")
	assert.Error(t, err)
	id, err = ResolveProject(ctx, a.Store, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)
	_, err = ResolveProject(ctx, a.Store, "missing")
	assert.Error(t, err)
}

func TestOpenMemoryWithTelemetry(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	cfg.Telemetry.Enabled = true
	a, err := Open(ctx, t.TempDir(), cfg)
	require.NoError(t, err)
	_, err = a.Engine.CreateProject(ctx, domain.Project{Name: "Core"})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
}
