// Package app wires the workspace pieces the CLI needs: config
// resolution, the SQLite database, migrations and the engine.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/engine"
	"trackline/internal/migrate"
)

// Context bundles an opened workspace.
type Context struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
}

// Open resolves the workspace config, opens the database, runs pending
// migrations and builds the engine. A missing config file falls back to
// the defaults for projectName.
func Open(ctx context.Context, workspace, projectName string) (*Context, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(projectName)
	}
	if projectName != "" {
		cfg.Project.Name = projectName
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Context{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg),
	}, nil
}

// Seed ensures the configured project exists.
func (c *Context) Seed(ctx context.Context, actorID string) error {
	_, err := c.Engine.InitProject(ctx, actorID)
	return err
}

func (c *Context) Close() error {
	return c.DB.Close()
}
