package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"issueflow/internal/config"
	"issueflow/internal/db"
	"issueflow/internal/engine"
	"issueflow/internal/logging"
	"issueflow/internal/memstore"
	"issueflow/internal/migrate"
	"issueflow/internal/report"
	"issueflow/internal/repo"
	"issueflow/internal/store"
	"issueflow/internal/telemetry"
)

// Version is stamped into telemetry resources.
var Version = "dev"

// App holds the wired components for one workspace.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  store.Store
	Engine engine.Engine
	Reader report.Reader

	closers []func(context.Context) error
}

// Open wires config -> logger -> telemetry -> store -> engine. cfg may be
// nil, in which case the workspace's issueflow.yml (or the defaults) is used.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*App, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Load(workspace); err != nil {
			return nil, err
		}
	}
	a := &App{Config: cfg}
	logger, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, err
	}
	a.Logger = logger
	a.onClose(closeWith(logCloser))

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		Stdout:       cfg.Telemetry.Stdout,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	}, Version)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.onClose(shutdown)

	s, err := openStore(ctx, workspace, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.onClose(func(context.Context) error { return s.Close() })
	a.Store = telemetry.Wrap(s, cfg.Telemetry.Enabled)

	a.Engine = engine.New(a.Store, logger)
	a.Reader = report.New(a.Store)
	a.Reader.WindowDays = cfg.Reports.WindowDays
	a.Reader.TopLimit = cfg.Reports.TopLimit
	return a, nil
}

func openStore(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		return memstore.New(), nil
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Storage.Path})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		logger.Info("applied migration", "name", name)
	}
	return repo.New(conn), nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

// ResolveProject picks the active project: the override when given,
// otherwise the only project in the store.
func ResolveProject(ctx context.Context, dir store.Directory, override string) (string, error) {
	if override != "" {
		if _, err := dir.GetProject(ctx, override); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", fmt.Errorf("project %s not found", override)
			}
			return "", err
		}
		return override, nil
	}
	projects, err := dir.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	switch len(projects) {
	case 0:
		return "", fmt.Errorf("no project exists; create one with issueflow project create")
	case 1:
		return projects[0].ID, nil
	}
	return "", fmt.Errorf("multiple projects exist; specify --project")
}
