// Package app wires config, store, engine and HTTP handler together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
	"taskboard/internal/repo/mongorepo"
	"taskboard/internal/server"
)

// App is a fully wired task board backend.
type App struct {
	Config  *config.Config
	Store   repo.Store
	Engine  engine.Engine
	Handler http.Handler
}

// OpenStore opens the backend selected by store.driver. SQLite databases are
// migrated before use.
func OpenStore(ctx context.Context, workspace string, cfg *config.Config) (repo.Store, error) {
	switch cfg.Store.Driver {
	case "", config.DriverSQLite:
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return repo.Repo{DB: conn}, nil
	case config.DriverMongo:
		store, err := mongorepo.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Schema is the migration state of a workspace database.
type Schema struct {
	Driver  string `json:"driver"`
	Version int    `json:"version"`
	Latest  int    `json:"latest"`
}

// SchemaStatus reports the SQLite schema version without migrating or
// creating the database. Mongo stores carry no schema version.
func SchemaStatus(ctx context.Context, workspace string, cfg *config.Config) (Schema, error) {
	s := Schema{Driver: cfg.Store.Driver}
	if s.Driver == "" {
		s.Driver = config.DriverSQLite
	}
	if s.Driver != config.DriverSQLite {
		return s, nil
	}
	latest, err := migrate.Latest()
	if err != nil {
		return s, err
	}
	s.Latest = latest
	if _, err := os.Stat(db.Path(workspace)); errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return s, err
	}
	defer conn.Close()
	if s.Version, err = migrate.Version(ctx, conn); err != nil {
		return s, err
	}
	return s, nil
}

// New loads the workspace config and builds the backend on top of it.
func New(ctx context.Context, workspace string, logger *log.Logger) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return FromConfig(ctx, workspace, cfg, logger)
}

// FromConfig builds the backend from an already loaded config.
func FromConfig(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*App, error) {
	store, err := OpenStore(ctx, workspace, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	e := engine.New(store, cfg)
	e.Logger = logger
	if e.Credentials.Len() == 0 {
		logger.Printf("warning: no users configured; set %s", config.EnvAllowedUsers)
	}
	handler, err := server.New(server.ConfigFrom(e, cfg))
	if err != nil {
		store.Close()
		return nil, err
	}
	return &App{Config: cfg, Store: store, Engine: e, Handler: handler}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
