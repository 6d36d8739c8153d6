package app

import (
	"fmt"

	"protoline/internal/config"
	"protoline/internal/db"
	"protoline/internal/engine"
	"protoline/internal/migrate"
	"protoline/internal/store"
)

// Env bundles everything a command or test needs to talk to the core.
type Env struct {
	Store  *store.Store
	Engine engine.Engine
	Config *config.Config
}

// Open prepares a workspace: ensures the directory, opens the database,
// applies migrations, loads routing config and builds the engine. The caller
// owns Close.
func Open(workspace string) (*Env, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	st := store.New(conn)
	return &Env{
		Store:  st,
		Engine: engine.New(st, cfg),
		Config: cfg,
	}, nil
}

// Close releases the store connection.
func (e *Env) Close() error {
	return e.Store.Close()
}
