// Package storage selects the durable page store backend.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	"github.com/DavidLozzi/starwars-graph/internal/storage/memory"
	"github.com/DavidLozzi/starwars-graph/internal/storage/postgres"
	"github.com/DavidLozzi/starwars-graph/internal/storage/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver          string
	DSN             string
	Path            string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	CreateSchema    bool
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (crawler.PageStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, "":
		store, err := postgres.NewPageStore(ctx, postgres.PageStoreConfig{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			CreateSchema:    cfg.CreateSchema,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Path, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case DriverMemory:
		return memory.NewPageStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}
