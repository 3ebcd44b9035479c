// Package store opens the configured database as a core.Store.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/store/postgres"
	"github.com/JonMunkholm/csvimport/internal/store/sqlite"
)

// Backend is a core.Store that owns a database connection.
type Backend interface {
	core.Store
	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres":
		s, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
