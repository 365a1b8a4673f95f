// Copyright 2024-2026 Aiku AI

// Package store persists relay statistics and message templates in SQLite
// or Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store/upgrades"
)

const owner = "mattermost-relay"

// Config selects the database.
type Config struct {
	Type string `yaml:"type"`
	URI  string `yaml:"uri"`
}

// Store is the relay database.
type Store struct {
	db  *dbutil.Database
	log zerolog.Logger
	now func() time.Time
}

var (
	_ relay.StatsRecorder  = (*Store)(nil)
	_ relay.TemplateSource = (*Store)(nil)
)

// Open connects to the database described by cfg. Call Upgrade before use.
func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	db, err := dbutil.NewWithDialect(cfg.URI, cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}
	return newStore(db, log), nil
}

// NewWithDB wraps an existing dbutil database.
func NewWithDB(db *dbutil.Database, log zerolog.Logger) *Store {
	return newStore(db, log)
}

func newStore(db *dbutil.Database, log zerolog.Logger) *Store {
	log = log.With().Str("component", "store").Logger()
	db.Owner = owner
	db.UpgradeTable = upgrades.Table
	db.Log = dbutil.ZeroLogger(log)
	return &Store{db: db, log: log, now: time.Now}
}

// Upgrade applies pending schema migrations.
func (s *Store) Upgrade(ctx context.Context) error {
	if err := s.db.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
