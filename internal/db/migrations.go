// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"embed"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/go-gorp/gorp"
)

// Migration files applied to the schema before the service starts.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrater applies pending schema migrations.
type Migrater interface {
	Migrate() error
}

type migrater struct {
	migrations map[string]string
	db         DB
}

// NewMigrater builds a migrater from the SQL files embedded in the binary,
// following the teacher's internal/db/migrations.go.
func NewMigrater(d DB) Migrater {
	migrations := map[string]string{}
	files, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		panic(err)
	}
	for _, file := range files {
		if file.IsDir() {
			panic("migrations directory contains a directory")
		}
		content, err := migrationFiles.ReadFile("migrations/" + file.Name())
		if err != nil {
			panic(err)
		}
		migrations[file.Name()] = string(content)
	}
	return &migrater{db: d, migrations: migrations}
}

// Migrate runs every migration not yet recorded in the migrations table,
// ordered by file name, inside a single transaction.
func (m *migrater) Migrate() error {
	names := make([]string, 0, len(m.migrations))
	for name := range m.migrations {
		names = append(names, name)
	}
	sort.Strings(names)

	table := m.db.DbMap.AddTableWithName(Migration{}, Migration{}.TableName()).SetKeys(false, "FileName")
	AddIndexes(table, Migration{})
	if err := m.db.DbMap.CreateTablesIfNotExists(); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var executed []string
	if _, err := m.db.DbMap.Select(&executed, "SELECT file_name FROM "+Migration{}.TableName()); err != nil {
		return fmt.Errorf("listing executed migrations: %w", err)
	}
	var pending []string
	for _, name := range names {
		if slices.Contains(executed, name) {
			continue
		}
		pending = append(pending, name)
	}
	if len(pending) == 0 {
		slog.Info("no pending migrations")
		return nil
	}

	tx, err := m.db.DbMap.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	for _, name := range pending {
		slog.Info("executing migration", "fileName", name)
		if _, err := tx.Exec(m.render(m.migrations[name])); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if err := tx.Insert(&Migration{FileName: name}); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migrations: %w", err)
	}
	slog.Info("migrations executed", "count", len(pending))
	return nil
}

// render substitutes dialect-specific SQL for the portable tokens migration
// files use, since the same .sql file runs against both postgres
// (production, lib/pq) and sqlite (tests, mattn/go-sqlite3) and the two
// engines spell auto-incrementing primary keys differently.
func (m *migrater) render(sql string) string {
	pk := "BIGSERIAL PRIMARY KEY"
	if _, ok := m.db.Dialect.(gorp.SqliteDialect); ok {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return strings.ReplaceAll(sql, "{{PK}}", pk)
}
