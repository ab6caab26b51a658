// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package db is the persistence layer for hosts, instance stats and rules
// (spec.md §6's "persistent schema"). It wraps gorp.DbMap the way the
// teacher's testlib/db helpers do, so the same model structs run against
// postgres in production and sqlite in tests.
package db

import (
	"database/sql"
	"fmt"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Table is implemented by every persisted model, mirroring the teacher's
// internal/db.Table interface.
type Table interface {
	TableName() string
}

// Index describes a secondary index to create alongside a table.
type Index struct {
	Name        string
	ColumnNames []string
}

// Indexed is implemented by models that need secondary indexes beyond the
// primary key.
type Indexed interface {
	Indexes() []Index
}

// DB wraps a gorp.DbMap. All query methods are gorp's own.
type DB struct {
	*gorp.DbMap
}

// NewPostgresDB connects to postgres using the given configuration and
// pings it once; if that ping fails it returns the error without
// retrying.
func NewPostgresDB(c conf.DBConfig) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database,
	)
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return DB{}, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return DB{}, fmt.Errorf("pinging postgres: %w", err)
	}
	return DB{DbMap: &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}}, nil
}

// NewSqliteDB opens (or creates) a sqlite database at path, used by the
// tests.
func NewSqliteDB(path string) (DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return DB{}, fmt.Errorf("opening sqlite connection: %w", err)
	}
	return DB{DbMap: &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}}, nil
}

// TableExists reports whether the named table is present.
func (d DB) TableExists(t Table) bool {
	var query string
	switch d.Dialect.(type) {
	case gorp.SqliteDialect:
		query = "SELECT name FROM sqlite_master WHERE type='table' AND name = $1"
	default:
		query = "SELECT tablename FROM pg_tables WHERE tablename = $1"
	}
	var name string
	err := d.DbMap.SelectOne(&name, query, t.TableName())
	return err == nil
}

// AddIndexes creates the secondary indexes declared by m via the Indexed
// interface on top of an already-registered *gorp.TableMap.
func AddIndexes(table *gorp.TableMap, m Table) {
	if indexed, ok := m.(Indexed); ok {
		for _, idx := range indexed.Indexes() {
			table.AddIndex(idx.Name, "Btree", idx.ColumnNames)
		}
	}
}

func (d DB) Close() error {
	return d.DbMap.Db.Close()
}
