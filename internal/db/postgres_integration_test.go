// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
)

// postgresContainer spins up an ephemeral postgres for integration tests,
// in the shape of the teacher's testlib/db/containers.PostgresContainer.
type postgresContainer struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource
}

func (c *postgresContainer) start(t *testing.T) conf.DBConfig {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available, skipping postgres integration test: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker daemon not reachable, skipping postgres integration test: %v", err)
	}
	c.pool = pool
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=rebalancer",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start postgres container: %v", err)
	}
	c.resource = resource
	if err := c.resource.Expire(60); err != nil {
		log.Printf("could not set container expiration: %v", err)
	}
	t.Cleanup(func() {
		if err := c.pool.Purge(c.resource); err != nil {
			log.Printf("could not purge postgres container: %v", err)
		}
	})

	cfg := conf.DBConfig{
		Host:     "localhost",
		Port:     mustAtoi(resource.GetPort("5432/tcp")),
		User:     "postgres",
		Password: "secret",
		Database: "rebalancer",
	}
	var d DB
	if err := c.pool.Retry(func() error {
		var pingErr error
		d, pingErr = NewPostgresDB(cfg)
		return pingErr
	}); err != nil {
		t.Fatalf("postgres not ready in time: %v", err)
	}
	_ = d.Close()
	return cfg
}

func mustAtoi(s string) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}

// TestStoreAgainstPostgres runs the same host/rule round-trip the sqlite
// unit tests use, but against a real postgres, to catch dialect drift
// (gorp.PostgresDialect vs gorp.SqliteDialect) that in-memory sqlite tests
// can't. Runs by default; skipped when REBALANCER_SKIP_DOCKER_TESTS is set
// or when Docker isn't reachable (e.g. CI sandboxes without a daemon).
func TestStoreAgainstPostgres(t *testing.T) {
	if os.Getenv("REBALANCER_SKIP_DOCKER_TESTS") != "" {
		t.Skip("REBALANCER_SKIP_DOCKER_TESTS set")
	}
	var c postgresContainer
	cfg := c.start(t)

	d, err := NewPostgresDB(cfg)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	defer func() { _ = d.Close() }()

	migrater := NewMigrater(d)
	if err := migrater.Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	store := NewStore(d)

	host := Host{HypervisorHostname: "compute1", Active: true, VCPUs: 16}
	if err := store.DbMap.Insert(&host); err != nil {
		t.Fatalf("inserting host: %v", err)
	}

	hosts, err := store.ListHosts(HostFilter{}, false)
	if err != nil {
		t.Fatalf("listing hosts: %v", err)
	}
	if len(hosts) != 1 || hosts[0].HypervisorHostname != "compute1" {
		t.Fatalf("expected compute1, got %+v", hosts)
	}

	rule := Rule{Type: "host", Value: "^compute1$", Allow: false}
	if err := store.DbMap.Insert(&rule); err != nil {
		t.Fatalf("inserting rule: %v", err)
	}
	rules, err := store.ListRules()
	if err != nil {
		t.Fatalf("listing rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Value != "^compute1$" {
		t.Fatalf("expected one rule, got %+v", rules)
	}
}
