// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package balancer

import (
	"context"
	"testing"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/orchestrator"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
)

func newTestBalancer(t *testing.T) (*Balancer, *db.Store, *orchestrator.Fake) {
	t.Helper()
	d, err := db.NewSqliteDB(":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	migrater := db.NewMigrater(d)
	if err := migrater.Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	store := db.NewStore(d)
	view := statistics.NewView(store)
	orch := orchestrator.NewFake()
	weights := conf.WeightsConfig{MemoryWeight: 1, IOWeight: 1}
	b := New(view, store, orch, weights, []string{"RealRam", "Compute"}, 10)
	return b, store, orch
}

func TestBalancePicksLowestWeightInstanceAndBestDestination(t *testing.T) {
	b, store, orch := newTestBalancer(t)

	for _, h := range []db.Host{
		{HypervisorHostname: "victim", MemoryTotal: 1000, MemoryUsed: 500, Active: true, ServiceUp: true},
		{HypervisorHostname: "dest", MemoryTotal: 1000, MemoryUsed: 100, Active: true, ServiceUp: true},
	} {
		if err := store.DbMap.Insert(&h); err != nil {
			t.Fatalf("inserting host: %v", err)
		}
	}
	updatedAt, prevUpdatedAt := int64(20), int64(10)
	inst := db.InstanceStat{
		InstanceUUID: "vm-1", Host: "victim", VCPUs: 1, VMState: "active",
		CPUTime: 15_000_000, PrevCPUTime: 10_000_000,
		UpdatedAt: &updatedAt, PrevUpdatedAt: &prevUpdatedAt,
		Mem: 512,
	}
	if err := store.DbMap.Insert(&inst); err != nil {
		t.Fatalf("inserting instance: %v", err)
	}

	migration, err := b.Balance(context.Background(), "victim", Extra{})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if migration.Noop {
		t.Fatal("expected a migration, got noop")
	}
	if migration.InstanceUUID != "vm-1" {
		t.Fatalf("expected vm-1 selected, got %s", migration.InstanceUUID)
	}
	if migration.Destination != "dest" {
		t.Fatalf("expected dest as destination, got %s", migration.Destination)
	}
	if len(orch.LiveMigrateCalls) != 1 {
		t.Fatalf("expected exactly one live-migrate RPC, got %d", len(orch.LiveMigrateCalls))
	}
}

func TestBalanceNoopWhenNoInstancesOnVictim(t *testing.T) {
	b, store, _ := newTestBalancer(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "victim", Active: true, ServiceUp: true}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	migration, err := b.Balance(context.Background(), "victim", Extra{})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !migration.Noop {
		t.Fatal("expected noop when victim has no candidate instances")
	}
}

// TestBalanceNoopWhenEveryDestinationWorsensSD covers testable property 4
// (§8): if no destination strictly reduces SD, Balance must emit noop
// rather than migrating to the least-bad surviving host. dest already
// carries most of the cluster's load, so moving victim's only instance
// there would only increase the spread.
func TestBalanceNoopWhenEveryDestinationWorsensSD(t *testing.T) {
	b, store, _ := newTestBalancer(t)
	for _, h := range []db.Host{
		{HypervisorHostname: "victim", MemoryTotal: 1000, MemoryUsed: 200, Active: true, ServiceUp: true},
		{HypervisorHostname: "dest", MemoryTotal: 1000, MemoryUsed: 900, Active: true, ServiceUp: true},
	} {
		if err := store.DbMap.Insert(&h); err != nil {
			t.Fatalf("inserting host: %v", err)
		}
	}
	prev, updated := int64(1), int64(11)
	moving := db.InstanceStat{
		InstanceUUID: "vm-moving", Host: "victim", VCPUs: 1, VMState: "active",
		CPUTime: 10_000_001, PrevCPUTime: prev, PrevUpdatedAt: &prev, UpdatedAt: &updated,
		Mem: 50,
	}
	anchor := db.InstanceStat{
		InstanceUUID: "vm-anchor", Host: "dest", VCPUs: 1, VMState: "active",
		CPUTime: 90_000_001, PrevCPUTime: prev, PrevUpdatedAt: &prev, UpdatedAt: &updated,
		Mem: 900,
	}
	if err := store.DbMap.Insert(&moving); err != nil {
		t.Fatalf("inserting instance: %v", err)
	}
	if err := store.DbMap.Insert(&anchor); err != nil {
		t.Fatalf("inserting instance: %v", err)
	}

	migration, err := b.Balance(context.Background(), "victim", Extra{})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !migration.Noop {
		t.Fatalf("expected noop when every destination worsens SD, got %+v", migration)
	}
}

// TestBalanceExcludesDestinationOverMigrationCap proves InProgressByDest
// counts actually come from the orchestrator (internal/orchestrator's
// CountInProgressMigrations), not an always-empty map: dest-busy would
// otherwise win on SD score alone, but two in-progress migrations into
// it exceed maxMigrations=1, so the MaxMigrations filter must exclude
// it and the balancer falls through to dest-free instead.
func TestBalanceExcludesDestinationOverMigrationCap(t *testing.T) {
	d, err := db.NewSqliteDB(":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := db.NewMigrater(d).Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	store := db.NewStore(d)
	view := statistics.NewView(store)
	orch := orchestrator.NewFake()
	weights := conf.WeightsConfig{MemoryWeight: 1, IOWeight: 1}
	b := New(view, store, orch, weights, []string{"RealRam", "Compute", "MaxMigrations"}, 1)

	for _, h := range []db.Host{
		{HypervisorHostname: "victim", MemoryTotal: 1000, MemoryUsed: 500, Active: true, ServiceUp: true},
		{HypervisorHostname: "dest-busy", MemoryTotal: 2000, MemoryUsed: 100, Active: true, ServiceUp: true},
		{HypervisorHostname: "dest-free", MemoryTotal: 1200, MemoryUsed: 100, Active: true, ServiceUp: true},
	} {
		if err := store.DbMap.Insert(&h); err != nil {
			t.Fatalf("inserting host: %v", err)
		}
	}
	prev, updated := int64(1), int64(11)
	inst := db.InstanceStat{
		InstanceUUID: "vm-1", Host: "victim", VCPUs: 1, VMState: "active",
		CPUTime: 40_000_001, PrevCPUTime: prev, PrevUpdatedAt: &prev, UpdatedAt: &updated,
		Mem: 100,
	}
	if err := store.DbMap.Insert(&inst); err != nil {
		t.Fatalf("inserting instance: %v", err)
	}
	orch.AllInProgress = []orchestrator.Migration{
		{InstanceUUID: "other-1", Source: "elsewhere", Destination: "dest-busy", Status: orchestrator.MigrationRunning},
		{InstanceUUID: "other-2", Source: "elsewhere", Destination: "dest-busy", Status: orchestrator.MigrationRunning},
	}

	migration, err := b.Balance(context.Background(), "victim", Extra{})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if migration.Noop {
		t.Fatalf("expected a migration to dest-free, got noop")
	}
	if migration.Destination != "dest-free" {
		t.Fatalf("expected dest-busy excluded by its migration cap, got destination %s", migration.Destination)
	}
}

func TestMigrateAllFromColdMigratesStoppedInstances(t *testing.T) {
	b, store, orch := newTestBalancer(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "victim", Active: true, ServiceUp: true}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	if err := store.DbMap.Insert(&db.InstanceStat{InstanceUUID: "vm-stopped", Host: "victim", VMState: "stopped"}); err != nil {
		t.Fatalf("inserting instance: %v", err)
	}

	ok, err := b.MigrateAllFrom(context.Background(), "victim")
	if err != nil {
		t.Fatalf("migrate all from: %v", err)
	}
	if !ok {
		t.Fatal("expected at least one migration enqueued")
	}
	if len(orch.ColdMigrateCalls) != 1 || orch.ColdMigrateCalls[0] != "vm-stopped" {
		t.Fatalf("expected one cold migration for vm-stopped, got %+v", orch.ColdMigrateCalls)
	}
}

func TestMigrateAllFromReturnsFalseWhenNothingToMove(t *testing.T) {
	b, store, _ := newTestBalancer(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "victim", Active: true, ServiceUp: true}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	ok, err := b.MigrateAllFrom(context.Background(), "victim")
	if err != nil {
		t.Fatalf("migrate all from: %v", err)
	}
	if ok {
		t.Fatal("expected no migration enqueued when host has no instances")
	}
}
