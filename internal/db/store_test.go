// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import "testing"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := NewSqliteDB(":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	migrater := NewMigrater(d)
	if err := migrater.Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewStore(d)
}

func TestListHostsFiltersDeletedAndAllowlist(t *testing.T) {
	store := newTestStore(t)
	for _, h := range []Host{
		{HypervisorHostname: "compute1", Active: true},
		{HypervisorHostname: "compute2", Active: true},
		{HypervisorHostname: "compute3", Active: true, Deleted: true},
	} {
		if err := store.DbMap.Insert(&h); err != nil {
			t.Fatalf("inserting host: %v", err)
		}
	}

	hosts, err := store.ListHosts(HostFilter{AllowedHostnames: []string{"compute1"}}, false)
	if err != nil {
		t.Fatalf("listing hosts: %v", err)
	}
	if len(hosts) != 1 || hosts[0].HypervisorHostname != "compute1" {
		t.Fatalf("expected only compute1, got %+v", hosts)
	}
}

func TestUpsertHostMeanAverages(t *testing.T) {
	store := newTestStore(t)
	if err := store.UpsertHostMean("compute1", 100, 0.5); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertHostMean("compute1", 200, 0.7); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var mean HostMean
	if err := store.DbMap.SelectOne(&mean, "SELECT * FROM compute_node_stats_mean WHERE hypervisor_hostname = 'compute1'"); err != nil {
		t.Fatalf("reading mean: %v", err)
	}
	if mean.Samples != 2 {
		t.Fatalf("expected 2 samples, got %d", mean.Samples)
	}
	if mean.MemoryUsed != 150 {
		t.Fatalf("expected averaged memory 150, got %v", mean.MemoryUsed)
	}
}

func TestGCStatsDeletesOldSamples(t *testing.T) {
	store := newTestStore(t)
	old := int64(100)
	fresh := int64(1000)
	for _, s := range []InstanceStat{
		{InstanceUUID: "a", UpdatedAt: &old},
		{InstanceUUID: "b", UpdatedAt: &fresh},
	} {
		if err := store.DbMap.Insert(&s); err != nil {
			t.Fatalf("inserting instance stat: %v", err)
		}
	}

	deleted, err := store.GCStats(500)
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row deleted, got %d", deleted)
	}
	remaining, err := store.ListInstances(InstanceFilter{})
	if err != nil {
		t.Fatalf("listing instances: %v", err)
	}
	if len(remaining) != 1 || remaining[0].InstanceUUID != "b" {
		t.Fatalf("expected only b to remain, got %+v", remaining)
	}
}

func TestRuleCRUD(t *testing.T) {
	store := newTestStore(t)
	rule := Rule{Type: "host", Value: "compute1", Allow: false}
	if err := store.CreateRule(&rule); err != nil {
		t.Fatalf("creating rule: %v", err)
	}
	if rule.ID == 0 {
		t.Fatal("expected auto-assigned id")
	}

	got, err := store.GetRule(rule.ID)
	if err != nil {
		t.Fatalf("getting rule: %v", err)
	}
	if got.Value != "compute1" {
		t.Fatalf("unexpected rule: %+v", got)
	}

	if err := store.DeleteRule(rule.ID, 123); err != nil {
		t.Fatalf("deleting rule: %v", err)
	}
	if _, err := store.GetRule(rule.ID); err == nil {
		t.Fatal("expected deleted rule to be invisible to GetRule")
	}
}
