// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package underload

import (
	"context"
	"errors"
	"testing"

	"github.com/cobaltcore-dev/rebalancer/internal/balancer"
	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/orchestrator"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
	"github.com/cobaltcore-dev/rebalancer/internal/threshold"
)

type fakeWOL struct {
	woken []string
	err   error
}

func (f *fakeWOL) Wake(mac string) error {
	if f.err != nil {
		return f.err
	}
	f.woken = append(f.woken, mac)
	return nil
}

func newTestController(t *testing.T) (*Controller, *db.Store, *fakeWOL) {
	t.Helper()
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
	bal := balancer.New(view, store, orch, conf.WeightsConfig{MemoryWeight: 1, IOWeight: 1}, []string{"Compute"}, 10)
	wolFake := &fakeWOL{}
	cfg := Config{ThresholdCPU: 0.05, ThresholdMemory: 0.05, UnsuspendCPU: 0.40, UnsuspendMemory: 0.40}
	return New(view, store, orch, bal, wolFake, cfg), store, wolFake
}

func TestIndicateSkipsToWakeCheckForSingleHostCluster(t *testing.T) {
	c, store, wolFake := newTestController(t)
	mac := "AA:BB:CC:DD:EE:FF"
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "only", SuspendState: db.SuspendStateSuspended, MACToWake: &mac}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	loads := []threshold.Load{{Hostname: "only", CPU: 0.9, Mem: 0.9}}
	err := c.Indicate(context.Background(), loads, balancer.Extra{CPUMean: 0.9, RAMMean: 0.9})
	if err != nil {
		t.Fatalf("indicate: %v", err)
	}
	if len(wolFake.woken) != 1 {
		t.Fatalf("expected wake-check to wake the only suspended host, got %+v", wolFake.woken)
	}
}

func TestSuspendRejectsNonActiveHost(t *testing.T) {
	c, store, _ := newTestController(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "h1", SuspendState: db.SuspendStateSuspending}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	_, err := c.Suspend(context.Background(), "h1")
	if !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
}

func TestSuspendRollsBackWhenDrainInfeasible(t *testing.T) {
	c, store, _ := newTestController(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "h1", Active: true, ServiceUp: true, SuspendState: db.SuspendStateActive}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	ok, err := c.Suspend(context.Background(), "h1")
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if ok {
		t.Fatal("expected suspend to report infeasible drain as false")
	}
	hosts, err := store.ListHosts(db.HostFilter{}, false)
	if err != nil {
		t.Fatalf("listing hosts: %v", err)
	}
	if hosts[0].SuspendState != db.SuspendStateActive {
		t.Fatalf("expected rollback to active, got %s", hosts[0].SuspendState)
	}
}

func TestUnsuspendRejectsNonSuspendedHost(t *testing.T) {
	c, store, _ := newTestController(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "h1", SuspendState: db.SuspendStateActive}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	err := c.Unsuspend(context.Background(), "h1")
	if !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
}

func TestUnsuspendTransitionsToActiveOnSuccessfulWake(t *testing.T) {
	c, store, wolFake := newTestController(t)
	mac := "AA:BB:CC:DD:EE:FF"
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "h1", SuspendState: db.SuspendStateSuspended, MACToWake: &mac}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	if err := c.Unsuspend(context.Background(), "h1"); err != nil {
		t.Fatalf("unsuspend: %v", err)
	}
	if len(wolFake.woken) != 1 || wolFake.woken[0] != mac {
		t.Fatalf("expected wake-on-lan sent to %s, got %+v", mac, wolFake.woken)
	}
	hosts, err := store.ListHosts(db.HostFilter{}, false)
	if err != nil {
		t.Fatalf("listing hosts: %v", err)
	}
	if hosts[0].SuspendState != db.SuspendStateActive {
		t.Fatalf("expected host to be active, got %s", hosts[0].SuspendState)
	}
}
