// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package driver is the periodic driver (C8): three recurring tasks
// under a single mutex, each idempotent and re-entrant safe, grounded
// on the teacher's knowledge/internal/datasources.Pipeline.SyncPeriodic
// select/sleep/jobloop.DefaultJitter loop, generalised from one task to
// three independently-scheduled ones.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cobaltcore-dev/rebalancer/internal/balancer"
	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/orchestrator"
	"github.com/cobaltcore-dev/rebalancer/internal/rules"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
	"github.com/cobaltcore-dev/rebalancer/internal/threshold"
	"github.com/cobaltcore-dev/rebalancer/internal/underload"
	"github.com/sapcc/go-bits/jobloop"
)

// Driver owns the single mutex every tick runs under (spec.md §5:
// "Shared state across the process ... the rules cache, refreshed at
// the top of each rebalance tick").
type Driver struct {
	view         *statistics.View
	store        *db.Store
	orchestrator orchestrator.API
	balancer     *balancer.Balancer
	underload    *underload.Controller
	strategy     conf.StrategyConfig
	threshold    threshold.Config
	gc           conf.GCConfig
	driverConf   conf.DriverConfig

	mu sync.Mutex
}

func New(
	view *statistics.View,
	store *db.Store,
	orch orchestrator.API,
	bal *balancer.Balancer,
	underloadController *underload.Controller,
	strategy conf.StrategyConfig,
	thresholdCfg conf.ThresholdConfig,
	gc conf.GCConfig,
	driverConf conf.DriverConfig,
) *Driver {
	return &Driver{
		view:         view,
		store:        store,
		orchestrator: orch,
		balancer:     bal,
		underload:    underloadController,
		strategy:     strategy,
		threshold:    threshold.Config{CPU: thresholdCfg.StandardDeviationThresholdCPU, Mem: thresholdCfg.StandardDeviationThresholdMemory},
		gc:           gc,
		driverConf:   driverConf,
	}
}

// Run starts the periodic tasks and blocks until ctx is cancelled. The
// advance-suspensions task only runs when underload is enabled.
func (d *Driver) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Go(func() { d.loop(ctx, "rebalance", time.Duration(d.driverConf.RebalanceTickSeconds)*time.Second, d.RebalanceTick) })
	if d.strategy.EnableUnderload {
		wg.Go(func() {
			d.loop(ctx, "advance-suspensions", time.Duration(d.driverConf.AdvanceSuspensionsTickSeconds)*time.Second, d.AdvanceSuspensionsTick)
		})
	}
	wg.Go(func() { d.loop(ctx, "gc-stats", time.Duration(d.driverConf.GCTickSeconds)*time.Second, d.GCTick) })
	wg.Wait()
}

func (d *Driver) loop(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("driver task shutting down", "task", name)
			return
		default:
			if err := task(ctx); err != nil {
				slog.Error("driver task failed", "task", name, "error", err)
			}
			time.Sleep(jobloop.DefaultJitter(interval))
		}
	}
}

// RebalanceTick is task 1 (spec.md §4.8 step 1): snapshot via C1
// filtered by C2, run C5, route to C6 or C7.
func (d *Driver) RebalanceTick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	allowed, err := d.allowedHostnames()
	if err != nil {
		return err
	}
	hosts, err := d.view.ListHosts(statistics.Filter{AllowedHostnames: allowed})
	if err != nil {
		return err
	}
	loads := make([]threshold.Load, 0, len(hosts))
	for _, h := range hosts {
		instances, err := d.view.ListInstancesOn(h.HypervisorHostname)
		if err != nil {
			return err
		}
		var cpu, mem float64
		for _, inst := range instances {
			cpu += inst.CPUFraction
			mem += float64(inst.Mem)
		}
		if h.MemoryTotal > 0 {
			mem /= float64(h.MemoryTotal)
		}
		loads = append(loads, threshold.Load{Hostname: h.HypervisorHostname, CPU: cpu, Mem: mem})
	}

	decision := threshold.Detect(loads, d.threshold)
	extra := balancer.Extra{CPUOverload: decision.CPUOverload, CPUMean: decision.CPUMean, RAMMean: decision.RAMMean}

	if decision.Overloaded {
		if !d.strategy.EnableBalancer {
			return nil
		}
		_, err := d.balancer.Balance(ctx, decision.Victim, extra)
		return err
	}
	if d.strategy.EnableUnderload {
		return d.underload.Indicate(ctx, loads, extra)
	}
	return nil
}

// AdvanceSuspensionsTick is task 2 (spec.md §4.8 step 2).
func (d *Driver) AdvanceSuspensionsTick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	suspending := db.SuspendStateSuspending
	hosts, err := d.view.ListHosts(statistics.Filter{SuspendState: &suspending})
	if err != nil {
		return err
	}
	var errs []error
	for _, h := range hosts {
		if err := d.advanceOne(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("advancing suspension of %s: %w", h.HypervisorHostname, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) advanceOne(ctx context.Context, h statistics.Host) error {
	inProgress, err := d.orchestrator.ListInProgressMigrations(ctx, h.HypervisorHostname, h.HypervisorHostname)
	if err != nil {
		return err
	}
	var stillInProgress int
	for _, m := range inProgress {
		switch m.Status {
		case orchestrator.MigrationFinished:
			d.balancer.ConfirmMigration(m.InstanceUUID)
		case orchestrator.MigrationError:
			// Dropped; the next rebalance tick re-evaluates from scratch.
		default:
			stillInProgress++
		}
	}
	if stillInProgress > 0 {
		return nil
	}

	instances, err := d.view.ListInstancesOn(h.HypervisorHostname)
	if err != nil {
		return err
	}
	if len(instances) > 0 {
		_, err := d.balancer.MigrateAllFrom(ctx, h.HypervisorHostname)
		return err
	}

	mac, err := d.orchestrator.PrepareHostForSuspending(ctx, h.HypervisorHostname)
	if err != nil {
		return err
	}
	if err := d.store.SetMACToWake(h.HypervisorHostname, &mac); err != nil {
		return err
	}
	// Only persist the suspended transition once the RPC is acknowledged, so
	// an RPC failure leaves the host in suspending for the next tick to retry
	// (spec.md §4.8's failure semantics), instead of a state the power-off
	// never actually happened for.
	if err := d.orchestrator.SuspendHost(ctx, h.HypervisorHostname); err != nil {
		return err
	}
	return d.store.SetSuspendState(h.HypervisorHostname, db.SuspendStateSuspended, &mac, time.Now().Unix())
}

// GCTick is task 3 (spec.md §4.8 step 3): prune instance-stat samples
// older than utc_offset+ttl seconds.
func (d *Driver) GCTick(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Unix() - int64(d.gc.UTCOffsetSeconds) - int64(d.gc.TTLSeconds)
	deleted, err := d.store.GCStats(cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		slog.Info("pruned stale instance stats", "count", deleted)
	}
	return nil
}

func (d *Driver) allowedHostnames() ([]string, error) {
	ruleRows, err := d.store.ListRules()
	if err != nil {
		return nil, err
	}
	domainRules := make([]rules.Rule, 0, len(ruleRows))
	for _, r := range ruleRows {
		domainRules = append(domainRules, rules.Rule{ID: r.ID, Type: rules.RuleType(r.Type), Value: r.Value, Allow: r.Allow, Deleted: r.Deleted})
	}
	hosts, err := d.view.ListHosts(statistics.Filter{})
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]rules.HostAttributes, len(hosts))
	for _, h := range hosts {
		attrs[h.HypervisorHostname] = rules.HostAttributes{Host: h.HypervisorHostname, HA: h.HA, AZ: h.AZ}
	}
	verdicts := rules.AllowedHosts(attrs, domainRules)
	var allowed []string
	for name, ok := range verdicts {
		if ok {
			allowed = append(allowed, name)
		}
	}
	return allowed, nil
}
