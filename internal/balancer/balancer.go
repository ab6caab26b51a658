// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package balancer is the variance-minimising placement engine (C6),
// grounded on nova/scheduler/load_balancer.py in the original
// implementation and on the teacher's gophercloud-backed live-migration
// client (scheduling/internal/descheduling/nova/nova_api.go).
package balancer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/filters"
	"github.com/cobaltcore-dev/rebalancer/internal/normalize"
	"github.com/cobaltcore-dev/rebalancer/internal/orchestrator"
	"github.com/cobaltcore-dev/rebalancer/internal/sdmath"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
	"github.com/cobaltcore-dev/rebalancer/internal/threshold"
)

// Extra is the threshold detector's side-channel output (spec.md §4.5).
type Extra struct {
	CPUOverload bool
	CPUMean     float64
	RAMMean     float64
}

// Migration is the (instance, destination) pair chosen by balance, or a
// noop when the source host is already optimal.
type Migration struct {
	InstanceUUID string
	Destination  string
	Noop         bool
}

// Balancer runs instance and destination selection and issues
// live/cold-migration RPCs.
type Balancer struct {
	view          *statistics.View
	store         *db.Store
	orchestrator  orchestrator.API
	weights       conf.WeightsConfig
	filterNames   []string
	maxMigrations int
}

func New(view *statistics.View, store *db.Store, orch orchestrator.API, weights conf.WeightsConfig, filterNames []string, maxMigrations int) *Balancer {
	return &Balancer{
		view:          view,
		store:         store,
		orchestrator:  orch,
		weights:       weights,
		filterNames:   filterNames,
		maxMigrations: maxMigrations,
	}
}

// Balance picks an instance on victim and a destination host, and emits
// a live-migrate RPC, or a noop if victim is already optimal
// (spec.md §4.6).
func (b *Balancer) Balance(ctx context.Context, victim string, extra Extra) (Migration, error) {
	return b.balance(ctx, victim, extra, true)
}

// balance is Balance's implementation, parameterised by whether victim
// itself may be scored as a "do nothing" candidate. Normal rebalancing
// allows it (testable property 4, §8: emit noop when no destination
// strictly reduces SD). Draining a host ahead of suspension
// (MigrateAllFrom) must not: the whole point of a drain is to empty the
// host, so victim is excluded from its own candidate set there,
// matching §4.6's "Drain" semantics.
func (b *Balancer) balance(ctx context.Context, victim string, extra Extra, allowNoop bool) (Migration, error) {
	instances, err := b.view.ListInstancesOn(victim)
	if err != nil {
		return Migration{}, fmt.Errorf("listing instances on %s: %w", victim, err)
	}
	candidates := candidateRows(instances, extra.CPUOverload)
	if len(candidates) == 0 {
		return Migration{Noop: true}, nil
	}

	kCPU := b.weights.CPUWeight
	if extra.CPUOverload {
		kCPU = -b.weights.CPUWeight
	}
	weights := map[string]float64{"cpu": kCPU, "memory": b.weights.MemoryWeight, "io": b.weights.IOWeight}
	normalised := normalize.Normalise(candidates)
	weighted := normalize.Weight(normalised, weights)
	chosenUUID := weighted[0].Key
	chosen := findInstance(instances, chosenUUID)

	hosts, err := b.view.ListHosts(statistics.Filter{})
	if err != nil {
		return Migration{}, fmt.Errorf("listing hosts: %w", err)
	}
	loads, err := hostLoads(b.view, hosts)
	if err != nil {
		return Migration{}, fmt.Errorf("computing host loads: %w", err)
	}

	destination, ok, err := b.pickDestination(ctx, hosts, loads, victim, chosen, allowNoop)
	if err != nil {
		return Migration{}, err
	}
	if !ok || destination == victim {
		return Migration{Noop: true}, nil
	}

	if err := b.orchestrator.LiveMigrate(ctx, chosen.InstanceUUID, destination); err != nil {
		return Migration{}, fmt.Errorf("live migrating %s: %w", chosen.InstanceUUID, err)
	}
	if err := b.resetPrevCPUTime(chosen.InstanceUUID); err != nil {
		slog.Warn("failed to reset prev_cpu_time after migration", "instance", chosen.InstanceUUID, "error", err)
	}
	return Migration{InstanceUUID: chosen.InstanceUUID, Destination: destination}, nil
}

// MigrateAllFrom drains host: cold-migrates stopped instances and
// live-migrates active ones one at a time, bounded by maxMigrations.
// Returns true iff at least one migration was enqueued (spec.md §4.6).
func (b *Balancer) MigrateAllFrom(ctx context.Context, host string) (bool, error) {
	instances, err := b.view.ListInstancesOn(host)
	if err != nil {
		return false, fmt.Errorf("listing instances on %s: %w", host, err)
	}

	enqueued := 0
	for _, inst := range instances {
		if enqueued >= b.maxMigrations {
			break
		}
		if inst.VMState == "stopped" {
			if err := b.orchestrator.ColdMigrate(ctx, inst.InstanceUUID); err != nil {
				slog.Warn("cold migration failed", "instance", inst.InstanceUUID, "error", err)
				continue
			}
			enqueued++
		}
	}

	for enqueued < b.maxMigrations {
		migration, err := b.balance(ctx, host, Extra{}, false)
		if err != nil {
			slog.Warn("drain migration failed", "host", host, "error", err)
			break
		}
		if migration.Noop {
			break
		}
		enqueued++
	}
	return enqueued > 0, nil
}

// ConfirmMigration is the post-migration bookkeeping hook the driver
// calls once the orchestrator reports a migration as finished
// (spec.md §4.8 step 2). The instance's prev_cpu_time was already reset
// when the migration was issued; the stats collector owns refreshing the
// rest of the row on its next pass.
func (b *Balancer) ConfirmMigration(instanceUUID string) {
	slog.Info("migration confirmed", "instance", instanceUUID)
}

func (b *Balancer) resetPrevCPUTime(instanceUUID string) error {
	_, err := b.store.DbMap.Exec(
		"UPDATE instance_stats SET prev_cpu_time = cpu_time, prev_updated_at = updated_at WHERE instance_uuid = $1",
		instanceUUID,
	)
	return err
}

func candidateRows(instances []statistics.Instance, cpuOverload bool) []normalize.Row {
	rows := make([]normalize.Row, 0, len(instances))
	for _, inst := range instances {
		if inst.TaskState == "migrating" || inst.Stale {
			continue
		}
		rows = append(rows, normalize.Row{
			Key: inst.InstanceUUID,
			Values: map[string]float64{
				"cpu":    inst.CPUFraction,
				"memory": float64(inst.Mem),
				"io":     float64(inst.BlockDevIOPS),
			},
		})
	}
	if !cpuOverload {
		return rows
	}
	normalised := normalize.Normalise(rows)
	zeroMemoryKeys := map[string]bool{}
	for _, r := range normalised {
		if r.Values["memory"] == 0 {
			zeroMemoryKeys[r.Key] = true
		}
	}
	restricted := rows[:0]
	for _, r := range rows {
		if zeroMemoryKeys[r.Key] {
			restricted = append(restricted, r)
		}
	}
	return restricted
}

func findInstance(instances []statistics.Instance, uuid string) statistics.Instance {
	for _, inst := range instances {
		if inst.InstanceUUID == uuid {
			return inst
		}
	}
	return statistics.Instance{}
}

func hostLoads(view *statistics.View, hosts []statistics.Host) (map[string]threshold.Load, error) {
	loads := make(map[string]threshold.Load, len(hosts))
	for _, h := range hosts {
		instances, err := view.ListInstancesOn(h.HypervisorHostname)
		if err != nil {
			return nil, err
		}
		var cpu, mem float64
		for _, inst := range instances {
			cpu += inst.CPUFraction
			mem += float64(inst.Mem)
		}
		if h.MemoryTotal > 0 {
			mem = mem / float64(h.MemoryTotal)
		}
		loads[h.HypervisorHostname] = threshold.Load{Hostname: h.HypervisorHostname, CPU: cpu, Mem: mem}
	}
	return loads, nil
}

// pickDestination runs the filter chain over candidate hosts and scores
// each hypothetical post-migration layout, tie-breaking on lowest
// cpu_used_percent then hostname (spec.md §4.6). When includeVictim is
// true, victim itself is scored alongside the other candidates so a
// cluster where no destination strictly improves on staying put can
// surface as noop (testable property 4, §8); MigrateAllFrom's drain
// passes false since victim must actually be vacated there.
func (b *Balancer) pickDestination(ctx context.Context, hosts []statistics.Host, loads map[string]threshold.Load, victim string, chosen statistics.Instance, includeVictim bool) (string, bool, error) {
	candidates := make([]filters.Candidate, 0, len(hosts))
	for _, h := range hosts {
		isVictim := h.HypervisorHostname == victim
		if isVictim && !includeVictim {
			continue
		}
		if !isVictim && h.SuspendState == db.SuspendStateSuspending {
			continue
		}
		candidates = append(candidates, filters.Candidate{
			Hostname:       h.HypervisorHostname,
			AZ:             h.AZ,
			MemoryTotal:    h.MemoryTotal,
			MemoryUsed:     h.MemoryUsed,
			CPUUsedPercent: h.CPUUsedPercent,
			Active:         h.Active,
			ServiceUp:      h.ServiceUp,
		})
	}

	bySource, byDest, err := b.orchestrator.CountInProgressMigrations(ctx)
	if err != nil {
		return "", false, fmt.Errorf("counting in-progress migrations: %w", err)
	}

	chain := filters.DefaultChain(b.filterNames)
	survivors := chain.Run(candidates, filters.Properties{
		InstanceMemory:     chosen.Mem,
		Source:             victim,
		InProgressBySource: bySource,
		InProgressByDest:   byDest,
		MaxMigrations:      b.maxMigrations,
	})
	if len(survivors) == 0 {
		return "", false, nil
	}

	memTotals := make(map[string]int64, len(hosts))
	for _, h := range hosts {
		memTotals[h.HypervisorHostname] = h.MemoryTotal
	}

	type scored struct {
		hostname       string
		sd             float64
		cpuUsedPercent float64
	}
	results := make([]scored, 0, len(survivors))
	for _, s := range survivors {
		sd := hypotheticalSD(loads, memTotals, victim, s.Hostname, chosen)
		results = append(results, scored{hostname: s.Hostname, sd: sd, cpuUsedPercent: s.CPUUsedPercent})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].sd != results[j].sd {
			return results[i].sd < results[j].sd
		}
		if results[i].cpuUsedPercent != results[j].cpuUsedPercent {
			return results[i].cpuUsedPercent < results[j].cpuUsedPercent
		}
		return results[i].hostname < results[j].hostname
	})
	return results[0].hostname, true, nil
}

// hypotheticalSD computes sd(L'.cpu) + sd(L'.mem) for the cluster after
// moving chosen's resources from victim to destination. The memory delta
// is expressed as a fraction of each host's own memory_total, matching
// L[h].mem's definition in spec.md §4.5. destination == victim is "no
// change" (the do-nothing candidate): the instance's load is neither
// subtracted nor re-added, so this scores the cluster's current SD
// unchanged rather than stripping victim's own load without restoring it.
func hypotheticalSD(loads map[string]threshold.Load, memTotals map[string]int64, victim, destination string, chosen statistics.Instance) float64 {
	cpus := make([]float64, 0, len(loads))
	mems := make([]float64, 0, len(loads))
	for hostname, l := range loads {
		cpu, mem := l.CPU, l.Mem
		if destination != victim {
			switch hostname {
			case victim:
				cpu -= chosen.CPUFraction
				if total := memTotals[victim]; total > 0 {
					mem -= float64(chosen.Mem) / float64(total)
				}
			case destination:
				cpu += chosen.CPUFraction
				if total := memTotals[destination]; total > 0 {
					mem += float64(chosen.Mem) / float64(total)
				}
			}
		}
		cpus = append(cpus, cpu)
		mems = append(mems, mem)
	}
	return sdmath.StdDev(cpus) + sdmath.StdDev(mems)
}
