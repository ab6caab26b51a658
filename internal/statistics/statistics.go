// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package statistics is the read-only projection of hosts and per-VM
// samples (C1), grounded on nova/loadbalancer/utils.py's
// get_compute_node_stats/fill_compute_stats/calculate_cpu in the
// original implementation.
package statistics

import (
	"fmt"
	"math"

	"github.com/cobaltcore-dev/rebalancer/internal/db"
)

// Host is the view-layer projection of a db.Host row.
type Host struct {
	HypervisorHostname string
	MemoryTotal         int64
	MemoryUsed          int64
	CPUUsedPercent      float64
	VCPUs               int
	HostIP              string
	MACToWake           *string
	SuspendState        db.SuspendState
	HostLabel           string
	HA                  string
	AZ                  string
	Active              bool
	ServiceUp           bool
}

// Instance is the view-layer projection of a db.InstanceStat row, with
// CPUFraction pre-computed (spec.md §3).
type Instance struct {
	InstanceUUID string
	Mem          int64
	BlockDevIOPS int64
	Host         string
	VCPUs        int
	VMState      string
	TaskState    string

	// CPUFraction is in [0,1], rounded to 0.01. Zero and Stale both hold
	// when the sample could not be computed (spec.md §3).
	CPUFraction float64
	Stale       bool
}

// Filter narrows a read to the subset C2 allows and, optionally, to a
// single suspend state (spec.md §4.1).
type Filter struct {
	AllowedHostnames []string
	SuspendState     *db.SuspendState
	UseMean          bool
}

// View reads host/instance snapshots. It makes no guarantee of
// consistency across the two queries beyond "taken within one tick"
// (spec.md §4.1).
type View struct {
	store *db.Store
}

func NewView(store *db.Store) *View {
	return &View{store: store}
}

func (v *View) ListHosts(filter Filter) ([]Host, error) {
	rows, err := v.store.ListHosts(db.HostFilter{
		AllowedHostnames: filter.AllowedHostnames,
		SuspendState:     filter.SuspendState,
	}, filter.UseMean)
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	hosts := make([]Host, 0, len(rows))
	for _, r := range rows {
		hosts = append(hosts, hostFromRow(r))
	}
	return hosts, nil
}

func (v *View) ListInstancesOn(host string) ([]Instance, error) {
	return v.ListInstances(InstanceFilter{Host: host})
}

// InstanceFilter narrows ListInstances; zero values mean "no restriction".
type InstanceFilter struct {
	Host    string
	VMState string
}

func (v *View) ListInstances(filter InstanceFilter) ([]Instance, error) {
	rows, err := v.store.ListInstances(db.InstanceFilter{Host: filter.Host, VMState: filter.VMState})
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	instances := make([]Instance, 0, len(rows))
	for _, r := range rows {
		instances = append(instances, instanceFromRow(r))
	}
	return instances, nil
}

func hostFromRow(r db.Host) Host {
	return Host{
		HypervisorHostname: r.HypervisorHostname,
		MemoryTotal:        r.MemoryTotal,
		MemoryUsed:         r.MemoryUsed,
		CPUUsedPercent:     r.CPUUsedPercent,
		VCPUs:              r.VCPUs,
		HostIP:             r.HostIP,
		MACToWake:          r.MACToWake,
		SuspendState:       r.SuspendState,
		HostLabel:          r.HostLabel,
		HA:                 r.HA,
		AZ:                 r.AZ,
		Active:             r.Active,
		ServiceUp:          r.ServiceUp,
	}
}

func instanceFromRow(r db.InstanceStat) Instance {
	fraction, stale := cpuFraction(r)
	return Instance{
		InstanceUUID: r.InstanceUUID,
		Mem:          r.Mem,
		BlockDevIOPS: r.BlockDevIOPS,
		Host:         r.Host,
		VCPUs:        r.VCPUs,
		VMState:      r.VMState,
		TaskState:    r.TaskState,
		CPUFraction:  fraction,
		Stale:        stale,
	}
}

// cpuFraction computes the instantaneous CPU fraction for an instance
// sample (spec.md §3): (cpu_time - prev_cpu_time) / (Δt * 1e7 * vcpus),
// clamped to [0,1] and rounded to 0.01. A sample is stale (fraction 0)
// when prev_cpu_time is zero or regressed, Δt is zero, or updated_at is
// missing.
func cpuFraction(r db.InstanceStat) (fraction float64, stale bool) {
	if r.UpdatedAt == nil || r.PrevUpdatedAt == nil {
		return 0, true
	}
	if r.PrevCPUTime <= 0 || r.CPUTime < r.PrevCPUTime {
		return 0, true
	}
	deltaT := *r.UpdatedAt - *r.PrevUpdatedAt
	if deltaT <= 0 {
		return 0, true
	}
	if r.VCPUs <= 0 {
		return 0, true
	}
	raw := float64(r.CPUTime-r.PrevCPUTime) / (float64(deltaT) * 1e7 * float64(r.VCPUs))
	raw = math.Max(0, math.Min(1, raw))
	return math.Round(raw*100) / 100, false
}
