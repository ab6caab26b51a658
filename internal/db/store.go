// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"fmt"
)

// Store registers the domain tables against a DB and exposes the
// query/write methods C1 (statistics view), the rules API and the
// suspend-state machine need. Grounded on the teacher's testlib/db
// helpers: one AddTable/SetKeys call per model, keyed the way the model
// is actually looked up by calling code.
type Store struct {
	DB
}

// NewStore registers every model table against d. It does not create
// tables — that is the migrater's job — it only teaches gorp the Go
// struct <-> SQL row mapping.
func NewStore(d DB) *Store {
	d.DbMap.AddTableWithName(Host{}, Host{}.TableName()).SetKeys(true, "ID")
	d.DbMap.AddTableWithName(HostMean{}, HostMean{}.TableName()).SetKeys(false, "HypervisorHostname")
	d.DbMap.AddTableWithName(InstanceStat{}, InstanceStat{}.TableName()).SetKeys(true, "ID")
	d.DbMap.AddTableWithName(Rule{}, Rule{}.TableName()).SetKeys(true, "ID")
	return &Store{DB: d}
}

// HostFilter narrows ListHosts to the allow-listed hostnames (from the
// rule engine) and, optionally, to a single suspend state (spec.md §4.1).
type HostFilter struct {
	AllowedHostnames []string // nil means "no restriction"
	SuspendState     *SuspendState
}

// ListHosts returns non-deleted hosts matching filter. useMean selects
// the averaged/EWMA view instead of the instantaneous snapshot.
func (s *Store) ListHosts(filter HostFilter, useMean bool) ([]Host, error) {
	query := "SELECT * FROM " + Host{}.TableName() + " WHERE deleted = false"
	var args []any
	if filter.SuspendState != nil {
		query += fmt.Sprintf(" AND suspend_state = $%d", len(args)+1)
		args = append(args, string(*filter.SuspendState))
	}
	var hosts []Host
	if _, err := s.DbMap.Select(&hosts, query, args...); err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	hosts = filterByAllowlist(hosts, filter.AllowedHostnames)
	if !useMean {
		return hosts, nil
	}
	return s.applyMeans(hosts)
}

func filterByAllowlist(hosts []Host, allowed []string) []Host {
	if allowed == nil {
		return hosts
	}
	allow := make(map[string]bool, len(allowed))
	for _, h := range allowed {
		allow[h] = true
	}
	out := hosts[:0]
	for _, h := range hosts {
		if allow[h.HypervisorHostname] {
			out = append(out, h)
		}
	}
	return out
}

// applyMeans overlays the EWMA/averaged memory_used and cpu_used_percent
// from compute_node_stats_mean onto the snapshot rows, leaving hosts with
// no mean row (not enough samples yet) untouched.
func (s *Store) applyMeans(hosts []Host) ([]Host, error) {
	var means []HostMean
	if _, err := s.DbMap.Select(&means, "SELECT * FROM "+HostMean{}.TableName()); err != nil {
		return nil, fmt.Errorf("listing host means: %w", err)
	}
	byHost := make(map[string]HostMean, len(means))
	for _, m := range means {
		byHost[m.HypervisorHostname] = m
	}
	for i, h := range hosts {
		if m, ok := byHost[h.HypervisorHostname]; ok {
			hosts[i].MemoryUsed = int64(m.MemoryUsed)
			hosts[i].CPUUsedPercent = m.CPUUsedPercent
		}
	}
	return hosts, nil
}

// UpsertHostMean folds a new sample into the running average for host,
// matching the original's simple cumulative-average "mean variant"
// (spec.md §3).
func (s *Store) UpsertHostMean(hostname string, memoryUsed float64, cpuUsedPercent float64) error {
	var existing HostMean
	err := s.DbMap.SelectOne(&existing, "SELECT * FROM "+HostMean{}.TableName()+" WHERE hypervisor_hostname = $1", hostname)
	switch {
	case err == sql.ErrNoRows:
		return s.DbMap.Insert(&HostMean{
			HypervisorHostname: hostname,
			MemoryUsed:         memoryUsed,
			CPUUsedPercent:     cpuUsedPercent,
			Samples:            1,
		})
	case err != nil:
		return fmt.Errorf("reading host mean for %s: %w", hostname, err)
	default:
		n := float64(existing.Samples)
		existing.MemoryUsed = (existing.MemoryUsed*n + memoryUsed) / (n + 1)
		existing.CPUUsedPercent = (existing.CPUUsedPercent*n + cpuUsedPercent) / (n + 1)
		existing.Samples++
		_, err := s.DbMap.Update(&existing)
		return err
	}
}

// InstanceFilter narrows ListInstances by backing host and/or vm_state.
type InstanceFilter struct {
	Host    string // empty means "no restriction"
	VMState string // empty means "no restriction"
}

// ListInstancesOn returns non-deleted instance samples whose Host field
// equals host.
func (s *Store) ListInstancesOn(host string) ([]InstanceStat, error) {
	return s.ListInstances(InstanceFilter{Host: host})
}

// ListInstances returns non-deleted instance samples matching filter.
func (s *Store) ListInstances(filter InstanceFilter) ([]InstanceStat, error) {
	query := "SELECT * FROM " + InstanceStat{}.TableName() + " WHERE deleted = false"
	var args []any
	if filter.Host != "" {
		args = append(args, filter.Host)
		query += fmt.Sprintf(" AND host = $%d", len(args))
	}
	if filter.VMState != "" {
		args = append(args, filter.VMState)
		query += fmt.Sprintf(" AND vm_state = $%d", len(args))
	}
	var instances []InstanceStat
	if _, err := s.DbMap.Select(&instances, query, args...); err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	return instances, nil
}

// SetSuspendState persists a host suspend-state transition. Only C7 is
// expected to call this (spec.md §4.7's state machine owns the field).
func (s *Store) SetSuspendState(hostname string, state SuspendState, mac *string, updatedAt int64) error {
	_, err := s.DbMap.Exec(
		"UPDATE "+Host{}.TableName()+" SET suspend_state = $1, mac_to_wake = $2, updated_at = $3 WHERE hypervisor_hostname = $4",
		string(state), mac, updatedAt, hostname,
	)
	if err != nil {
		return fmt.Errorf("updating suspend state for %s: %w", hostname, err)
	}
	return nil
}

// SetMACToWake persists the host's wake-on-LAN MAC address without
// touching its suspend state, used by the driver when it learns the MAC
// ahead of the suspend RPC actually completing (spec.md §4.8 step 2).
func (s *Store) SetMACToWake(hostname string, mac *string) error {
	_, err := s.DbMap.Exec(
		"UPDATE "+Host{}.TableName()+" SET mac_to_wake = $1 WHERE hypervisor_hostname = $2",
		mac, hostname,
	)
	if err != nil {
		return fmt.Errorf("setting mac_to_wake for %s: %w", hostname, err)
	}
	return nil
}

// GCStats deletes instance-stat samples whose updated_at is older than
// cutoff (utc_offset+ttl seconds before now, spec.md §4.8 step 3).
func (s *Store) GCStats(cutoff int64) (int64, error) {
	res, err := s.DbMap.Exec(
		"DELETE FROM "+InstanceStat{}.TableName()+" WHERE updated_at IS NOT NULL AND updated_at < $1",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("gc instance stats: %w", err)
	}
	return res.RowsAffected()
}

// Rules CRUD, owned by the API per spec.md §6 ("Rules are CRUD-owned by
// the API").

// ListRules returns non-deleted rules.
func (s *Store) ListRules() ([]Rule, error) {
	var rules []Rule
	if _, err := s.DbMap.Select(&rules, "SELECT * FROM "+Rule{}.TableName()+" WHERE deleted = false"); err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single non-deleted rule by id.
func (s *Store) GetRule(id int64) (Rule, error) {
	var rule Rule
	err := s.DbMap.SelectOne(&rule, "SELECT * FROM "+Rule{}.TableName()+" WHERE id = $1 AND deleted = false", id)
	return rule, err
}

// CreateRule inserts a new rule row.
func (s *Store) CreateRule(rule *Rule) error {
	return s.DbMap.Insert(rule)
}

// DeleteRule soft-deletes a rule by id.
func (s *Store) DeleteRule(id int64, deletedAt int64) error {
	_, err := s.DbMap.Exec("UPDATE "+Rule{}.TableName()+" SET deleted = true, updated_at = $1 WHERE id = $2", deletedAt, id)
	return err
}
