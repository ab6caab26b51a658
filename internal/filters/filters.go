// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package filters is the host filter chain (C4): an ordered list of
// predicates, a host passes iff every predicate admits it. Grounded on
// nova/scheduler/filters (RealRam, ComputeFilter, ImagePropertiesFilter,
// ServerGroup{Anti,}AffinityFilter) and nova/scheduler/filters/max_migration.py
// in the original implementation, and on the teacher's pluggable-by-name
// strategy pattern (spec.md §9 design note: no reflection-based plugin
// discovery, a closed registry of named constructors instead).
package filters

// Candidate is a host under consideration as a migration/placement
// destination.
type Candidate struct {
	Hostname       string
	AZ             string
	MemoryTotal    int64
	MemoryUsed     int64
	CPUUsedPercent float64
	Active         bool
	ServiceUp      bool
	Capabilities   map[string]string
	HypervisorType string
	GroupMembers   map[string]bool // instance uuids already placed on this host, by server group
}

// Properties carries the request-scoped inputs every predicate may need
// (spec.md §4.4's "Filter inputs").
type Properties struct {
	InstanceAZ           string
	InstanceMemory       int64
	RequiredCapabilities map[string]string
	ImageProperties      map[string]string
	ProjectID            string
	Retry                []string // hostnames already tried and rejected for this request
	ServerGroupMembers   []string // instance uuids in the same server group
	ServerGroupPolicy    string   // "affinity" | "anti-affinity" | ""
	Source               string  // hostname the migration would originate from
	InProgressBySource   map[string]int
	InProgressByDest     map[string]int
	MaxMigrations        int
}

// Predicate admits or rejects a single candidate host.
type Predicate interface {
	Name() string
	Admits(c Candidate, p Properties) bool
}

// Chain runs an ordered list of predicates and returns the surviving
// hosts, in input order.
type Chain struct {
	predicates []Predicate
}

func NewChain(predicates ...Predicate) Chain {
	return Chain{predicates: predicates}
}

func (c Chain) Run(candidates []Candidate, p Properties) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if c.admitsAll(candidate, p) {
			out = append(out, candidate)
		}
	}
	return out
}

func (c Chain) admitsAll(candidate Candidate, p Properties) bool {
	for _, pred := range c.predicates {
		if !pred.Admits(candidate, p) {
			return false
		}
	}
	return true
}

// DefaultChain builds the chain named by SPEC_FULL's filters
// configuration, matching the teacher's strategy-by-name wiring.
func DefaultChain(names []string) Chain {
	predicates := make([]Predicate, 0, len(names))
	for _, name := range names {
		if p, ok := registry[name]; ok {
			predicates = append(predicates, p)
		}
	}
	return NewChain(predicates...)
}

var registry = map[string]Predicate{
	"Retry":                   retryFilter{},
	"AvailabilityZone":        availabilityZoneFilter{},
	"RealRam":                 realRAMFilter{},
	"Compute":                 computeFilter{},
	"ComputeCapabilities":     computeCapabilitiesFilter{},
	"ImageProperties":         imagePropertiesFilter{},
	"ServerGroupAntiAffinity": serverGroupAntiAffinityFilter{},
	"ServerGroupAffinity":     serverGroupAffinityFilter{},
	"MaxMigrations":           maxMigrationsFilter{},
}

type retryFilter struct{}

func (retryFilter) Name() string { return "Retry" }
func (retryFilter) Admits(c Candidate, p Properties) bool {
	for _, h := range p.Retry {
		if h == c.Hostname {
			return false
		}
	}
	return true
}

type availabilityZoneFilter struct{}

func (availabilityZoneFilter) Name() string { return "AvailabilityZone" }
func (availabilityZoneFilter) Admits(c Candidate, p Properties) bool {
	return p.InstanceAZ == "" || c.AZ == p.InstanceAZ
}

type realRAMFilter struct{}

func (realRAMFilter) Name() string { return "RealRam" }
func (realRAMFilter) Admits(c Candidate, p Properties) bool {
	return c.MemoryTotal-c.MemoryUsed >= p.InstanceMemory
}

type computeFilter struct{}

func (computeFilter) Name() string { return "Compute" }
func (computeFilter) Admits(c Candidate, _ Properties) bool {
	return c.Active && c.ServiceUp
}

type computeCapabilitiesFilter struct{}

func (computeCapabilitiesFilter) Name() string { return "ComputeCapabilities" }
func (computeCapabilitiesFilter) Admits(c Candidate, p Properties) bool {
	for k, v := range p.RequiredCapabilities {
		if c.Capabilities[k] != v {
			return false
		}
	}
	return true
}

type imagePropertiesFilter struct{}

func (imagePropertiesFilter) Name() string { return "ImageProperties" }
func (imagePropertiesFilter) Admits(c Candidate, p Properties) bool {
	required, ok := p.ImageProperties["hypervisor_type"]
	if !ok || required == "" {
		return true
	}
	return c.HypervisorType == required
}

type serverGroupAntiAffinityFilter struct{}

func (serverGroupAntiAffinityFilter) Name() string { return "ServerGroupAntiAffinity" }
func (serverGroupAntiAffinityFilter) Admits(c Candidate, p Properties) bool {
	if p.ServerGroupPolicy != "anti-affinity" {
		return true
	}
	for _, member := range p.ServerGroupMembers {
		if c.GroupMembers[member] {
			return false
		}
	}
	return true
}

type serverGroupAffinityFilter struct{}

func (serverGroupAffinityFilter) Name() string { return "ServerGroupAffinity" }
func (serverGroupAffinityFilter) Admits(c Candidate, p Properties) bool {
	if p.ServerGroupPolicy != "affinity" || len(p.ServerGroupMembers) == 0 {
		return true
	}
	for _, member := range p.ServerGroupMembers {
		if !c.GroupMembers[member] {
			return false
		}
	}
	return true
}

// maxMigrationsFilter caps per-source and per-destination in-progress
// migration concurrency (spec.md §4.4), mirroring
// max_migration.py's MaxMigrationsFilter: rejects a candidate when
// either the source's or the destination's in-progress count exceeds
// the cap, admitting up to and including the cap.
type maxMigrationsFilter struct{}

func (maxMigrationsFilter) Name() string { return "MaxMigrations" }
func (maxMigrationsFilter) Admits(c Candidate, p Properties) bool {
	if p.InProgressBySource[p.Source] > p.MaxMigrations {
		return false
	}
	if p.InProgressByDest[c.Hostname] > p.MaxMigrations {
		return false
	}
	return true
}
