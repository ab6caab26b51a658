// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package filters

import "testing"

func TestChainAdmitsOnlyHostsPassingEveryPredicate(t *testing.T) {
	chain := NewChain(realRAMFilter{}, computeFilter{})
	candidates := []Candidate{
		{Hostname: "ok", MemoryTotal: 1000, MemoryUsed: 200, Active: true, ServiceUp: true},
		{Hostname: "low-ram", MemoryTotal: 1000, MemoryUsed: 950, Active: true, ServiceUp: true},
		{Hostname: "inactive", MemoryTotal: 1000, MemoryUsed: 200, Active: false, ServiceUp: true},
	}
	result := chain.Run(candidates, Properties{InstanceMemory: 100})
	if len(result) != 1 || result[0].Hostname != "ok" {
		t.Fatalf("expected only 'ok' to survive, got %+v", result)
	}
}

func TestRetryFilterExcludesBlacklistedHosts(t *testing.T) {
	chain := NewChain(retryFilter{})
	candidates := []Candidate{{Hostname: "a"}, {Hostname: "b"}}
	result := chain.Run(candidates, Properties{Retry: []string{"a"}})
	if len(result) != 1 || result[0].Hostname != "b" {
		t.Fatalf("expected only 'b', got %+v", result)
	}
}

func TestMaxMigrationsFilterCapsDestinationConcurrency(t *testing.T) {
	chain := NewChain(maxMigrationsFilter{})
	candidates := []Candidate{{Hostname: "at-cap"}, {Hostname: "over-cap"}, {Hostname: "free"}}
	props := Properties{
		MaxMigrations:    2,
		InProgressByDest: map[string]int{"at-cap": 2, "over-cap": 3, "free": 1},
	}
	result := chain.Run(candidates, props)
	if len(result) != 2 {
		t.Fatalf("expected 'at-cap' and 'free' to survive (count <= max admits), got %+v", result)
	}
	for _, c := range result {
		if c.Hostname == "over-cap" {
			t.Fatalf("expected 'over-cap' rejected, got %+v", result)
		}
	}
}

func TestMaxMigrationsFilterCapsSourceConcurrency(t *testing.T) {
	chain := NewChain(maxMigrationsFilter{})
	candidates := []Candidate{{Hostname: "free"}}
	props := Properties{
		Source:             "victim",
		MaxMigrations:      2,
		InProgressBySource: map[string]int{"victim": 3},
	}
	result := chain.Run(candidates, props)
	if len(result) != 0 {
		t.Fatalf("expected no survivors when the source exceeds the cap, got %+v", result)
	}
}

func TestServerGroupAntiAffinityRejectsCoMember(t *testing.T) {
	chain := NewChain(serverGroupAntiAffinityFilter{})
	candidates := []Candidate{
		{Hostname: "has-member", GroupMembers: map[string]bool{"vm-1": true}},
		{Hostname: "empty", GroupMembers: map[string]bool{}},
	}
	props := Properties{ServerGroupPolicy: "anti-affinity", ServerGroupMembers: []string{"vm-1"}}
	result := chain.Run(candidates, props)
	if len(result) != 1 || result[0].Hostname != "empty" {
		t.Fatalf("expected only 'empty', got %+v", result)
	}
}

func TestServerGroupAffinityRequiresAllMembersPresent(t *testing.T) {
	chain := NewChain(serverGroupAffinityFilter{})
	candidates := []Candidate{
		{Hostname: "has-member", GroupMembers: map[string]bool{"vm-1": true}},
		{Hostname: "empty", GroupMembers: map[string]bool{}},
	}
	props := Properties{ServerGroupPolicy: "affinity", ServerGroupMembers: []string{"vm-1"}}
	result := chain.Run(candidates, props)
	if len(result) != 1 || result[0].Hostname != "has-member" {
		t.Fatalf("expected only 'has-member', got %+v", result)
	}
}

func TestDefaultChainSkipsUnknownNames(t *testing.T) {
	chain := DefaultChain([]string{"Retry", "NoSuchFilter", "Compute"})
	if len(chain.predicates) != 2 {
		t.Fatalf("expected 2 known predicates wired, got %d", len(chain.predicates))
	}
}
