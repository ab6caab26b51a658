// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package rules

import "testing"

func TestDefaultAllowWhenNoRuleMatches(t *testing.T) {
	hosts := map[string]HostAttributes{"compute1": {Host: "compute1", HA: "ha1", AZ: "az1"}}
	result := AllowedHosts(hosts, nil)
	if !result["compute1"] {
		t.Fatal("expected default allow")
	}
}

func TestLastMatchWins(t *testing.T) {
	hosts := map[string]HostAttributes{"compute1": {Host: "compute1.example.com"}}
	ruleList := []Rule{
		{ID: 1, Type: RuleTypeHost, Value: `compute\d+\.`, Allow: false},
		{ID: 2, Type: RuleTypeHost, Value: `compute1\.`, Allow: true},
	}
	result := AllowedHosts(hosts, ruleList)
	if !result["compute1"] {
		t.Fatal("expected last rule (id=2, allow=true) to win")
	}

	// Reverse priority: later rule denies.
	ruleList2 := []Rule{
		{ID: 1, Type: RuleTypeHost, Value: `compute1\.`, Allow: true},
		{ID: 2, Type: RuleTypeHost, Value: `compute\d+\.`, Allow: false},
	}
	result2 := AllowedHosts(hosts, ruleList2)
	if result2["compute1"] {
		t.Fatal("expected last rule (id=2, allow=false) to win")
	}
}

func TestRuleOrderIsByIDNotSliceOrder(t *testing.T) {
	hosts := map[string]HostAttributes{"compute1": {Host: "compute1"}}
	// Slice order is reversed relative to id order; id order must win.
	ruleList := []Rule{
		{ID: 5, Type: RuleTypeHost, Value: "compute1", Allow: false},
		{ID: 1, Type: RuleTypeHost, Value: "compute1", Allow: true},
	}
	result := AllowedHosts(hosts, ruleList)
	if result["compute1"] {
		t.Fatal("expected id=5 (allow=false) to be evaluated last and win")
	}
}

func TestDeletedRulesAreIgnored(t *testing.T) {
	hosts := map[string]HostAttributes{"compute1": {Host: "compute1"}}
	ruleList := []Rule{
		{ID: 1, Type: RuleTypeHost, Value: "compute1", Allow: false, Deleted: true},
	}
	result := AllowedHosts(hosts, ruleList)
	if !result["compute1"] {
		t.Fatal("expected deleted rule to be ignored, default allow")
	}
}

func TestAnchoredAtStartOnly(t *testing.T) {
	hosts := map[string]HostAttributes{"compute1": {Host: "compute1.cell1.example.com"}}
	ruleList := []Rule{{ID: 1, Type: RuleTypeHost, Value: `compute1\.`, Allow: false}}
	result := AllowedHosts(hosts, ruleList)
	if result["compute1"] {
		t.Fatal("expected prefix match to deny host even without trailing $")
	}
}

func TestUnknownRuleTypeSkipped(t *testing.T) {
	hosts := map[string]HostAttributes{"compute1": {Host: "compute1"}}
	ruleList := []Rule{{ID: 1, Type: "bogus", Value: "compute1", Allow: false}}
	result := AllowedHosts(hosts, ruleList)
	if !result["compute1"] {
		t.Fatal("expected unknown rule type to be skipped")
	}
}
