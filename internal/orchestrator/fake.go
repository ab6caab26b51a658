// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "context"

// Fake is a hand-written test double for API, following the teacher's
// preference for fakes over mocking frameworks.
type Fake struct {
	LiveMigrateCalls []struct{ InstanceUUID, Destination string }
	ColdMigrateCalls []string
	SuspendCalls     []string
	MACByHost        map[string]string
	InProgress       map[string][]Migration
	// AllInProgress feeds CountInProgressMigrations, the cluster-wide
	// view the MaxMigrations filter relies on.
	AllInProgress []Migration

	LiveMigrateErr error
	ColdMigrateErr error
	SuspendErr     error
	PrepareErr     error
	CountErr       error
}

func NewFake() *Fake {
	return &Fake{MACByHost: map[string]string{}, InProgress: map[string][]Migration{}}
}

func (f *Fake) Init(context.Context) error { return nil }

func (f *Fake) LiveMigrate(_ context.Context, instanceUUID, destinationHost string) error {
	if f.LiveMigrateErr != nil {
		return f.LiveMigrateErr
	}
	f.LiveMigrateCalls = append(f.LiveMigrateCalls, struct{ InstanceUUID, Destination string }{instanceUUID, destinationHost})
	return nil
}

func (f *Fake) ColdMigrate(_ context.Context, instanceUUID string) error {
	if f.ColdMigrateErr != nil {
		return f.ColdMigrateErr
	}
	f.ColdMigrateCalls = append(f.ColdMigrateCalls, instanceUUID)
	return nil
}

func (f *Fake) SuspendHost(_ context.Context, hostname string) error {
	if f.SuspendErr != nil {
		return f.SuspendErr
	}
	f.SuspendCalls = append(f.SuspendCalls, hostname)
	return nil
}

func (f *Fake) PrepareHostForSuspending(_ context.Context, hostname string) (string, error) {
	if f.PrepareErr != nil {
		return "", f.PrepareErr
	}
	return f.MACByHost[hostname], nil
}

func (f *Fake) ListInProgressMigrations(_ context.Context, host, _ string) ([]Migration, error) {
	return f.InProgress[host], nil
}

func (f *Fake) CountInProgressMigrations(context.Context) (map[string]int, map[string]int, error) {
	if f.CountErr != nil {
		return nil, nil, f.CountErr
	}
	bySource := map[string]int{}
	byDest := map[string]int{}
	for _, m := range f.AllInProgress {
		if m.Status == MigrationFinished || m.Status == MigrationError {
			continue
		}
		bySource[m.Source]++
		byDest[m.Destination]++
	}
	return bySource, byDest, nil
}
