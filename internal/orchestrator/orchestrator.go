// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the narrow RPC boundary to the compute
// orchestrator (spec.md §6's "Orchestrator RPC (consumed)"). It is
// grounded on the teacher's scheduling/internal/descheduling/nova and
// lib/keystone packages: authenticate once via keystone, resolve the
// Nova endpoint from the service catalog, then issue plain gophercloud
// calls, falling back to raw HTTP for endpoints gophercloud doesn't wrap.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/keystone"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
)

// MigrationStatus mirrors the orchestrator-owned migration record's
// status field (spec.md §3, "opaque to the core except ...").
type MigrationStatus string

const (
	MigrationQueued   MigrationStatus = "queued"
	MigrationRunning  MigrationStatus = "running"
	MigrationFinished MigrationStatus = "finished"
	MigrationError    MigrationStatus = "error"
)

// Migration is the subset of the orchestrator's migration record the
// core reads back to advance the suspend state machine.
type Migration struct {
	InstanceUUID string
	Source       string
	Destination  string
	Status       MigrationStatus
}

// API is the narrow interface C6/C7 consume. Every method is an RPC
// boundary that stops when ctx is done; the callers in this module pass
// contexts without a deadline, and the HTTP client sets no timeout of
// its own, so a call is not bounded in time.
type API interface {
	// Init authenticates against keystone and resolves the Nova
	// endpoint from the service catalog. Must be called once before any
	// other method.
	Init(ctx context.Context) error
	// LiveMigrate moves instance to host asynchronously, without
	// waiting for the migration to finish.
	LiveMigrate(ctx context.Context, instanceUUID, destinationHost string) error
	// ColdMigrate cold-migrates a stopped instance off its current host.
	ColdMigrate(ctx context.Context, instanceUUID string) error
	// SuspendHost issues the host power-off RPC.
	SuspendHost(ctx context.Context, hostname string) error
	// PrepareHostForSuspending fetches the host's wake-on-LAN MAC
	// address ahead of powering it off.
	PrepareHostForSuspending(ctx context.Context, hostname string) (string, error)
	// ListInProgressMigrations returns the migrations sourced from
	// host/node, including those that have reached finished or error;
	// every other status is reported as MigrationRunning.
	ListInProgressMigrations(ctx context.Context, host, node string) ([]Migration, error)
	// CountInProgressMigrations returns, for every host in the cluster,
	// how many non-terminal migrations currently name it as source or
	// destination. Consumed by the MaxMigrations filter (spec.md §4.4)
	// to cap per-source and per-destination concurrency.
	CountInProgressMigrations(ctx context.Context) (bySource, byDest map[string]int, err error)
}

type api struct {
	keystoneAPI keystone.API
	conf        conf.KeystoneConfig
	sc          *gophercloud.ServiceClient
}

// New builds an orchestrator API client. Init must be called once before
// any other method.
func New(keystoneAPI keystone.API, c conf.KeystoneConfig) API {
	return &api{keystoneAPI: keystoneAPI, conf: c}
}

// Init authenticates against keystone and resolves the Nova endpoint
// from the service catalog, matching the teacher's novaAPI.Init.
func (a *api) Init(ctx context.Context) error {
	if err := a.keystoneAPI.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	const serviceType = "compute"
	url, err := a.keystoneAPI.FindEndpoint(a.conf.Availability, serviceType)
	if err != nil {
		return fmt.Errorf("finding nova endpoint: %w", err)
	}
	slog.Info("using nova endpoint", "url", url)
	a.sc = &gophercloud.ServiceClient{
		ProviderClient: a.keystoneAPI.Client(),
		Endpoint:       url,
		Type:           serviceType,
		Microversion:   "2.53",
	}
	return nil
}

func (a *api) LiveMigrate(ctx context.Context, instanceUUID, destinationHost string) error {
	blockMigration := false
	diskOverCommit := false
	host := destinationHost
	opts := servers.LiveMigrateOpts{
		Host:           &host,
		BlockMigration: &blockMigration,
		DiskOverCommit: &diskOverCommit,
	}
	result := servers.LiveMigrate(ctx, a.sc, instanceUUID, opts)
	if result.Err != nil {
		return fmt.Errorf("live migrating %s to %s: %w", instanceUUID, destinationHost, result.Err)
	}
	return nil
}

// ColdMigrate, much like GetServerMigrations in the teacher, isn't
// wrapped by gophercloud (it's a bare server-action endpoint), so it is
// issued as a raw action call.
func (a *api) ColdMigrate(ctx context.Context, instanceUUID string) error {
	body := map[string]any{"migrate": map[string]any{}}
	url := a.sc.Endpoint + "servers/" + instanceUUID + "/action"
	_, err := a.doJSON(ctx, http.MethodPost, url, body, nil)
	if err != nil {
		return fmt.Errorf("cold migrating %s: %w", instanceUUID, err)
	}
	return nil
}

func (a *api) SuspendHost(ctx context.Context, hostname string) error {
	url := a.sc.Endpoint + "os-services/suspend"
	body := map[string]any{"host": hostname}
	_, err := a.doJSON(ctx, http.MethodPut, url, body, nil)
	if err != nil {
		return fmt.Errorf("suspending host %s: %w", hostname, err)
	}
	return nil
}

func (a *api) PrepareHostForSuspending(ctx context.Context, hostname string) (string, error) {
	url := a.sc.Endpoint + "os-hypervisors/" + hostname + "/mac"
	var out struct {
		MAC string `json:"mac_address"`
	}
	if _, err := a.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return "", fmt.Errorf("fetching wake-on-lan mac for %s: %w", hostname, err)
	}
	return out.MAC, nil
}

func (a *api) ListInProgressMigrations(ctx context.Context, host, node string) ([]Migration, error) {
	url := a.sc.Endpoint + "os-migrations?source_compute=" + host + "&source_node=" + node
	var list struct {
		Migrations []struct {
			InstanceUUID  string `json:"instance_uuid"`
			SourceCompute string `json:"source_compute"`
			DestCompute   string `json:"dest_compute"`
			Status        string `json:"status"`
		} `json:"migrations"`
	}
	if _, err := a.doJSON(ctx, http.MethodGet, url, nil, &list); err != nil {
		return nil, fmt.Errorf("listing migrations for %s/%s: %w", host, node, err)
	}
	out := make([]Migration, 0, len(list.Migrations))
	for _, m := range list.Migrations {
		status := MigrationStatus(m.Status)
		if status != MigrationFinished && status != MigrationError {
			status = MigrationRunning
		}
		out = append(out, Migration{
			InstanceUUID: m.InstanceUUID,
			Source:       m.SourceCompute,
			Destination:  m.DestCompute,
			Status:       status,
		})
	}
	return out, nil
}

// CountInProgressMigrations lists every non-terminal migration cluster-wide
// (no source_compute filter, unlike ListInProgressMigrations) and tallies
// counts by source and destination host.
func (a *api) CountInProgressMigrations(ctx context.Context) (map[string]int, map[string]int, error) {
	url := a.sc.Endpoint + "os-migrations"
	var list struct {
		Migrations []struct {
			InstanceUUID  string `json:"instance_uuid"`
			SourceCompute string `json:"source_compute"`
			DestCompute   string `json:"dest_compute"`
			Status        string `json:"status"`
		} `json:"migrations"`
	}
	if _, err := a.doJSON(ctx, http.MethodGet, url, nil, &list); err != nil {
		return nil, nil, fmt.Errorf("listing cluster-wide migrations: %w", err)
	}
	bySource := map[string]int{}
	byDest := map[string]int{}
	for _, m := range list.Migrations {
		status := MigrationStatus(m.Status)
		if status == MigrationFinished || status == MigrationError {
			continue
		}
		bySource[m.SourceCompute]++
		byDest[m.DestCompute]++
	}
	return bySource, byDest, nil
}

// doJSON issues a raw authenticated request against the Nova endpoint
// for operations gophercloud doesn't wrap, mirroring the teacher's
// GetServerMigrations fallback (descheduling/internal/nova/nova_api.go).
func (a *api) doJSON(ctx context.Context, method, url string, body, out any) (*http.Response, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	var reader io.Reader = http.NoBody
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Auth-Token", a.sc.Token())
	req.Header.Set("X-OpenStack-Nova-API-Version", a.sc.Microversion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.sc.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}
