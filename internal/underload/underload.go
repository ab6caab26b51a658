// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package underload drives the host suspend/unsuspend state machine
// (C7), grounded on nova/loadbalancer/underload/mean_underload.py in the
// original implementation.
package underload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cobaltcore-dev/rebalancer/internal/balancer"
	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/orchestrator"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
	"github.com/cobaltcore-dev/rebalancer/internal/threshold"
	"github.com/cobaltcore-dev/rebalancer/internal/wol"
)

// ErrWrongState is raised when a caller requests a suspend/unsuspend
// transition the host's current state doesn't allow (spec.md §4.7).
var ErrWrongState = errors.New("host is not in the required suspend state")

// ErrHostNotFound is raised when the requested host doesn't exist.
var ErrHostNotFound = errors.New("host not found")

// Config holds the underload/wake thresholds (spec.md §6).
type Config struct {
	ThresholdCPU    float64 // θ_cpu
	ThresholdMemory float64 // θ_mem
	UnsuspendCPU    float64 // θ_wake_cpu
	UnsuspendMemory float64 // θ_wake_mem
}

func ConfigFrom(c conf.UnderloadConfig) Config {
	return Config{
		ThresholdCPU:    c.ThresholdCPU,
		ThresholdMemory: c.ThresholdMemory,
		UnsuspendCPU:    c.UnsuspendCPU,
		UnsuspendMemory: c.UnsuspendMemory,
	}
}

// Controller implements indicate/suspend/wakeCheck/unsuspend.
type Controller struct {
	view         *statistics.View
	store        *db.Store
	orchestrator orchestrator.API
	balancer     *balancer.Balancer
	wol          wol.Sender
	cfg          Config
}

func New(view *statistics.View, store *db.Store, orch orchestrator.API, bal *balancer.Balancer, sender wol.Sender, cfg Config) *Controller {
	return &Controller{view: view, store: store, orchestrator: orch, balancer: bal, wol: sender, cfg: cfg}
}

// Indicate is the underload tick's entry point (spec.md §4.7's
// `indicate`).
func (c *Controller) Indicate(ctx context.Context, loads []threshold.Load, extra balancer.Extra) error {
	if len(loads) <= 1 {
		return c.wakeCheck(ctx, extra)
	}
	for _, l := range loads {
		if l.CPU < c.cfg.ThresholdCPU || l.Mem < c.cfg.ThresholdMemory {
			ok, err := c.Suspend(ctx, l.Hostname)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
	return c.wakeCheck(ctx, extra)
}

// Suspend transitions host from active to suspending and starts
// draining it. Returns false (having rolled back to active) if no
// destination is feasible for any instance on the host.
func (c *Controller) Suspend(ctx context.Context, hostname string) (bool, error) {
	host, err := c.getHost(hostname)
	if err != nil {
		return false, err
	}
	if host.SuspendState != db.SuspendStateActive {
		return false, fmt.Errorf("%w: host %s is %s", ErrWrongState, hostname, host.SuspendState)
	}
	if err := c.store.SetSuspendState(hostname, db.SuspendStateSuspending, host.MACToWake, now()); err != nil {
		return false, fmt.Errorf("transitioning %s to suspending: %w", hostname, err)
	}
	drained, err := c.balancer.MigrateAllFrom(ctx, hostname)
	if err != nil {
		slog.Warn("drain failed, rolling back suspend", "host", hostname, "error", err)
	}
	if !drained {
		if err := c.store.SetSuspendState(hostname, db.SuspendStateActive, host.MACToWake, now()); err != nil {
			return false, fmt.Errorf("rolling back %s to active: %w", hostname, err)
		}
		return false, nil
	}
	return true, nil
}

// wakeCheck wakes at most one suspended host per tick when cluster means
// exceed the wake thresholds (spec.md §4.7).
func (c *Controller) wakeCheck(ctx context.Context, extra balancer.Extra) error {
	if extra.CPUMean <= c.cfg.UnsuspendCPU && extra.RAMMean <= c.cfg.UnsuspendMemory {
		return nil
	}
	suspended := db.SuspendStateSuspended
	hosts, err := c.view.ListHosts(statistics.Filter{SuspendState: &suspended})
	if err != nil {
		return fmt.Errorf("listing suspended hosts: %w", err)
	}
	if len(hosts) == 0 {
		return nil
	}
	pick := hosts[0].HypervisorHostname
	for _, h := range hosts[1:] {
		if h.HypervisorHostname < pick {
			pick = h.HypervisorHostname
		}
	}
	return c.Unsuspend(ctx, pick)
}

// Unsuspend wakes a suspended host via wake-on-LAN and transitions it
// back to active. On WOL failure the host reverts to suspended
// (spec.md §5's failure semantics).
func (c *Controller) Unsuspend(_ context.Context, hostname string) error {
	host, err := c.getHost(hostname)
	if err != nil {
		return err
	}
	if host.SuspendState != db.SuspendStateSuspended {
		return fmt.Errorf("%w: host %s is %s", ErrWrongState, hostname, host.SuspendState)
	}
	var mac string
	if host.MACToWake != nil {
		mac = *host.MACToWake
	}
	if err := c.wol.Wake(mac); err != nil {
		slog.Warn("wake-on-lan failed, host remains suspended", "host", hostname, "error", err)
		return nil
	}
	if err := c.store.SetSuspendState(hostname, db.SuspendStateActive, host.MACToWake, now()); err != nil {
		return fmt.Errorf("transitioning %s to active: %w", hostname, err)
	}
	return nil
}

func (c *Controller) getHost(hostname string) (statistics.Host, error) {
	hosts, err := c.view.ListHosts(statistics.Filter{AllowedHostnames: []string{hostname}})
	if err != nil {
		return statistics.Host{}, fmt.Errorf("listing host %s: %w", hostname, err)
	}
	if len(hosts) == 0 {
		return statistics.Host{}, fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
	}
	return hosts[0], nil
}

func now() int64 { return time.Now().Unix() }
