// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package api is the REST surface over rules and suspend/unsuspend
// commands (spec.md §6), grounded on the teacher's
// internal/scheduler/api.API: a net/http.ServeMux bound via
// httpext.ListenAndServeContext, request handling split into small
// helpers with a uniform JSON error envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/rules"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
	"github.com/cobaltcore-dev/rebalancer/internal/underload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/httpext"
)

// API binds the HTTP handlers and blocks until ctx is cancelled.
type API interface {
	Init(ctx context.Context) error
}

type api struct {
	config    conf.APIConfig
	store     *db.Store
	view      *statistics.View
	underload *underload.Controller
	requests  *prometheus.HistogramVec
}

// New builds the REST API. registerer may be nil, in which case request
// durations are not recorded (used by tests).
func New(config conf.APIConfig, store *db.Store, view *statistics.View, underloadController *underload.Controller, registerer prometheus.Registerer) API {
	a := &api{config: config, store: store, view: view, underload: underloadController}
	a.requests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "rebalancer_api_request_duration_seconds",
		Help: "Duration of REST API requests, by method, route and status code.",
	}, []string{"method", "route", "code"})
	if registerer != nil {
		registerer.MustRegister(a.requests)
	}
	return a
}

func (a *api) Init(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /lbrules", a.instrument("/lbrules", a.listRules))
	mux.HandleFunc("GET /lbrules/{id}", a.instrument("/lbrules/{id}", a.getRule))
	mux.HandleFunc("POST /lbrules", a.instrument("/lbrules", a.createRule))
	mux.HandleFunc("DELETE /lbrules/{id}", a.instrument("/lbrules/{id}", a.deleteRule))
	mux.HandleFunc("GET /loadbalancer", a.instrument("/loadbalancer", a.listLoadBalancerHosts))
	mux.HandleFunc("POST /loadbalancer", a.instrument("/loadbalancer", a.postLoadBalancerCommand))

	addr := fmt.Sprintf(":%d", a.config.Port)
	slog.Info("api listening on", "port", a.config.Port)
	return httpext.ListenAndServeContext(ctx, addr, mux)
}

// statusRecorder captures the status code written by a handler so it can be
// reported as a metric label.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request duration and status code for route, matching
// the teacher's per-handler request timer.
func (a *api) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next(rec, r)
		a.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Observe(time.Since(start).Seconds())
	}
}

// ruleDTO is the wire shape for loadbalancer_rules rows.
type ruleDTO struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Value string `json:"value"`
	Allow bool   `json:"allow"`
}

func (a *api) listRules(w http.ResponseWriter, _ *http.Request) {
	rows, err := a.store.ListRules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]ruleDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, ruleDTO{ID: r.ID, Type: r.Type, Value: r.Value, Allow: r.Allow})
	}
	respondJSON(w, http.StatusOK, out)
}

// getRule returns the rule body for GET /lbrules/{id} (resolved open
// question in spec.md §9: show returns the full body, not 204).
func (a *api) getRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid rule id"))
		return
	}
	rule, err := a.store.GetRule(id)
	if err != nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("rule %d not found", id))
		return
	}
	respondJSON(w, http.StatusOK, ruleDTO{ID: rule.ID, Type: rule.Type, Value: rule.Value, Allow: rule.Allow})
}

func (a *api) createRule(w http.ResponseWriter, r *http.Request) {
	var body ruleDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if body.Type != "host" && body.Type != "ha" && body.Type != "az" {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported rule type %q", body.Type))
		return
	}
	now := time.Now().Unix()
	rule := db.Rule{Type: body.Type, Value: body.Value, Allow: body.Allow, CreatedAt: now, UpdatedAt: now}
	if err := a.store.CreateRule(&rule); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, ruleDTO{ID: rule.ID, Type: rule.Type, Value: rule.Value, Allow: rule.Allow})
}

func (a *api) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid rule id"))
		return
	}
	if err := a.store.DeleteRule(id, time.Now().Unix()); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// hostDTO is the wire shape for GET /loadbalancer (spec.md §6).
type hostDTO struct {
	HypervisorHostname string  `json:"hypervisor_hostname"`
	CPUUsedPercent     float64 `json:"cpu_used_percent"`
	MemoryTotal        int64   `json:"memory_total"`
	MemoryUsed         int64   `json:"memory_used"`
	SuspendState       string  `json:"suspend_state"`
	MACToWake          *string `json:"mac_to_wake"`
	VCPUs              int     `json:"vcpus"`
}

func (a *api) listLoadBalancerHosts(w http.ResponseWriter, _ *http.Request) {
	hosts, err := a.view.ListHosts(statistics.Filter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]hostDTO, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, hostDTO{
			HypervisorHostname: h.HypervisorHostname,
			CPUUsedPercent:     h.CPUUsedPercent,
			MemoryTotal:        h.MemoryTotal,
			MemoryUsed:         h.MemoryUsed,
			SuspendState:       string(h.SuspendState),
			MACToWake:          h.MACToWake,
			VCPUs:              h.VCPUs,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type loadBalancerCommand struct {
	SuspendHost   *hostCommand `json:"suspend_host"`
	UnsuspendHost *hostCommand `json:"unsuspend_host"`
}

type hostCommand struct {
	Host string `json:"host"`
}

// postLoadBalancerCommand implements POST /loadbalancer (spec.md §6):
// suspend_host/unsuspend_host, mapping domain errors to HTTP codes per
// spec.md §7.
func (a *api) postLoadBalancerCommand(w http.ResponseWriter, r *http.Request) {
	var cmd loadBalancerCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	switch {
	case cmd.SuspendHost != nil:
		host := strings.TrimSpace(cmd.SuspendHost.Host)
		if host == "" {
			respondError(w, http.StatusBadRequest, errors.New("missing host"))
			return
		}
		blocked, err := a.blockedByRule(host)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if blocked {
			respondError(w, http.StatusBadRequest, fmt.Errorf("host %s is blocked by rule", host))
			return
		}
		ok, err := a.underload.Suspend(r.Context(), host)
		if err != nil {
			respondCommandError(w, err)
			return
		}
		if !ok {
			respondError(w, http.StatusConflict, fmt.Errorf("no feasible destination to drain %s", host))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	case cmd.UnsuspendHost != nil:
		host := strings.TrimSpace(cmd.UnsuspendHost.Host)
		if host == "" {
			respondError(w, http.StatusBadRequest, errors.New("missing host"))
			return
		}
		if err := a.underload.Unsuspend(r.Context(), host); err != nil {
			respondCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		respondError(w, http.StatusBadRequest, errors.New("missing suspend_host or unsuspend_host"))
	}
}

// blockedByRule reports whether the rule engine denies placement
// traffic from host, which also blocks it from being drained
// (spec.md §6's "blocked by rule" 400).
func (a *api) blockedByRule(host string) (bool, error) {
	ruleRows, err := a.store.ListRules()
	if err != nil {
		return false, err
	}
	hosts, err := a.view.ListHosts(statistics.Filter{AllowedHostnames: []string{host}})
	if err != nil {
		return false, err
	}
	if len(hosts) == 0 {
		return false, nil
	}
	domainRules := make([]rules.Rule, 0, len(ruleRows))
	for _, r := range ruleRows {
		domainRules = append(domainRules, rules.Rule{ID: r.ID, Type: rules.RuleType(r.Type), Value: r.Value, Allow: r.Allow, Deleted: r.Deleted})
	}
	attrs := map[string]rules.HostAttributes{host: {Host: hosts[0].HypervisorHostname, HA: hosts[0].HA, AZ: hosts[0].AZ}}
	verdicts := rules.AllowedHosts(attrs, domainRules)
	return !verdicts[host], nil
}

func respondCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, underload.ErrWrongState):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, underload.ErrHostNotFound):
		respondError(w, http.StatusNotFound, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response body", "error", err)
	}
}

func respondError(w http.ResponseWriter, code int, err error) {
	slog.Warn("request failed", "code", code, "error", err)
	respondJSON(w, code, map[string]string{"error": err.Error()})
}
