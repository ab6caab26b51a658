// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/cobaltcore-dev/rebalancer/internal/balancer"
	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/orchestrator"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
	"github.com/cobaltcore-dev/rebalancer/internal/underload"
)

type noopWOL struct{}

func (noopWOL) Wake(string) error { return nil }

func newTestAPI(t *testing.T) (*api, *db.Store) {
	t.Helper()
	d, err := db.NewSqliteDB(":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := db.NewMigrater(d).Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	store := db.NewStore(d)
	view := statistics.NewView(store)
	orch := orchestrator.NewFake()
	defaults := conf.Default()
	bal := balancer.New(view, store, orch, defaults.Weights, defaults.Filters.DefaultFilters, defaults.Filters.MaxMigrations)
	underloadController := underload.New(view, store, orch, bal, noopWOL{}, underload.ConfigFrom(defaults.Underload))
	a := New(defaults.API, store, view, underloadController, nil).(*api)
	return a, store
}

func mux(a *api) *http.ServeMux {
	m := http.NewServeMux()
	m.HandleFunc("GET /lbrules", a.listRules)
	m.HandleFunc("GET /lbrules/{id}", a.getRule)
	m.HandleFunc("POST /lbrules", a.createRule)
	m.HandleFunc("DELETE /lbrules/{id}", a.deleteRule)
	m.HandleFunc("GET /loadbalancer", a.listLoadBalancerHosts)
	m.HandleFunc("POST /loadbalancer", a.postLoadBalancerCommand)
	return m
}

func TestCreateAndGetRule(t *testing.T) {
	a, _ := newTestAPI(t)
	m := mux(a)

	body := strings.NewReader(`{"type":"host","value":"compute1","allow":false}`)
	req := httptest.NewRequest(http.MethodPost, "/lbrules", body)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created ruleDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/lbrules/"+strconv.FormatInt(created.ID, 10), nil)
	getRec := httptest.NewRecorder()
	m.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestGetRuleNotFound(t *testing.T) {
	a, _ := newTestAPI(t)
	m := mux(a)
	req := httptest.NewRequest(http.MethodGet, "/lbrules/999", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSuspendHostWrongStateReturns400(t *testing.T) {
	a, store := newTestAPI(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "h1", SuspendState: db.SuspendStateSuspending}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	m := mux(a)
	body := strings.NewReader(`{"suspend_host":{"host":"h1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/loadbalancer", body)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSuspendHostUnknownHostReturns404(t *testing.T) {
	a, _ := newTestAPI(t)
	m := mux(a)
	body := strings.NewReader(`{"suspend_host":{"host":"ghost"}}`)
	req := httptest.NewRequest(http.MethodPost, "/loadbalancer", body)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSuspendHostBlockedByRuleReturns400(t *testing.T) {
	a, store := newTestAPI(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "h1", Active: true, ServiceUp: true, SuspendState: db.SuspendStateActive}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	if err := store.CreateRule(&db.Rule{Type: "host", Value: "h1", Allow: false}); err != nil {
		t.Fatalf("inserting rule: %v", err)
	}
	m := mux(a)
	body := strings.NewReader(`{"suspend_host":{"host":"h1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/loadbalancer", body)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListLoadBalancerHosts(t *testing.T) {
	a, store := newTestAPI(t)
	if err := store.DbMap.Insert(&db.Host{HypervisorHostname: "h1", MemoryTotal: 100, Active: true, ServiceUp: true}); err != nil {
		t.Fatalf("inserting host: %v", err)
	}
	m := mux(a)
	req := httptest.NewRequest(http.MethodGet, "/loadbalancer", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var hosts []hostDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &hosts); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(hosts) != 1 || hosts[0].HypervisorHostname != "h1" {
		t.Fatalf("unexpected hosts: %+v", hosts)
	}
}
