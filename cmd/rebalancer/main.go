// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cobaltcore-dev/rebalancer/internal/api"
	"github.com/cobaltcore-dev/rebalancer/internal/balancer"
	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/cobaltcore-dev/rebalancer/internal/db"
	"github.com/cobaltcore-dev/rebalancer/internal/driver"
	"github.com/cobaltcore-dev/rebalancer/internal/keystone"
	"github.com/cobaltcore-dev/rebalancer/internal/logging"
	"github.com/cobaltcore-dev/rebalancer/internal/monitoring"
	"github.com/cobaltcore-dev/rebalancer/internal/orchestrator"
	"github.com/cobaltcore-dev/rebalancer/internal/statistics"
	"github.com/cobaltcore-dev/rebalancer/internal/underload"
	"github.com/cobaltcore-dev/rebalancer/internal/wol"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/httpext"
)

func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", config.Port)
	slog.Info("metrics listening", "port", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

func main() {
	configPath := os.Getenv("REBALANCER_CONFIG")
	if configPath == "" {
		configPath = "/etc/rebalancer/config.json"
	}
	config, err := conf.Load(configPath)
	if err != nil {
		panic(err)
	}

	logger := logging.NewLogger(config.Logging)
	logging.SetDefault(logger)

	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetOverrideUserAgent("rebalancer", "rolling")

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	registry := monitoring.NewRegistry(config.Monitoring)
	go runMonitoringServer(ctx, registry, config.Monitoring)

	database, err := db.NewPostgresDB(config.DB)
	if err != nil {
		panic(err)
	}
	defer database.Close()

	migrater := db.NewMigrater(database)
	if err := migrater.Migrate(); err != nil {
		panic(err)
	}
	store := db.NewStore(database)
	view := statistics.NewView(store)

	keystoneAPI := keystone.New(config.Keystone, nil)
	orchestratorAPI := orchestrator.New(keystoneAPI, config.Keystone)
	if err := orchestratorAPI.Init(ctx); err != nil {
		panic(err)
	}

	bal := balancer.New(view, store, orchestratorAPI, config.Weights, config.Filters.DefaultFilters, config.Filters.MaxMigrations)
	wakeOnLAN := wol.New("255.255.255.255:9")
	underloadController := underload.New(view, store, orchestratorAPI, bal, wakeOnLAN, underload.ConfigFrom(config.Underload))

	drv := driver.New(view, store, orchestratorAPI, bal, underloadController, config.Strategy, config.Threshold, config.GC, config.Driver)
	go drv.Run(ctx)

	restAPI := api.New(config.API, store, view, underloadController, registry)
	if err := restAPI.Init(ctx); err != nil {
		panic(err)
	}
}
