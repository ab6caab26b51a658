// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package keystone authenticates against OpenStack and locates the Nova
// endpoint, grounded on the teacher's lib/keystone/keystone_api.go.
package keystone

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
)

// API authenticates against OpenStack keystone and resolves service
// endpoints from the catalog.
type API interface {
	Authenticate(ctx context.Context) error
	Client() *gophercloud.ProviderClient
	FindEndpoint(availability, serviceType string) (string, error)
}

type api struct {
	client     *gophercloud.ProviderClient
	conf       conf.KeystoneConfig
	httpClient *http.Client
}

// New builds a keystone API client from c. An optional httpClient
// overrides the default transport, matching the teacher's
// NewKeystoneAPIWithHTTPClient constructor (used by tests to point at a
// fake OpenStack).
func New(c conf.KeystoneConfig, httpClient *http.Client) API {
	return &api{conf: c, httpClient: httpClient}
}

func (a *api) Authenticate(ctx context.Context) error {
	if a.client != nil {
		return nil
	}
	slog.Info("authenticating against openstack", "url", a.conf.URL)
	authOptions := gophercloud.AuthOptions{
		IdentityEndpoint: a.conf.URL,
		Username:         a.conf.OSUsername,
		DomainName:       a.conf.OSUserDomainName,
		Password:         a.conf.OSPassword,
		AllowReauth:      true,
		Scope: &gophercloud.AuthScope{
			ProjectName: a.conf.OSProjectName,
			DomainName:  a.conf.OSProjectDomainName,
		},
	}
	provider, err := openstack.NewClient(authOptions.IdentityEndpoint)
	if err != nil {
		return fmt.Errorf("building openstack client: %w", err)
	}
	if a.httpClient != nil {
		provider.HTTPClient = *a.httpClient
	}
	if err := openstack.Authenticate(ctx, provider, authOptions); err != nil {
		return fmt.Errorf("authenticating against openstack: %w", err)
	}
	a.client = provider
	slog.Info("authenticated against openstack")
	return nil
}

func (a *api) FindEndpoint(availability, serviceType string) (string, error) {
	return a.client.EndpointLocator(gophercloud.EndpointOpts{
		Type:         serviceType,
		Availability: gophercloud.Availability(availability),
	})
}

func (a *api) Client() *gophercloud.ProviderClient {
	return a.client
}
