// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// rebalancerctl is an operator CLI for the rebalancer REST API
// (spec.md §6), grounded on the cobra root/subcommand tree used by
// ja7ad-consumption/cmd/consumption and
// dmitriimaksimovdevelop-melisai/cmd/melisai.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type ruleDTO struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Value string `json:"value"`
	Allow bool   `json:"allow"`
}

type hostDTO struct {
	HypervisorHostname string  `json:"hypervisor_hostname"`
	CPUUsedPercent     float64 `json:"cpu_used_percent"`
	MemoryTotal        int64   `json:"memory_total"`
	MemoryUsed         int64   `json:"memory_used"`
	SuspendState       string  `json:"suspend_state"`
	MACToWake          *string `json:"mac_to_wake"`
	VCPUs              int     `json:"vcpus"`
}

type hostCommand struct {
	Host string `json:"host"`
}

type loadBalancerCommand struct {
	SuspendHost   *hostCommand `json:"suspend_host,omitempty"`
	UnsuspendHost *hostCommand `json:"unsuspend_host,omitempty"`
}

// client is a thin wrapper over the REST API; it carries no state
// beyond the base URL, matching the teacher's habit of keeping CLI
// client types stateless and short-lived per invocation.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(payload))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	var baseURL string

	root := &cobra.Command{
		Use:   "rebalancerctl",
		Short: "Operate a running rebalancer instance",
		Long: `rebalancerctl talks to a running rebalancer's REST API to inspect
hosts, manage placement rules, and trigger suspend/unsuspend commands.`,
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", "http://localhost:8080", "base URL of the rebalancer REST API")

	root.AddCommand(
		newHostsCommand(&baseURL),
		newRulesCommand(&baseURL),
		newSuspendCommand(&baseURL),
		newUnsuspendCommand(&baseURL),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newHostsCommand(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List compute hosts known to the balancer",
		RunE: func(cmd *cobra.Command, args []string) error {
			var hosts []hostDTO
			if err := newClient(*baseURL).do(http.MethodGet, "/loadbalancer", nil, &hosts); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "HOSTNAME\tCPU%\tMEM USED\tMEM TOTAL\tVCPUS\tSTATE")
			for _, h := range hosts {
				fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\t%d\t%s\n",
					h.HypervisorHostname, h.CPUUsedPercent, h.MemoryUsed, h.MemoryTotal, h.VCPUs, h.SuspendState)
			}
			return tw.Flush()
		},
	}
}

func newRulesCommand(baseURL *string) *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Manage placement allow/deny rules",
	}

	rules.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List placement rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []ruleDTO
			if err := newClient(*baseURL).do(http.MethodGet, "/lbrules", nil, &out); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tVALUE\tALLOW")
			for _, r := range out {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", r.ID, r.Type, r.Value, r.Allow)
			}
			return tw.Flush()
		},
	})

	var ruleType, ruleValue string
	var allow bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a placement rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out ruleDTO
			in := ruleDTO{Type: ruleType, Value: ruleValue, Allow: allow}
			if err := newClient(*baseURL).do(http.MethodPost, "/lbrules", in, &out); err != nil {
				return err
			}
			fmt.Printf("created rule %d\n", out.ID)
			return nil
		},
	}
	create.Flags().StringVar(&ruleType, "type", "", "rule type: host, ha, or az")
	create.Flags().StringVar(&ruleValue, "value", "", "value to match against the rule type")
	create.Flags().BoolVar(&allow, "allow", false, "allow (true) or deny (false) matching hosts")
	_ = create.MarkFlagRequired("type")
	_ = create.MarkFlagRequired("value")
	rules.AddCommand(create)

	rules.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a placement rule by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(*baseURL).do(http.MethodDelete, "/lbrules/"+args[0], nil, nil)
		},
	})

	return rules
}

func newSuspendCommand(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend [hostname]",
		Short: "Drain and suspend a compute host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := loadBalancerCommand{SuspendHost: &hostCommand{Host: args[0]}}
			if err := newClient(*baseURL).do(http.MethodPost, "/loadbalancer", body, nil); err != nil {
				return err
			}
			fmt.Printf("suspend requested for %s\n", args[0])
			return nil
		},
	}
}

func newUnsuspendCommand(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unsuspend [hostname]",
		Short: "Wake and unsuspend a compute host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := loadBalancerCommand{UnsuspendHost: &hostCommand{Host: args[0]}}
			if err := newClient(*baseURL).do(http.MethodPost, "/loadbalancer", body, nil); err != nil {
				return err
			}
			fmt.Printf("unsuspend requested for %s\n", args[0])
			return nil
		},
	}
}
