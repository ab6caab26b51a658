// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package conf loads the rebalancer configuration into a single immutable
// value at startup. Unlike the mutable singleton config used by the
// original implementation, nothing here is read from a package-level
// global after load: the caller threads the returned Config through
// every constructor that needs it.
package conf

import (
	"encoding/json"
	"fmt"
	"os"
)

// Configuration for structured logging.
type LoggingConfig struct {
	// The log level to use (debug, info, warn, error).
	Level string `json:"level"`
	// The log format to use (json, text).
	Format string `json:"format"`
}

// Database configuration.
type DBConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// Configuration for the metrics endpoint.
type MonitoringConfig struct {
	// Port the prometheus /metrics endpoint listens on.
	Port int `json:"port"`
	// Labels added to every metric, e.g. to distinguish clusters.
	Labels map[string]string `json:"labels"`
}

// Configuration for the REST API.
type APIConfig struct {
	Port int `json:"port"`
}

// Configuration for authenticating against the compute orchestrator.
type KeystoneConfig struct {
	URL                 string `json:"url"`
	Availability        string `json:"availability"`
	OSUsername          string `json:"username"`
	OSPassword          string `json:"password"`
	OSProjectName       string `json:"projectName"`
	OSUserDomainName    string `json:"userDomainName"`
	OSProjectDomainName string `json:"projectDomainName"`
}

// Which strategy implementations are wired in at startup (§9: pluggable
// strategies are a sum type chosen by name, not late-bound discovery).
type StrategyConfig struct {
	ThresholdClass string `json:"thresholdClass"`
	BalancerClass  string `json:"balancerClass"`
	UnderloadClass string `json:"underloadClass"`

	EnableBalancer  bool `json:"enableBalancer"`
	EnableUnderload bool `json:"enableUnderload"`
}

// Thresholds for the standard-deviation overload detector (C5).
type ThresholdConfig struct {
	StandardDeviationThresholdCPU    float64 `json:"standardDeviationThresholdCpu"`
	StandardDeviationThresholdMemory float64 `json:"standardDeviationThresholdMemory"`
}

// Thresholds for the underload controller (C7).
type UnderloadConfig struct {
	ThresholdCPU    float64 `json:"thresholdCpu"`
	ThresholdMemory float64 `json:"thresholdMemory"`
	UnsuspendCPU    float64 `json:"unsuspendCpu"`
	UnsuspendMemory float64 `json:"unsuspendMemory"`
}

// Weights used by the normalise-and-weight balancer (C3/C6).
type WeightsConfig struct {
	CPUWeight           float64 `json:"cpuWeight"`
	MemoryWeight        float64 `json:"memoryWeight"`
	IOWeight            float64 `json:"ioWeight"`
	ComputeCPUWeight    float64 `json:"computeCpuWeight"`
	ComputeMemoryWeight float64 `json:"computeMemoryWeight"`
}

// Configuration for the host filter chain (C4).
type FiltersConfig struct {
	DefaultFilters []string `json:"defaultFilters"`
	MaxMigrations  int      `json:"maxMigrations"`
}

// Configuration for stats garbage collection.
type GCConfig struct {
	UTCOffsetSeconds int `json:"utcOffsetSeconds"`
	TTLSeconds       int `json:"ttlSeconds"`
}

// Configuration for the periodic driver intervals (C8).
type DriverConfig struct {
	RebalanceTickSeconds          int `json:"rebalanceTickSeconds"`
	AdvanceSuspensionsTickSeconds int `json:"advanceSuspensionsTickSeconds"`
	GCTickSeconds                 int `json:"gcTickSeconds"`
}

// Config is the full, immutable configuration for one rebalancer process.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	DB         DBConfig         `json:"db"`
	Monitoring MonitoringConfig `json:"monitoring"`
	API        APIConfig        `json:"api"`
	Keystone   KeystoneConfig   `json:"keystone"`
	Strategy   StrategyConfig   `json:"strategy"`
	Threshold  ThresholdConfig  `json:"threshold"`
	Underload  UnderloadConfig  `json:"underload"`
	Weights    WeightsConfig    `json:"weights"`
	Filters    FiltersConfig    `json:"filters"`
	GC         GCConfig         `json:"gc"`
	Driver     DriverConfig     `json:"driver"`
}

// Default returns a Config with every default from spec.md §6 applied.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Monitoring: MonitoringConfig{
			Port:   9090,
			Labels: map[string]string{},
		},
		API: APIConfig{Port: 8080},
		Strategy: StrategyConfig{
			ThresholdClass:  "standard_deviation",
			BalancerClass:   "minimizeSD",
			UnderloadClass:  "mean_underload",
			EnableBalancer:  true,
			EnableUnderload: false,
		},
		Threshold: ThresholdConfig{
			StandardDeviationThresholdCPU:    0.05,
			StandardDeviationThresholdMemory: 0.3,
		},
		Underload: UnderloadConfig{
			ThresholdCPU:    0.05,
			ThresholdMemory: 0.05,
			UnsuspendCPU:    0.40,
			UnsuspendMemory: 0.40,
		},
		Weights: WeightsConfig{
			CPUWeight:           1.0,
			MemoryWeight:        1.0,
			IOWeight:            1.0,
			ComputeCPUWeight:    1.0,
			ComputeMemoryWeight: 1.0,
		},
		Filters: FiltersConfig{
			DefaultFilters: []string{
				"Retry",
				"AvailabilityZone",
				"RealRam",
				"Compute",
				"ComputeCapabilities",
				"ImageProperties",
				"ServerGroupAntiAffinity",
				"ServerGroupAffinity",
				"MaxMigrations",
			},
			MaxMigrations: 10,
		},
		GC: GCConfig{
			UTCOffsetSeconds: 10800,
			TTLSeconds:       300,
		},
		Driver: DriverConfig{
			RebalanceTickSeconds:          60,
			AdvanceSuspensionsTickSeconds: 30,
			GCTickSeconds:                 300,
		},
	}
}

// ConfigError is raised for an invalid configuration at startup, which is
// fatal per spec.md §7.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

var supportedThresholdClasses = map[string]bool{"standard_deviation": true}
var supportedBalancerClasses = map[string]bool{"minimizeSD": true}
var supportedUnderloadClasses = map[string]bool{"mean_underload": true}

// Validate checks that the strategy classes named in the config are known
// to this binary. An unknown class is a fatal ConfigError (spec.md §7).
func (c Config) Validate() error {
	if !supportedThresholdClasses[c.Strategy.ThresholdClass] {
		return &ConfigError{Field: "strategy.thresholdClass", Reason: "unsupported threshold class " + c.Strategy.ThresholdClass}
	}
	if !supportedBalancerClasses[c.Strategy.BalancerClass] {
		return &ConfigError{Field: "strategy.balancerClass", Reason: "unsupported balancer class " + c.Strategy.BalancerClass}
	}
	if !supportedUnderloadClasses[c.Strategy.UnderloadClass] {
		return &ConfigError{Field: "strategy.underloadClass", Reason: "unsupported underload class " + c.Strategy.UnderloadClass}
	}
	if c.Filters.MaxMigrations < 0 {
		return &ConfigError{Field: "filters.maxMigrations", Reason: "must be >= 0"}
	}
	return nil
}

// Load reads the configuration from the given JSON file, applying
// Default() first so unset fields keep their defaults, then overlays
// environment-variable overrides for the values operators normally keep
// out of version control.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyEnvOverrides(&c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("REBALANCER_DB_PASSWORD"); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv("REBALANCER_OS_PASSWORD"); v != "" {
		c.Keystone.OSPassword = v
	}
}
