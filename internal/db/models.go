// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

// SuspendState is the host suspend/unsuspend state machine's state
// (spec.md §3/§4.7).
type SuspendState string

const (
	SuspendStateActive     SuspendState = "active"
	SuspendStateSuspending SuspendState = "suspending"
	SuspendStateSuspended  SuspendState = "suspended"
)

// Host mirrors compute_nodes extended with suspend_state/mac_to_wake
// (spec.md §6).
type Host struct {
	ID                 int64        `db:"id"`
	HypervisorHostname string       `db:"hypervisor_hostname"`
	MemoryTotal        int64        `db:"memory_total"`
	MemoryUsed         int64        `db:"memory_used"`
	CPUUsedPercent     float64      `db:"cpu_used_percent"`
	VCPUs              int          `db:"vcpus"`
	HostIP             string       `db:"host_ip"`
	MACToWake          *string      `db:"mac_to_wake"`
	SuspendState       SuspendState `db:"suspend_state"`
	HostLabel          string       `db:"host"`
	HA                 string       `db:"ha"`
	AZ                 string       `db:"az"`
	Active             bool         `db:"active"`
	ServiceUp          bool         `db:"service_up"`
	CreatedAt          int64        `db:"created_at"`
	UpdatedAt          int64        `db:"updated_at"`
	Deleted            bool         `db:"deleted"`
}

func (Host) TableName() string { return "compute_node_stats" }

func (Host) Indexes() []Index {
	return []Index{{Name: "idx_host_hostname", ColumnNames: []string{"hypervisor_hostname"}}}
}

// HostMean carries EWMA/averaged memory_used and cpu_used_percent over the
// last ttl window (spec.md §3, "mean variant").
type HostMean struct {
	HypervisorHostname string  `db:"hypervisor_hostname"`
	MemoryUsed         float64 `db:"memory_used"`
	CPUUsedPercent     float64 `db:"cpu_used_percent"`
	Samples            int     `db:"samples"`
}

func (HostMean) TableName() string { return "compute_node_stats_mean" }

// InstanceStat is the per-VM record keyed by VM uuid (spec.md §3/§6).
type InstanceStat struct {
	ID                int64  `db:"id"`
	InstanceUUID      string `db:"instance_uuid"`
	LibvirtID         int64  `db:"libvirt_id"`
	CPUTime           int64  `db:"cpu_time"`
	PrevCPUTime       int64  `db:"prev_cpu_time"`
	Mem               int64  `db:"mem"`
	BlockDevIOPS      int64  `db:"block_dev_iops"`
	PrevBlockDevIOPS  int64  `db:"prev_block_dev_iops"`
	PrevUpdatedAt     *int64 `db:"prev_updated_at"`
	UpdatedAt         *int64 `db:"updated_at"`
	CreatedAt         int64  `db:"created_at"`

	// Back-reference to the owning VM, treated as a lookup key rather
	// than an owning link (spec.md §9 design note).
	Host      string `db:"host"`
	VCPUs     int    `db:"vcpus"`
	VMState   string `db:"vm_state"`
	TaskState string `db:"task_state"`

	Deleted bool `db:"deleted"`
}

func (InstanceStat) TableName() string { return "instance_stats" }

func (InstanceStat) Indexes() []Index {
	return []Index{
		{Name: "idx_instance_uuid", ColumnNames: []string{"instance_uuid"}},
		{Name: "idx_instance_host", ColumnNames: []string{"host"}},
	}
}

// Rule is one loadbalancer_rules row (spec.md §3/§6).
type Rule struct {
	ID        int64  `db:"id"`
	Type      string `db:"type"`
	Value     string `db:"value"`
	Allow     bool   `db:"allow"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Deleted   bool   `db:"deleted"`
}

func (Rule) TableName() string { return "loadbalancer_rules" }

// Migration mirrors file names already executed by the schema migrater
// (see migrations.go), following the teacher's internal/db/migrations.go.
type Migration struct {
	FileName string `db:"file_name"`
}

func (Migration) TableName() string { return "migrations" }

func (Migration) Indexes() []Index {
	return []Index{{Name: "idx_migrations_file_name", ColumnNames: []string{"file_name"}}}
}
