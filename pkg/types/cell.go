// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package types holds the serializable data shapes shared across the
// cell engine: cells, their provisioning state, services, and the
// append-only timing/activity event streams.
package types

import "time"

// CellStatus is the lifecycle status of a Cell.
type CellStatus string

const (
	CellSpawning CellStatus = "spawning"
	CellReady    CellStatus = "ready"
	CellError    CellStatus = "error"
	CellDeleting CellStatus = "deleting"
)

// StartMode selects whether a freshly ensured agent session starts in
// planning or building mode.
type StartMode string

const (
	StartModePlan  StartMode = "plan"
	StartModeBuild StartMode = "build"
)

// Cell is the unit of isolation: a worktree, its declared services, and
// an attached coding-agent session.
type Cell struct {
	ID                string
	WorkspaceID       string
	WorkspaceRootPath string
	WorkspacePath     string
	BranchName        string
	BaseCommit        string
	TemplateID        string
	Name              string
	Description       string
	CreatedAt         time.Time

	Status CellStatus

	// OpencodeSessionID is nil until the agent session is first ensured.
	OpencodeSessionID *string

	// LastSetupError carries a human-readable diagnostic from the most
	// recent failed provisioning attempt. Nil when the last attempt, if
	// any, succeeded.
	LastSetupError *string
}

// CellProvisioningState is 1:1 with a Cell and carries retry/attempt
// metadata plus the selection overrides used when (re)starting the
// agent session.
type CellProvisioningState struct {
	CellID             string
	ModelIDOverride    string
	ProviderIDOverride string
	StartMode          StartMode
	StartedAt          *time.Time
	FinishedAt         *time.Time
	AttemptCount       int
}

// ServiceType distinguishes a plain child process from a container.
type ServiceType string

const (
	ServiceTypeProcess ServiceType = "process"
	ServiceTypeDocker  ServiceType = "docker"
)

// ServiceStatus is the lifecycle status of a CellService.
type ServiceStatus string

const (
	ServicePending     ServiceStatus = "pending"
	ServiceStarting    ServiceStatus = "starting"
	ServiceRunning     ServiceStatus = "running"
	ServiceStopping    ServiceStatus = "stopping"
	ServiceError       ServiceStatus = "error"
	ServiceStopped     ServiceStatus = "stopped"
	ServiceNeedsResume ServiceStatus = "needs_resume"
)

// CellService is one row per service declared by a cell's template.
type CellService struct {
	ID             string
	CellID         string
	Name           string
	Type           ServiceType
	Command        string
	Cwd            string
	Env            map[string]string
	DependsOn      []string
	Port           *int
	PID            *int
	ContainerID    string
	Status         ServiceStatus
	LastKnownError *string
	PortReachable  bool
	UpdatedAt      time.Time
}

// TimingStatus is the outcome of a single timed phase.
type TimingStatus string

const (
	TimingOK    TimingStatus = "ok"
	TimingError TimingStatus = "error"
)

// Workflow identifies which top-level orchestration a timing event
// belongs to.
type Workflow string

const (
	WorkflowCreate Workflow = "create"
	WorkflowDelete Workflow = "delete"
)

// CellTimingEvent is one append-only row per phase of a create or delete
// run. All events sharing a RunID belong to the same attempt.
type CellTimingEvent struct {
	ID         int64
	CellID     string
	RunID      string
	Workflow   Workflow
	Step       string
	Status     TimingStatus
	DurationMs int64
	Attempt    *int
	Metadata   map[string]any
	CreatedAt  time.Time
}

// CellActivityEvent is an append-only audit trail row for a user-visible
// action (setup retry, log read, service start/stop, ...).
type CellActivityEvent struct {
	ID          int64
	CellID      string
	Action      string
	Source      string
	Tool        string
	AuditTag    string
	ServiceName string
	Detail      string
	CreatedAt   time.Time
}
