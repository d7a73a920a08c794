// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/HiveRun/hive-sub001/pkg/types"
)

// CellNotFoundError is returned when a lookup by cell ID finds no row.
type CellNotFoundError struct {
	CellID string
}

func (e *CellNotFoundError) Error() string {
	return "cell not found: " + e.CellID
}

// ServiceNotFoundError is returned when a lookup by cell ID and service
// name, or by service ID, finds no row.
type ServiceNotFoundError struct {
	CellID string
	Name   string
	ID     string
}

func (e *ServiceNotFoundError) Error() string {
	if e.ID != "" {
		return "service not found: " + e.ID
	}
	return "service not found: " + e.CellID + ":" + e.Name
}

// ProvisioningStateNotFoundError is returned when a cell has no
// provisioning state row.
type ProvisioningStateNotFoundError struct {
	CellID string
}

func (e *ProvisioningStateNotFoundError) Error() string {
	return "provisioning state not found: " + e.CellID
}

type cellModel struct {
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
	Status            string
	OpencodeSessionID sql.NullString
	LastSetupError    sql.NullString
}

func (m *cellModel) toDomain() *types.Cell {
	c := &types.Cell{
		ID:                m.ID,
		WorkspaceID:       m.WorkspaceID,
		WorkspaceRootPath: m.WorkspaceRootPath,
		WorkspacePath:     m.WorkspacePath,
		BranchName:        m.BranchName,
		BaseCommit:        m.BaseCommit,
		TemplateID:        m.TemplateID,
		Name:              m.Name,
		Description:       m.Description,
		CreatedAt:         m.CreatedAt,
		Status:            types.CellStatus(m.Status),
	}
	if m.OpencodeSessionID.Valid {
		c.OpencodeSessionID = &m.OpencodeSessionID.String
	}
	if m.LastSetupError.Valid {
		c.LastSetupError = &m.LastSetupError.String
	}
	return c
}

func fromCellDomain(c *types.Cell) *cellModel {
	m := &cellModel{
		ID:                c.ID,
		WorkspaceID:       c.WorkspaceID,
		WorkspaceRootPath: c.WorkspaceRootPath,
		WorkspacePath:     c.WorkspacePath,
		BranchName:        c.BranchName,
		BaseCommit:        c.BaseCommit,
		TemplateID:        c.TemplateID,
		Name:              c.Name,
		Description:       c.Description,
		CreatedAt:         c.CreatedAt,
		Status:            string(c.Status),
	}
	if c.OpencodeSessionID != nil {
		m.OpencodeSessionID = sql.NullString{String: *c.OpencodeSessionID, Valid: true}
	}
	if c.LastSetupError != nil {
		m.LastSetupError = sql.NullString{String: *c.LastSetupError, Valid: true}
	}
	return m
}

type provisioningStateModel struct {
	CellID             string
	ModelIDOverride    string
	ProviderIDOverride string
	StartMode          string
	StartedAt          sql.NullTime
	FinishedAt         sql.NullTime
	AttemptCount       int
}

func (m *provisioningStateModel) toDomain() *types.CellProvisioningState {
	s := &types.CellProvisioningState{
		CellID:             m.CellID,
		ModelIDOverride:    m.ModelIDOverride,
		ProviderIDOverride: m.ProviderIDOverride,
		StartMode:          types.StartMode(m.StartMode),
		AttemptCount:       m.AttemptCount,
	}
	if m.StartedAt.Valid {
		s.StartedAt = &m.StartedAt.Time
	}
	if m.FinishedAt.Valid {
		s.FinishedAt = &m.FinishedAt.Time
	}
	return s
}

func fromProvisioningStateDomain(s *types.CellProvisioningState) *provisioningStateModel {
	m := &provisioningStateModel{
		CellID:             s.CellID,
		ModelIDOverride:    s.ModelIDOverride,
		ProviderIDOverride: s.ProviderIDOverride,
		StartMode:          string(s.StartMode),
		AttemptCount:       s.AttemptCount,
	}
	if s.StartedAt != nil {
		m.StartedAt = sql.NullTime{Time: *s.StartedAt, Valid: true}
	}
	if s.FinishedAt != nil {
		m.FinishedAt = sql.NullTime{Time: *s.FinishedAt, Valid: true}
	}
	return m
}

type cellServiceModel struct {
	ID             string
	CellID         string
	Name           string
	Type           string
	Command        string
	Cwd            string
	Env            string
	DependsOn      string
	Port           sql.NullInt64
	PID            sql.NullInt64
	ContainerID    string
	Status         string
	LastKnownError sql.NullString
	PortReachable  bool
	UpdatedAt      time.Time
}

func (m *cellServiceModel) toDomain() (*types.CellService, error) {
	svc := &types.CellService{
		ID:            m.ID,
		CellID:        m.CellID,
		Name:          m.Name,
		Type:          types.ServiceType(m.Type),
		Command:       m.Command,
		Cwd:           m.Cwd,
		ContainerID:   m.ContainerID,
		Status:        types.ServiceStatus(m.Status),
		PortReachable: m.PortReachable,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.Env != "" {
		if err := json.Unmarshal([]byte(m.Env), &svc.Env); err != nil {
			return nil, err
		}
	}
	if m.DependsOn != "" {
		if err := json.Unmarshal([]byte(m.DependsOn), &svc.DependsOn); err != nil {
			return nil, err
		}
	}
	if m.Port.Valid {
		port := int(m.Port.Int64)
		svc.Port = &port
	}
	if m.PID.Valid {
		pid := int(m.PID.Int64)
		svc.PID = &pid
	}
	if m.LastKnownError.Valid {
		svc.LastKnownError = &m.LastKnownError.String
	}
	return svc, nil
}

func fromCellServiceDomain(svc *types.CellService) (*cellServiceModel, error) {
	env, err := json.Marshal(svc.Env)
	if err != nil {
		return nil, err
	}
	dependsOn, err := json.Marshal(svc.DependsOn)
	if err != nil {
		return nil, err
	}

	m := &cellServiceModel{
		ID:            svc.ID,
		CellID:        svc.CellID,
		Name:          svc.Name,
		Type:          string(svc.Type),
		Command:       svc.Command,
		Cwd:           svc.Cwd,
		Env:           string(env),
		DependsOn:     string(dependsOn),
		ContainerID:   svc.ContainerID,
		Status:        string(svc.Status),
		PortReachable: svc.PortReachable,
		UpdatedAt:     svc.UpdatedAt,
	}
	if svc.Port != nil {
		m.Port = sql.NullInt64{Int64: int64(*svc.Port), Valid: true}
	}
	if svc.PID != nil {
		m.PID = sql.NullInt64{Int64: int64(*svc.PID), Valid: true}
	}
	if svc.LastKnownError != nil {
		m.LastKnownError = sql.NullString{String: *svc.LastKnownError, Valid: true}
	}
	return m, nil
}

type timingEventModel struct {
	ID         int64
	CellID     string
	RunID      string
	Workflow   string
	Step       string
	Status     string
	DurationMs int64
	Attempt    sql.NullInt64
	Metadata   string
	CreatedAt  time.Time
}

func (m *timingEventModel) toDomain() (*types.CellTimingEvent, error) {
	ev := &types.CellTimingEvent{
		ID:         m.ID,
		CellID:     m.CellID,
		RunID:      m.RunID,
		Workflow:   types.Workflow(m.Workflow),
		Step:       m.Step,
		Status:     types.TimingStatus(m.Status),
		DurationMs: m.DurationMs,
		CreatedAt:  m.CreatedAt,
	}
	if m.Attempt.Valid {
		attempt := int(m.Attempt.Int64)
		ev.Attempt = &attempt
	}
	if m.Metadata != "" && m.Metadata != "{}" {
		if err := json.Unmarshal([]byte(m.Metadata), &ev.Metadata); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

type activityEventModel struct {
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

func (m *activityEventModel) toDomain() *types.CellActivityEvent {
	return &types.CellActivityEvent{
		ID:          m.ID,
		CellID:      m.CellID,
		Action:      m.Action,
		Source:      m.Source,
		Tool:        m.Tool,
		AuditTag:    m.AuditTag,
		ServiceName: m.ServiceName,
		Detail:      m.Detail,
		CreatedAt:   m.CreatedAt,
	}
}
