// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package template holds the shape a cell's template resolves to.
// Templates are loaded from YAML files by internal/hiveconfig; this
// package only defines what the Worktree Manager and Service Supervisor
// consume once a template has been resolved.
package template

import "github.com/HiveRun/hive-sub001/pkg/types"

// ServiceDef declares one long-running or one-shot auxiliary process a
// cell's template wants supervised.
type ServiceDef struct {
	Name      string
	Type      types.ServiceType
	Command   string
	Cwd       string
	Env       map[string]string
	DependsOn []string
	Port      *int
	// Image/ContainerName only apply when Type == ServiceTypeDocker.
	Image         string
	ContainerName string
}

// Template is the resolved recipe for provisioning a cell: what files to
// carry into the worktree, what one-time setup to run, and what services
// to supervise afterward.
type Template struct {
	ID            string
	Name          string
	IncludeCopy   []string
	SetupCommands []string
	Services      []ServiceDef
}
