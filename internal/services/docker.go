// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/HiveRun/hive-sub001/internal/template"
)

const dockerStopTimeout = 10 * time.Second

// dockerManager supervises docker-type services, generalized from
// teacher mergequeue.DockerManager (which only ever stopped/removed a
// merge-queue sandbox container) to starting arbitrary template-declared
// containers too.
type dockerManager struct {
	cli *client.Client
}

func newDockerManager() (*dockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &dockerManager{cli: cli}, nil
}

func (dm *dockerManager) Close() error {
	if dm.cli != nil {
		return dm.cli.Close()
	}
	return nil
}

// startContainer creates and starts a container for a docker-type
// service definition, returning its container ID.
func (dm *dockerManager) startContainer(ctx context.Context, def template.ServiceDef, env []string) (string, error) {
	name := def.ContainerName
	if name == "" {
		name = def.Name
	}

	created, err := dm.cli.ContainerCreate(ctx,
		&container.Config{
			Image: def.Image,
			Env:   env,
		},
		&container.HostConfig{
			NetworkMode: "host",
		},
		nil, nil, name,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}

	if err := dm.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", name, err)
	}

	return created.ID, nil
}

// stopAndRemoveContainer is idempotent: it never errors on an
// already-stopped or already-removed container.
func (dm *dockerManager) stopAndRemoveContainer(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}

	timeout := int(dockerStopTimeout.Seconds())
	_ = dm.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})

	if err := dm.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}

	return nil
}

func (dm *dockerManager) isContainerRunning(ctx context.Context, containerID string) (bool, error) {
	if containerID == "" {
		return false, nil
	}
	inspect, err := dm.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	return inspect.State.Running, nil
}
