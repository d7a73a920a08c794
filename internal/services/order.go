// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package services

import (
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/HiveRun/hive-sub001/internal/template"
)

// buildStartOrder computes a start order over a template's services
// respecting DependsOn, falling back to declaration order when there are
// no dependency edges at all.
func buildStartOrder(defs []template.ServiceDef) ([]string, error) {
	if len(defs) == 0 {
		return nil, nil
	}

	edges := make([]toposort.Edge, 0)
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			edges = append(edges, toposort.Edge{dep, d.Name})
		}
	}

	if len(edges) == 0 {
		order := make([]string, 0, len(defs))
		for _, d := range defs {
			order = append(order, d.Name)
		}
		return order, nil
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("cycle detected among service dependencies: %w", err)
	}

	inSorted := make(map[string]bool, len(sorted))
	order := make([]string, 0, len(defs))
	for _, node := range sorted {
		name := node.(string)
		inSorted[name] = true
		order = append(order, name)
	}

	for _, d := range defs {
		if !inSorted[d.Name] {
			order = append([]string{d.Name}, order...)
		}
	}

	return order, nil
}
