// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package hiveconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HiveRun/hive-sub001/internal/template"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

// serviceDefYAML is the on-disk shape of template.ServiceDef.
type serviceDefYAML struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	Command       string            `yaml:"command"`
	Cwd           string            `yaml:"cwd"`
	Env           map[string]string `yaml:"env"`
	DependsOn     []string          `yaml:"depends_on"`
	Port          *int              `yaml:"port"`
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
}

// templateYAML is the on-disk shape of template.Template, one file per
// template under Config.Paths.TemplatesDir.
type templateYAML struct {
	ID            string           `yaml:"id"`
	Name          string           `yaml:"name"`
	IncludeCopy   []string         `yaml:"include_copy"`
	SetupCommands []string         `yaml:"setup_commands"`
	Services      []serviceDefYAML `yaml:"services"`
}

// LoadTemplates reads every *.yaml/*.yml file in dir as a template
// definition, keyed by its declared id.
func LoadTemplates(dir string) (map[string]template.Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]template.Template{}, nil
		}
		return nil, fmt.Errorf("read templates dir %s: %w", dir, err)
	}

	out := make(map[string]template.Template, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template file %s: %w", path, err)
		}
		var raw templateYAML
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse template file %s: %w", path, err)
		}
		if raw.ID == "" {
			return nil, fmt.Errorf("template file %s: id is required", path)
		}
		out[raw.ID] = fromYAML(raw)
	}
	return out, nil
}

func fromYAML(raw templateYAML) template.Template {
	services := make([]template.ServiceDef, 0, len(raw.Services))
	for _, s := range raw.Services {
		services = append(services, template.ServiceDef{
			Name:          s.Name,
			Type:          types.ServiceType(s.Type),
			Command:       s.Command,
			Cwd:           s.Cwd,
			Env:           s.Env,
			DependsOn:     s.DependsOn,
			Port:          s.Port,
			Image:         s.Image,
			ContainerName: s.ContainerName,
		})
	}
	return template.Template{
		ID:            raw.ID,
		Name:          raw.Name,
		IncludeCopy:   raw.IncludeCopy,
		SetupCommands: raw.SetupCommands,
		Services:      services,
	}
}

// Resolver builds the engine/API ResolveTemplate function from a loaded
// template set: an in-memory map lookup, the simplest faithful
// implementation of "templates load from YAML files on disk" now that
// loading has already happened once at boot.
func Resolver(templates map[string]template.Template) func(id string) (template.Template, error) {
	return func(id string) (template.Template, error) {
		tmpl, ok := templates[id]
		if !ok {
			return template.Template{}, fmt.Errorf("template %q not found", id)
		}
		return tmpl, nil
	}
}
