// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package hiveconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HiveRun/hive-sub001/pkg/types"
)

func TestLoadTemplatesMissingDirReturnsEmptySet(t *testing.T) {
	templates, err := LoadTemplates(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestLoadTemplatesParsesServiceDefs(t *testing.T) {
	dir := t.TempDir()
	const doc = `
id: node-default
name: "Node default"
include_copy:
  - ".env.example"
setup_commands:
  - "npm install"
services:
  - name: web
    type: process
    command: "npm run dev"
    cwd: "."
    port: 3000
    env:
      NODE_ENV: development
  - name: db
    type: docker
    image: "postgres:16"
    container_name: hive-db
    depends_on: []
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node.yaml"), []byte(doc), 0o644))

	templates, err := LoadTemplates(dir)
	require.NoError(t, err)
	require.Contains(t, templates, "node-default")

	tmpl := templates["node-default"]
	assert.Equal(t, "Node default", tmpl.Name)
	assert.Equal(t, []string{"npm install"}, tmpl.SetupCommands)
	require.Len(t, tmpl.Services, 2)
	assert.Equal(t, types.ServiceTypeProcess, tmpl.Services[0].Type)
	require.NotNil(t, tmpl.Services[0].Port)
	assert.Equal(t, 3000, *tmpl.Services[0].Port)
	assert.Equal(t, types.ServiceTypeDocker, tmpl.Services[1].Type)
	assert.Equal(t, "postgres:16", tmpl.Services[1].Image)
}

func TestLoadTemplatesRejectsMissingID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: no id here\n"), 0o644))

	_, err := LoadTemplates(dir)
	require.Error(t, err)
}

func TestResolverLooksUpByID(t *testing.T) {
	templates, err := LoadTemplates(t.TempDir())
	require.NoError(t, err)
	resolve := Resolver(templates)

	_, err = resolve("missing")
	require.Error(t, err)
}
