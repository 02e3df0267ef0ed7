package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depotci/internal/errs"
)

const pipelineYAML = `
scms:
  game:
    type: perforce
    depot_name: game
    stream_name: main
    client_root: /ci/game
    connection_config_name: default
actions:
  - name: sync
    checkout:
      scm_name: game
      revision: 1234
  - name: build
    command:
      commands:
        - make all
        - make test
  - name: publish
    upload:
      scm_name: game
      paths: ["bin/*"]
`

const pipelineTOML = `
[pipeline.scms.game]
type = "perforce"
depot_name = "game"
stream_name = "main"
client_root = "/ci/game"
connection_config_name = "default"

[[pipeline.actions]]
name = "sync"
[pipeline.actions.checkout]
scm_name = "game"

[[pipeline.actions]]
name = "publish"
[pipeline.actions.upload]
scm_name = "game"
message = "nightly"
`

func TestParsePipelineYAML(t *testing.T) {
	def, err := ParsePipeline([]byte(pipelineYAML), FormatYAML)
	require.NoError(t, err)

	require.Contains(t, def.SCMs, "game")
	assert.Equal(t, "perforce", def.SCMs["game"]["type"])
	require.Len(t, def.Actions, 3)
	assert.Equal(t, "sync", def.Actions[0].Name)
	assert.Equal(t, KindCheckout, def.Actions[0].Kind)
	assert.Equal(t, 1234, def.Actions[0].Payload["revision"])
	assert.Equal(t, KindCommand, def.Actions[1].Kind)
	assert.Equal(t, KindUpload, def.Actions[2].Kind)
}

func TestParsePipelineTOMLUnderPipelineTable(t *testing.T) {
	def, err := ParsePipeline([]byte(pipelineTOML), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "game", def.SCMs["game"]["depot_name"])
	require.Len(t, def.Actions, 2)
	assert.Equal(t, KindCheckout, def.Actions[0].Kind)
	assert.Equal(t, "nightly", def.Actions[1].Payload["message"])
}

func TestParsePipelineErrors(t *testing.T) {
	tests := map[string]struct {
		format Format
		doc    string
	}{
		"duplicate scm yaml": {FormatYAML, "scms:\n  a: {type: perforce}\n  a: {type: perforce}\n"},
		"duplicate scm toml": {FormatTOML, "[scms.a]\ntype = \"perforce\"\n[scms.a]\ntype = \"perforce\"\n"},
		"missing name":       {FormatYAML, "actions:\n  - command: {commands: [ls]}\n"},
		"no kind":            {FormatYAML, "actions:\n  - name: empty\n"},
		"two kinds":          {FormatYAML, "actions:\n  - name: x\n    command: {commands: [ls]}\n    upload: {scm_name: a}\n"},
		"scalar payload":     {FormatYAML, "actions:\n  - name: x\n    command: ls\n"},
		"both layouts":       {FormatYAML, "scms: {}\npipeline:\n  actions: []\n"},
		"unknown format":     {Format("ini"), ""},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(tc.doc), tc.format)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrConfiguration), err.Error())
		})
	}
}

func TestParsePipelineKeepsUnknownKind(t *testing.T) {
	def, err := ParsePipeline([]byte("actions:\n  - name: ship\n    deploy: {target: prod}\n"), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, Kind("deploy"), def.Actions[0].Kind)
}

func TestLoadPipelineByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "pipeline.yml")
	tomlPath := filepath.Join(dir, "pipeline.toml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(pipelineYAML), 0o644))
	require.NoError(t, os.WriteFile(tomlPath, []byte(pipelineTOML), 0o644))

	def, err := LoadPipeline(yamlPath)
	require.NoError(t, err)
	assert.Len(t, def.Actions, 3)

	def, err = LoadPipeline(tomlPath)
	require.NoError(t, err)
	assert.Len(t, def.Actions, 2)

	_, err = LoadPipeline(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}
