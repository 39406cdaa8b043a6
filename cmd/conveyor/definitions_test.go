package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conveyor/pkg/schema"
)

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const approvalYAML = `name: approval
transitions:
  - id: submit
    from: initial
    to: review
    trigger: onEntry
  - id: approve
    from: review
    to: done
  - id: reject
    from:
      - review
      - done
    to: initial
`

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "approval.yaml", approvalYAML)

	ds, err := loadDefinitions(dir)
	require.NoError(t, err)

	cfg, err := ds.MachineConfig("approval")
	require.NoError(t, err)
	require.Len(t, cfg.Transitions, 3)

	assert.Equal(t, "submit", cfg.Transitions[0].ID)
	assert.True(t, cfg.Transitions[0].IsOnEntry())
	assert.Equal(t, schema.StringList{"initial"}, cfg.Transitions[0].From)
	assert.Equal(t, schema.StringList{"review", "done"}, cfg.Transitions[2].From)
}

func TestLoadDefinitions_NameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "billing.yml", "transitions:\n  - id: go\n    from: initial\n    to: done\n")

	ds, err := loadDefinitions(dir)
	require.NoError(t, err)

	_, err = ds.MachineConfig("billing")
	assert.NoError(t, err)
}

func TestLoadDefinitions_MissingDirIsEmpty(t *testing.T) {
	ds, err := loadDefinitions(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)

	_, err = ds.MachineConfig("anything")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestLoadDefinitions_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "approval.yaml", approvalYAML)
	writeDefinition(t, dir, "notes.txt", "not a definition")

	ds, err := loadDefinitions(dir)
	require.NoError(t, err)
	assert.Len(t, ds.machines, 1)
}

func TestLoadDefinitions_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing transition id", "name: bad\ntransitions:\n  - from: initial\n    to: done\n"},
		{"duplicate transition id", "name: bad\ntransitions:\n  - id: go\n    from: initial\n    to: done\n  - id: go\n    from: done\n    to: initial\n"},
		{"missing source", "name: bad\ntransitions:\n  - id: go\n    to: done\n"},
		{"missing target", "name: bad\ntransitions:\n  - id: go\n    from: initial\n"},
		{"malformed yaml", "transitions: [unclosed\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDefinition(t, dir, "bad.yaml", tc.content)
			_, err := loadDefinitions(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitions_DuplicateMachineRejected(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "a.yaml", approvalYAML)
	writeDefinition(t, dir, "b.yaml", approvalYAML)

	_, err := loadDefinitions(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate machine definition")
}

const taskManifestYAML = `- workspaceId: ws-1
  pipelineId: pipe-1
  tasks:
    - name: nightly-report
      type: recurring_cron
      cronExpression: "0 2 * * *"
      payload:
        pipelineId: pipe-1
    - name: reminder
      type: one_time_duration
      durationSeconds: 3600
      payload:
        pipelineId: pipe-1
        transition:
          id: remind
          workflowId: wf-1
- workspaceId: ws-2
  pipelineId: pipe-9
  tasks:
    - name: sweep
      type: recurring_cron
      cronExpression: "*/30 * * * *"
      payload:
        pipelineId: pipe-9
`

func TestLoadTaskManifest(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "tasks.yaml", taskManifestYAML)

	groups, err := loadTaskManifest(dir)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	require.Len(t, groups[0].Tasks, 2)
	first := groups[0].Tasks[0]
	assert.Equal(t, "ws-1", first.WorkspaceID, "spec inherits the group workspace")
	assert.Equal(t, "pipe-1", first.RootPipelineID)
	assert.Equal(t, schema.TaskTypeRecurringCron, first.Type)
	assert.Equal(t, "0 2 * * *", first.CronExpression)

	second := groups[0].Tasks[1]
	assert.Equal(t, int64(3600), second.DurationSeconds)
	require.NotNil(t, second.Payload.Transition)
	assert.Equal(t, "remind", second.Payload.Transition.ID)
	assert.Equal(t, "wf-1", second.Payload.Transition.WorkflowID)

	assert.Equal(t, "ws-2", groups[1].Tasks[0].WorkspaceID)
}

func TestLoadTaskManifest_MissingIsEmpty(t *testing.T) {
	groups, err := loadTaskManifest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestLoadTaskManifest_RequiresGroupIdentity(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "tasks.yml", "- pipelineId: pipe-1\n  tasks: []\n")

	_, err := loadTaskManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspaceId")
}

func TestLoadDefinitions_SkipsTaskManifest(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "approval.yaml", approvalYAML)
	writeDefinition(t, dir, "tasks.yaml", taskManifestYAML)

	ds, err := loadDefinitions(dir)
	require.NoError(t, err)

	_, err = ds.MachineConfig("approval")
	assert.NoError(t, err)
	_, err = ds.MachineConfig("tasks")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}
