package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/rendis/conveyor/pkg/schema"
)

// definitionStore loads machine definitions from YAML files and serves them
// to the engine by name.
type definitionStore struct {
	machines map[string]*schema.MachineConfig
}

// Basename of the scheduled-task manifest; skipped by the machine loader.
const taskManifestName = "tasks"

// loadDefinitions reads every .yml/.yaml file under dir as one machine
// definition. A missing directory yields an empty store.
func loadDefinitions(dir string) (*definitionStore, error) {
	ds := &definitionStore{machines: make(map[string]*schema.MachineConfig)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ds, nil
		}
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		if strings.TrimSuffix(entry.Name(), ext) == taskManifestName {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read definition %s: %w", entry.Name(), err)
		}

		var cfg schema.MachineConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse definition %s: %w", entry.Name(), err)
		}
		if cfg.Name == "" {
			cfg.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		if err := validateDefinition(&cfg); err != nil {
			return nil, fmt.Errorf("definition %s: %w", entry.Name(), err)
		}
		if _, exists := ds.machines[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate machine definition %q", cfg.Name)
		}
		ds.machines[cfg.Name] = &cfg
	}

	return ds, nil
}

// MachineConfig returns the definition registered under name.
func (ds *definitionStore) MachineConfig(name string) (*schema.MachineConfig, error) {
	cfg, ok := ds.machines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "machine definition %q not found", name)
	}
	return cfg, nil
}

// taskGroup is one pipeline's scheduled-task set in the tasks manifest.
type taskGroup struct {
	WorkspaceID string            `yaml:"workspaceId"`
	PipelineID  string            `yaml:"pipelineId"`
	Tasks       []schema.TaskSpec `yaml:"tasks"`
}

// loadTaskManifest reads tasks.yml/tasks.yaml under dir, a list of per-pipeline
// task groups installed at startup. A missing manifest yields no groups. Each
// spec inherits the group's workspace and pipeline identity.
func loadTaskManifest(dir string) ([]taskGroup, error) {
	var data []byte
	for _, name := range []string{taskManifestName + ".yml", taskManifestName + ".yaml"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read task manifest: %w", err)
		}
		data = raw
		break
	}
	if data == nil {
		return nil, nil
	}

	var groups []taskGroup
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("parse task manifest: %w", err)
	}
	for i := range groups {
		g := &groups[i]
		if g.WorkspaceID == "" || g.PipelineID == "" {
			return nil, fmt.Errorf("task manifest group %d requires workspaceId and pipelineId", i)
		}
		for j := range g.Tasks {
			g.Tasks[j].WorkspaceID = g.WorkspaceID
			g.Tasks[j].RootPipelineID = g.PipelineID
		}
	}
	return groups, nil
}

func validateDefinition(cfg *schema.MachineConfig) error {
	seen := make(map[string]struct{}, len(cfg.Transitions))
	for i, t := range cfg.Transitions {
		if t.ID == "" {
			return fmt.Errorf("transition %d has no id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate transition id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		if len(t.From) == 0 {
			return fmt.Errorf("transition %q has no source place", t.ID)
		}
		if len(t.To) == 0 {
			return fmt.Errorf("transition %q has no target place", t.ID)
		}
	}
	return nil
}
