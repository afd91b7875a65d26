package config

import (
	"fmt"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Modes is the workload selection made on the command line.
type Modes struct {
	Basic    bool
	Extended bool
	Commands []string
}

func (m Modes) Empty() bool {
	return !m.Basic && !m.Extended && len(m.Commands) == 0
}

// RunConfig is everything a single run needs. It is not modified after Resolve.
type RunConfig struct {
	OutputDir    string
	ArtifactPath string
	Modes        Modes
	Workloads    []Workload
}

// Resolve selects the workloads for modes and fixes the artifact location.
// A command selected more than once runs once.
func (c *Config) Resolve(outputDir string, modes Modes) (*RunConfig, error) {
	if modes.Empty() {
		return nil, fmt.Errorf("no workloads selected")
	}
	if outputDir == "" {
		outputDir = "."
	}
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output dir: %w", err)
	}

	var selected []Workload
	if modes.Basic {
		selected = append(selected, c.Workloads.Basic...)
	}
	if modes.Extended {
		selected = append(selected, c.Workloads.Extended...)
	}
	for i, command := range modes.Commands {
		command = strings.TrimSpace(command)
		if command == "" {
			return nil, fmt.Errorf("custom command %d is empty", i+1)
		}
		selected = append(selected, Workload{Name: fmt.Sprintf("cmd-%d", i+1), Command: command})
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	workloads := make([]Workload, 0, len(selected))
	for _, w := range selected {
		if !seen.Add(w.Image + "\x00" + w.Command) {
			continue
		}
		workloads = append(workloads, w)
	}
	if len(workloads) == 0 {
		return nil, fmt.Errorf("selected modes contain no workloads")
	}

	return &RunConfig{
		OutputDir:    abs,
		ArtifactPath: filepath.Join(abs, c.Artifact.Name),
		Modes:        modes,
		Workloads:    workloads,
	}, nil
}
