package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDebugfsDir   = "/sys/kernel/debug/memorizer"
	DefaultGroup        = "memorizer"
	DefaultThreshold    = 0.8
	DefaultPollInterval = 2 * time.Second
	DefaultArtifactName = "test.kmap"

	SourceFree    = "free"
	SourceMeminfo = "meminfo"
)

type Config struct {
	Kernel      Kernel      `yaml:"kernel" toml:"kernel"`
	Permissions Permissions `yaml:"permissions" toml:"permissions"`
	Monitor     Monitor     `yaml:"monitor" toml:"monitor"`
	Artifact    Artifact    `yaml:"artifact" toml:"artifact"`
	Workloads   Workloads   `yaml:"workloads" toml:"workloads"`
}

type Kernel struct {
	DebugfsDir string `yaml:"debugfs_dir" toml:"debugfs_dir"`
}

type Permissions struct {
	Group string   `yaml:"group" toml:"group"`
	Paths []string `yaml:"paths" toml:"paths"`
	Sudo  *bool    `yaml:"sudo" toml:"sudo"`
}

// UseSudo reports whether permission changes go through sudo. Unset means yes.
func (p Permissions) UseSudo() bool {
	return p.Sudo == nil || *p.Sudo
}

type Monitor struct {
	Threshold float64  `yaml:"threshold" toml:"threshold"`
	Interval  Duration `yaml:"interval" toml:"interval"`
	Source    string   `yaml:"source" toml:"source"`
}

type Artifact struct {
	Name string `yaml:"name" toml:"name"`
}

type Workloads struct {
	Basic    []Workload `yaml:"basic" toml:"basic"`
	Extended []Workload `yaml:"extended" toml:"extended"`
}

// Workload is one external command run while tracing is enabled.
type Workload struct {
	Name    string `yaml:"name" toml:"name"`
	Command string `yaml:"command" toml:"command"`
	// Image runs the command inside a container instead of on the host.
	Image string `yaml:"image" toml:"image"`
	// Log is a result location reported to the user after a successful run.
	Log string `yaml:"log" toml:"log"`
	// Cleanup lists files the workload leaves behind, relative to the working directory.
	Cleanup []string `yaml:"cleanup" toml:"cleanup"`
}

// Duration decodes "2s"-style strings from both YAML and TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration the memorizer test scripts have always used.
func Default() *Config {
	return &Config{
		Kernel: Kernel{DebugfsDir: DefaultDebugfsDir},
		Permissions: Permissions{
			Group: DefaultGroup,
			Paths: []string{"/opt/", "/sys/kernel/debug/"},
		},
		Monitor: Monitor{
			Threshold: DefaultThreshold,
			Interval:  Duration(DefaultPollInterval),
			Source:    SourceFree,
		},
		Artifact: Artifact{Name: DefaultArtifactName},
		Workloads: Workloads{
			Basic: []Workload{
				{Name: "ls", Command: "ls"},
				{
					Name:    "wget",
					Command: "wget http://www.sas.upenn.edu/~egme/UPennlogo2.jpg",
					Cleanup: []string{"UPennlogo2.jpg"},
				},
			},
			Extended: []Workload{
				{
					Name:    "ltp",
					Command: "/opt/ltp/runltp -p -l ltp.log",
					Log:     "/opt/ltp/results/ltp.log",
				},
			},
		},
	}
}

// Load reads a YAML or TOML file and overlays it on Default. Values absent from
// the file keep their defaults; a workload list present in the file replaces the
// default list. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, validate(cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var file Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&file)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&file)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	overlay(cfg, &file)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func overlay(dst, src *Config) {
	if src.Kernel.DebugfsDir != "" {
		dst.Kernel.DebugfsDir = src.Kernel.DebugfsDir
	}
	if src.Permissions.Group != "" {
		dst.Permissions.Group = src.Permissions.Group
	}
	if src.Permissions.Paths != nil {
		dst.Permissions.Paths = src.Permissions.Paths
	}
	if src.Permissions.Sudo != nil {
		dst.Permissions.Sudo = src.Permissions.Sudo
	}
	if src.Monitor.Threshold != 0 {
		dst.Monitor.Threshold = src.Monitor.Threshold
	}
	if src.Monitor.Interval != 0 {
		dst.Monitor.Interval = src.Monitor.Interval
	}
	if src.Monitor.Source != "" {
		dst.Monitor.Source = src.Monitor.Source
	}
	if src.Artifact.Name != "" {
		dst.Artifact.Name = src.Artifact.Name
	}
	if src.Workloads.Basic != nil {
		dst.Workloads.Basic = src.Workloads.Basic
	}
	if src.Workloads.Extended != nil {
		dst.Workloads.Extended = src.Workloads.Extended
	}
}

func validate(cfg *Config) error {
	if cfg.Kernel.DebugfsDir == "" {
		return fmt.Errorf("kernel.debugfs_dir is required")
	}
	if len(cfg.Permissions.Paths) > 0 && cfg.Permissions.Group == "" {
		return fmt.Errorf("permissions.group is required when permissions.paths is set")
	}
	if cfg.Monitor.Threshold <= 0 || cfg.Monitor.Threshold > 1 {
		return fmt.Errorf("monitor.threshold must be in (0, 1], got %v", cfg.Monitor.Threshold)
	}
	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	switch cfg.Monitor.Source {
	case SourceFree, SourceMeminfo:
	default:
		return fmt.Errorf("monitor.source must be %q or %q, got %q", SourceFree, SourceMeminfo, cfg.Monitor.Source)
	}
	if cfg.Artifact.Name == "" || strings.ContainsRune(cfg.Artifact.Name, filepath.Separator) {
		return fmt.Errorf("artifact.name must be a plain file name, got %q", cfg.Artifact.Name)
	}
	for _, set := range []struct {
		name string
		ws   []Workload
	}{{"basic", cfg.Workloads.Basic}, {"extended", cfg.Workloads.Extended}} {
		for i, w := range set.ws {
			if w.Name == "" {
				return fmt.Errorf("workloads.%s[%d]: name is required", set.name, i)
			}
			if w.Command == "" {
				return fmt.Errorf("workload %q: command is required", w.Name)
			}
		}
	}
	return nil
}
