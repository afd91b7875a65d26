package result

import "time"

// RunRecord is written to run.json in the output directory after every run
// that got past startup.
type RunRecord struct {
	RunID          string           `json:"run_id"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	OutputDir      string           `json:"output_dir"`
	Artifact       string           `json:"artifact"`
	ArtifactBytes  int64            `json:"artifact_bytes"`
	Compressed     string           `json:"compressed,omitempty"`
	Phase          string           `json:"phase"`
	Workloads      []WorkloadResult `json:"workloads"`
	MonitorSamples int64            `json:"monitor_samples"`
	MonitorDrains  int64            `json:"monitor_drains"`
	Success        bool             `json:"success"`
	Error          string           `json:"error,omitempty"`
}

type WorkloadResult struct {
	Name      string  `json:"name"`
	Command   string  `json:"command"`
	Image     string  `json:"image,omitempty"`
	ExitCode  int     `json:"exit_code"`
	Success   bool    `json:"success"`
	DurationS float64 `json:"duration_s"`
	Error     string  `json:"error,omitempty"`
}

// Duration is the wall time between start and finish.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed counts workloads that did not succeed.
func (r *RunRecord) Failed() int {
	n := 0
	for _, w := range r.Workloads {
		if !w.Success {
			n++
		}
	}
	return n
}
