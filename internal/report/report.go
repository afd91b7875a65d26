// Package report summarizes run.json records found under a directory.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/memtrace/internal/result"
)

type RunSummary struct {
	RunID         string  `json:"run_id"`
	Started       string  `json:"started"`
	DurationS     float64 `json:"duration_s"`
	Workloads     int     `json:"workloads"`
	Failed        int     `json:"failed"`
	Drains        int64   `json:"drains"`
	ArtifactBytes int64   `json:"artifact_bytes"`
	Status        string  `json:"status"`
}

type WorkloadSummary struct {
	Name          string  `json:"name"`
	Runs          int     `json:"runs"`
	PassRate      float64 `json:"pass_rate"`
	MeanDurationS float64 `json:"mean_duration_s"`
}

type Summary struct {
	Runs      []RunSummary      `json:"runs"`
	Workloads []WorkloadSummary `json:"workloads"`
}

// Generate reads every run.json under dir and writes a summary in the given
// format: table (default), markdown or json.
func Generate(dir, format string, w io.Writer) error {
	records, err := collectRecords(dir)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no %s found under %s", result.RecordFile, dir)
	}
	s := Summary{Runs: summarizeRuns(records), Workloads: aggregate(records)}

	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

func collectRecords(dir string) ([]*result.RunRecord, error) {
	var records []*result.RunRecord
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == result.RecordFile {
			rec, err := result.ReadRunRecord(path)
			if err != nil {
				return nil
			}
			records = append(records, rec)
		}
		return nil
	})
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, err
}

func summarizeRuns(records []*result.RunRecord) []RunSummary {
	out := make([]RunSummary, 0, len(records))
	for _, r := range records {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		out = append(out, RunSummary{
			RunID:         r.RunID,
			Started:       r.StartedAt.Format("2006-01-02 15:04:05"),
			DurationS:     r.Duration().Seconds(),
			Workloads:     len(r.Workloads),
			Failed:        r.Failed(),
			Drains:        r.MonitorDrains,
			ArtifactBytes: r.ArtifactBytes,
			Status:        status,
		})
	}
	return out
}

func aggregate(records []*result.RunRecord) []WorkloadSummary {
	type accum struct {
		count    int
		passed   int
		duration float64
	}
	byName := map[string]*accum{}

	for _, r := range records {
		for _, w := range r.Workloads {
			a, ok := byName[w.Name]
			if !ok {
				a = &accum{}
				byName[w.Name] = a
			}
			a.count++
			a.duration += w.DurationS
			if w.Success {
				a.passed++
			}
		}
	}

	var summaries []WorkloadSummary
	for name, a := range byName {
		summaries = append(summaries, WorkloadSummary{
			Name:          name,
			Runs:          a.count,
			PassRate:      float64(a.passed) / float64(a.count),
			MeanDurationS: a.duration / float64(a.count),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

func writeTable(s Summary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tWORKLOADS\tFAILED\tDRAINS\tKMAP BYTES\tSTATUS")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, r := range s.Runs {
		fmt.Fprintf(tw, "%s\t%s\t%.1fs\t%d\t%d\t%d\t%d\t%s\n",
			shortID(r.RunID), r.Started, r.DurationS, r.Workloads, r.Failed, r.Drains, r.ArtifactBytes, r.Status)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "WORKLOAD\tRUNS\tPASS RATE\tMEAN DURATION")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, ws := range s.Workloads {
		fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%.1fs\n", ws.Name, ws.Runs, ws.PassRate*100, ws.MeanDurationS)
	}
	return tw.Flush()
}

func writeMarkdown(s Summary, w io.Writer) error {
	fmt.Fprintln(w, "| Run | Started | Duration | Workloads | Failed | Drains | Kmap Bytes | Status |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	for _, r := range s.Runs {
		fmt.Fprintf(w, "| %s | %s | %.1fs | %d | %d | %d | %d | %s |\n",
			shortID(r.RunID), r.Started, r.DurationS, r.Workloads, r.Failed, r.Drains, r.ArtifactBytes, r.Status)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Workload | Runs | Pass Rate | Mean Duration |")
	fmt.Fprintln(w, "|---|---|---|---|")
	for _, ws := range s.Workloads {
		fmt.Fprintf(w, "| %s | %d | %.0f%% | %.1fs |\n", ws.Name, ws.Runs, ws.PassRate*100, ws.MeanDurationS)
	}
	return nil
}

func writeJSON(s Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
