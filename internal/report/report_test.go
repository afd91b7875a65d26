package report_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/memtrace/internal/report"
	"github.com/signalnine/memtrace/internal/result"
)

func writeRuns(t *testing.T, base string) {
	t.Helper()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []*result.RunRecord{
		{
			RunID: "aaaaaaaa-1111", StartedAt: start, FinishedAt: start.Add(10 * time.Second), Success: true,
			MonitorDrains: 1, ArtifactBytes: 2048,
			Workloads: []result.WorkloadResult{
				{Name: "ls", Success: true, DurationS: 1},
				{Name: "wget", Success: true, DurationS: 3},
			},
		},
		{
			RunID: "bbbbbbbb-2222", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + 5*time.Second),
			Workloads: []result.WorkloadResult{
				{Name: "ls", Success: true, DurationS: 2},
				{Name: "wget", ExitCode: 4, DurationS: 1},
			},
		},
	}
	for i, r := range records {
		if err := result.WriteRunRecord(filepath.Join(base, "run-"+string(rune('a'+i))), r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGenerateTable(t *testing.T) {
	base := t.TempDir()
	writeRuns(t, base)

	var buf bytes.Buffer
	if err := report.Generate(base, "table", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"aaaaaaaa", "bbbbbbbb", "failed", "wget", "50%"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestGenerateMarkdown(t *testing.T) {
	base := t.TempDir()
	writeRuns(t, base)

	var buf bytes.Buffer
	if err := report.Generate(base, "markdown", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(buf.String(), "| ls | 2 | 100% | 1.5s |") {
		t.Errorf("unexpected markdown:\n%s", buf.String())
	}
}

func TestGenerateJSON(t *testing.T) {
	base := t.TempDir()
	writeRuns(t, base)

	var buf bytes.Buffer
	if err := report.Generate(base, "json", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var s report.Summary
	if err := json.Unmarshal(buf.Bytes(), &s); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(s.Runs) != 2 || s.Runs[0].RunID != "aaaaaaaa-1111" {
		t.Errorf("runs: got %+v", s.Runs)
	}
	if s.Runs[1].Failed != 1 || s.Runs[1].Status != "failed" {
		t.Errorf("second run: got %+v", s.Runs[1])
	}
}

func TestGenerateEmpty(t *testing.T) {
	if err := report.Generate(t.TempDir(), "table", &bytes.Buffer{}); err == nil {
		t.Error("expected error when no records exist")
	}
}
