// Package sysmem samples system memory pressure.
package sysmem

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

type Sample struct {
	Total uint64
	Used  uint64
}

// Ratio is Used/Total, or 0 when Total is unknown.
func (s Sample) Ratio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Total)
}

type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// Free samples by running `free -b`.
type Free struct {
	// Run returns the command output; nil runs free(1).
	Run func(ctx context.Context) ([]byte, error)
}

func (f *Free) Sample(ctx context.Context) (Sample, error) {
	run := f.Run
	if run == nil {
		run = func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "free", "-b").Output()
		}
	}
	out, err := run(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("running free: %w", err)
	}
	return ParseFree(out)
}

// ParseFree reads total and used from the "Mem:" row of free(1) output.
func ParseFree(out []byte) (Sample, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || fields[0] != "Mem:" {
			continue
		}
		total, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("parsing total memory %q: %w", fields[1], err)
		}
		used, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("parsing used memory %q: %w", fields[2], err)
		}
		if total == 0 {
			return Sample{}, fmt.Errorf("free reported zero total memory")
		}
		return Sample{Total: total, Used: used}, nil
	}
	return Sample{}, fmt.Errorf("no Mem: row in free output")
}

// Meminfo samples /proc/meminfo, counting used as MemTotal - MemAvailable.
type Meminfo struct {
	Path string
}

func (m *Meminfo) Sample(ctx context.Context) (Sample, error) {
	path := m.Path
	if path == "" {
		path = "/proc/meminfo"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Sample{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseMeminfo(data)
}

func ParseMeminfo(data []byte) (Sample, error) {
	var total, avail uint64
	var haveTotal, haveAvail bool
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		var dst *uint64
		switch fields[0] {
		case "MemTotal:":
			dst, haveTotal = &total, true
		case "MemAvailable:":
			dst, haveAvail = &avail, true
		default:
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("parsing %s %q: %w", fields[0], fields[1], err)
		}
		*dst = kb * 1024
	}
	if !haveTotal || !haveAvail || total == 0 {
		return Sample{}, fmt.Errorf("meminfo is missing MemTotal or MemAvailable")
	}
	if avail > total {
		avail = total
	}
	return Sample{Total: total, Used: total - avail}, nil
}

// NewSource maps a config source name to a Source.
func NewSource(name string) (Source, error) {
	switch name {
	case "", "free":
		return &Free{}, nil
	case "meminfo":
		return &Meminfo{}, nil
	default:
		return nil, fmt.Errorf("unknown memory source %q", name)
	}
}
