// Package monitor drains the kernel trace buffer when memory pressure rises.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/signalnine/memtrace/internal/sysmem"
)

// Drainer is the part of the kernel interface the monitor may touch while
// workloads run.
type Drainer interface {
	DrainBuffer(dest string) (int64, error)
	ClearPrintedList() error
}

type Opts struct {
	Source    sysmem.Source
	Drainer   Drainer
	Artifact  string
	Threshold float64
	Interval  time.Duration
	Logger    *slog.Logger
}

type Monitor struct {
	source    sysmem.Source
	drainer   Drainer
	artifact  string
	threshold float64
	interval  time.Duration
	log       *slog.Logger

	samples atomic.Int64
	drains  atomic.Int64
	drained atomic.Int64
}

func New(opts *Opts) *Monitor {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Monitor{
		source:    opts.Source,
		drainer:   opts.Drainer,
		artifact:  opts.Artifact,
		threshold: opts.Threshold,
		interval:  opts.Interval,
		log:       log.With("component", "monitor"),
	}
}

// Run samples memory every interval until done is closed or ctx ends, and
// returns nil in both cases. Any sampling, drain or clear failure stops the
// loop and is returned.
func (m *Monitor) Run(ctx context.Context, done <-chan struct{}) error {
	m.log.Info("resource monitor started", "threshold", m.threshold, "interval", m.interval)
	for {
		select {
		case <-done:
			m.log.Info("resource monitor stopped", "samples", m.samples.Load(), "drains", m.drains.Load())
			return nil
		case <-ctx.Done():
			m.log.Warn("resource monitor interrupted", "samples", m.samples.Load(), "drains", m.drains.Load())
			return nil
		default:
		}

		if err := m.step(ctx); err != nil {
			return err
		}

		timer := time.NewTimer(m.interval)
		select {
		case <-done:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Monitor) step(ctx context.Context) error {
	s, err := m.source.Sample(ctx)
	if err != nil {
		// A sample cut short by cancellation is not a sampling failure.
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("sampling memory: %w", err)
	}
	m.samples.Add(1)
	ratio := s.Ratio()
	m.log.Debug("memory sample", "used", s.Used, "total", s.Total, "ratio", ratio)
	if ratio <= m.threshold {
		return nil
	}

	n, err := m.drainer.DrainBuffer(m.artifact)
	if err != nil {
		return err
	}
	if err := m.drainer.ClearPrintedList(); err != nil {
		return err
	}
	m.drains.Add(1)
	m.drained.Add(n)
	m.log.Info("drained trace buffer under memory pressure", "ratio", fmt.Sprintf("%.2f", ratio), "bytes", n)
	return nil
}

// Samples is the number of successful memory samples so far.
func (m *Monitor) Samples() int64 { return m.samples.Load() }

// Drains is the number of completed drain-and-clear pairs so far.
func (m *Monitor) Drains() int64 { return m.drains.Load() }

// DrainedBytes is the total appended to the artifact by the monitor.
func (m *Monitor) DrainedBytes() int64 { return m.drained.Load() }
