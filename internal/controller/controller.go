// Package controller sequences one traced run: enable tracing, run the
// workloads next to the resource monitor, then disable tracing and collect the
// final buffer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/signalnine/memtrace/internal/config"
	"github.com/signalnine/memtrace/internal/monitor"
	"github.com/signalnine/memtrace/internal/result"
	"github.com/signalnine/memtrace/internal/runner"
	"github.com/signalnine/memtrace/internal/sysmem"
)

// Tracer is the kernel control surface the controller drives.
type Tracer interface {
	EnablePermissions(ctx context.Context, paths []string) error
	ClearObjectList() error
	SetLiveObjectDump(enabled bool) error
	SetAllocationTracking(enabled bool) error
	SetAccessTracking(enabled bool) error
	ClearPrintedList() error
	DrainBuffer(dest string) (int64, error)
	DumpStats(w io.Writer) error
}

type WorkloadRunner interface {
	RunWorkload(ctx context.Context, w config.Workload) (*result.WorkloadResult, error)
}

type Options struct {
	Run    *config.RunConfig
	Tracer Tracer
	Runner WorkloadRunner
	Memory sysmem.Source

	Threshold       float64
	Interval        time.Duration
	PermissionPaths []string
	// Parallel caps concurrent workloads; 0 runs them all at once.
	Parallel int
	Compress bool
	// WorkDir resolves workload cleanup entries. Empty means the current directory.
	WorkDir string
	// Stats receives show_stats during cleanup. Defaults to os.Stdout.
	Stats  io.Writer
	Logger *slog.Logger
	// OnState is called on every state transition.
	OnState func(State)
}

type Controller struct {
	opts    Options
	log     *slog.Logger
	state   atomic.Int32
	results *xsync.MapOf[int, *result.WorkloadResult]
	mon     *monitor.Monitor
}

func New(opts Options) *Controller {
	if opts.Stats == nil {
		opts.Stats = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		opts:    opts,
		log:     opts.Logger.With("component", "controller"),
		results: xsync.NewMapOf[int, *result.WorkloadResult](),
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.log.Debug("state", "state", s)
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// Run performs one traced run. Cleanup runs whenever startup completed, even
// if a workload or the monitor failed or ctx was cancelled; the returned error
// joins the run failure with any cleanup failure. The record is written to
// run.json unless startup failed.
func (c *Controller) Run(ctx context.Context) (*result.RunRecord, error) {
	rc := c.opts.Run
	rec := &result.RunRecord{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		OutputDir: rc.OutputDir,
		Artifact:  rc.ArtifactPath,
	}

	c.setState(Starting)
	if err := c.startup(ctx); err != nil {
		c.setState(Stopped)
		rec.FinishedAt = time.Now()
		rec.Phase = Starting.String()
		rec.Error = err.Error()
		return rec, err
	}
	c.log.Info("startup completed")

	c.setState(Running)
	runErr := c.run(ctx)
	if runErr != nil {
		c.log.Error("run failed, cleaning up", "err", runErr)
	}

	c.removeLeftovers()
	c.log.Info("cleaning up")
	cleanupErr := c.cleanup()
	c.setState(Stopped)

	err := errors.Join(runErr, cleanupErr)
	c.fillRecord(rec)
	if err == nil && c.opts.Compress {
		dest, cerr := result.Compress(rc.ArtifactPath)
		if cerr != nil {
			err = cerr
		} else {
			rec.Compressed = dest
			c.log.Info("compressed artifact", "path", dest)
		}
	}
	rec.FinishedAt = time.Now()
	rec.Phase = c.State().String()
	rec.Success = err == nil
	if err != nil {
		rec.Error = err.Error()
	}
	if werr := result.WriteRunRecord(rc.OutputDir, rec); werr != nil {
		err = errors.Join(err, fmt.Errorf("writing run record: %w", werr))
	}
	if err == nil {
		c.reportLogs()
		c.log.Info("run completed", "artifact", rc.ArtifactPath, "bytes", rec.ArtifactBytes, "drains", rec.MonitorDrains)
	}
	return rec, err
}

func (c *Controller) startup(ctx context.Context) error {
	t := c.opts.Tracer
	if _, err := result.PrepareOutputDir(c.opts.Run.OutputDir); err != nil {
		return err
	}
	if len(c.opts.PermissionPaths) > 0 {
		if err := t.EnablePermissions(ctx, c.opts.PermissionPaths); err != nil {
			return err
		}
	}

	steps := []struct {
		do   func() error
		undo func() error
	}{
		{do: t.ClearObjectList},
		{do: func() error { return t.SetLiveObjectDump(false) }},
		{
			do:   func() error { return t.SetAllocationTracking(true) },
			undo: func() error { return t.SetAllocationTracking(false) },
		},
		{
			do:   func() error { return t.SetAccessTracking(true) },
			undo: func() error { return t.SetAccessTracking(false) },
		},
	}
	var undo []func() error
	for _, s := range steps {
		if err := s.do(); err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				if uerr := undo[i](); uerr != nil {
					c.log.Warn("rollback failed", "err", uerr)
				}
			}
			return err
		}
		if s.undo != nil {
			undo = append(undo, s.undo)
		}
	}
	return nil
}

func (c *Controller) run(ctx context.Context) error {
	rc := c.opts.Run
	if err := result.RemoveStale(rc.ArtifactPath); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mon = monitor.New(&monitor.Opts{
		Source:    c.opts.Memory,
		Drainer:   c.opts.Tracer,
		Artifact:  rc.ArtifactPath,
		Threshold: c.opts.Threshold,
		Interval:  c.opts.Interval,
		Logger:    c.opts.Logger,
	})
	done := make(chan struct{})
	monErrc := make(chan error, 1)
	go func() {
		err := c.mon.Run(runCtx, done)
		if err != nil {
			cancel()
		}
		monErrc <- err
	}()

	jobs := make([]runner.Job, len(rc.Workloads))
	for i, w := range rc.Workloads {
		jobs[i] = func(ctx context.Context) error {
			res, err := c.opts.Runner.RunWorkload(ctx, w)
			if res != nil {
				c.results.Store(i, res)
			}
			return err
		}
	}
	poolErr := runner.RunPool(runCtx, c.opts.Parallel, jobs)

	close(done)
	c.setState(Draining)
	monErr := <-monErrc

	switch {
	case monErr != nil && (poolErr == nil || (ctx.Err() == nil && errors.Is(poolErr, context.Canceled))):
		return monErr
	case ctx.Err() != nil:
		return errors.Join(fmt.Errorf("run interrupted: %w", ctx.Err()), monErr)
	default:
		return errors.Join(poolErr, monErr)
	}
}

// cleanup stops at the first failing step.
func (c *Controller) cleanup() error {
	t := c.opts.Tracer
	steps := []func() error{
		func() error { return t.SetAccessTracking(false) },
		func() error { return t.SetAllocationTracking(false) },
		func() error { return t.DumpStats(c.opts.Stats) },
		func() error { return t.SetLiveObjectDump(true) },
		func() error {
			n, err := t.DrainBuffer(c.opts.Run.ArtifactPath)
			if err == nil {
				c.log.Info("final drain", "bytes", n)
			}
			return err
		},
		t.ClearObjectList,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// removeLeftovers deletes files workloads are known to leave behind.
func (c *Controller) removeLeftovers() {
	for _, w := range c.opts.Run.Workloads {
		for _, name := range w.Cleanup {
			path := name
			if !filepath.IsAbs(path) {
				path = filepath.Join(c.opts.WorkDir, name)
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				c.log.Warn("removing workload leftover", "workload", w.Name, "path", path, "err", err)
			}
		}
	}
}

func (c *Controller) fillRecord(rec *result.RunRecord) {
	for i := range c.opts.Run.Workloads {
		if res, ok := c.results.Load(i); ok {
			rec.Workloads = append(rec.Workloads, *res)
		}
	}
	if c.mon != nil {
		rec.MonitorSamples = c.mon.Samples()
		rec.MonitorDrains = c.mon.Drains()
	}
	n, err := result.Size(c.opts.Run.ArtifactPath)
	if err != nil {
		c.log.Warn("reading artifact size", "err", err)
	}
	rec.ArtifactBytes = n
}

func (c *Controller) reportLogs() {
	for _, w := range c.opts.Run.Workloads {
		if w.Log != "" {
			c.log.Info("workload results", "workload", w.Name, "log", w.Log)
		}
	}
}
