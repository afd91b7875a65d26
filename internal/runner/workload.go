package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/signalnine/memtrace/internal/config"
	"github.com/signalnine/memtrace/internal/docker"
	"github.com/signalnine/memtrace/internal/result"
)

// killWaitDelay bounds how long Wait keeps reading output once the workload
// exits or its process group was killed.
const killWaitDelay = 2 * time.Second

// ExitError reports a workload that ran but did not succeed.
type ExitError struct {
	Workload string
	Command  string
	ExitCode int
	Err      error
}

func (e *ExitError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("workload %s failed: %q exited with status %d", e.Workload, e.Command, e.ExitCode)
	}
	return fmt.Sprintf("workload %s failed: %q: %v", e.Workload, e.Command, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

func ExitReason(code int, cancelled bool) string {
	if cancelled {
		return "cancelled"
	}
	if code == 0 {
		return "completed"
	}
	return "failed"
}

// ContainerFunc runs a containerized workload. docker.RunContainer by default.
type ContainerFunc func(ctx context.Context, opts *docker.RunOpts) (*docker.RunResult, error)

type Runner struct {
	// Dir is the working directory for host workloads and the /workspace
	// mount for container workloads. Empty means the current directory.
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	// Shell runs host commands as Shell -c <command>.
	Shell     string
	Container ContainerFunc
	Logger    *slog.Logger
}

// withDefaults returns a copy so concurrent RunWorkload calls never write to r.
func (r *Runner) withDefaults() *Runner {
	c := *r
	r = &c
	if r.Stdout == nil {
		r.Stdout = os.Stdout
	}
	if r.Stderr == nil {
		r.Stderr = os.Stderr
	}
	if r.Shell == "" {
		r.Shell = "/bin/sh"
	}
	if r.Container == nil {
		r.Container = docker.RunContainer
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// RunWorkload runs w to completion. The returned result is non-nil whenever the
// command was started; a non-zero exit yields an *ExitError alongside it.
func (r *Runner) RunWorkload(ctx context.Context, w config.Workload) (*result.WorkloadResult, error) {
	r = r.withDefaults()
	log := r.Logger.With("workload", w.Name)
	res := &result.WorkloadResult{Name: w.Name, Command: w.Command, Image: w.Image}

	log.Info("starting workload", "command", w.Command, "image", w.Image)
	start := time.Now()
	code, err := r.exec(ctx, w)
	res.DurationS = time.Since(start).Seconds()
	res.ExitCode = code

	switch {
	case err == nil && code == 0:
		res.Success = true
		log.Info("workload finished", "duration_s", res.DurationS)
		return res, nil
	case err != nil && code == -2:
		return nil, fmt.Errorf("starting workload %s: %w", w.Name, err)
	}
	if err == nil {
		err = fmt.Errorf("exit status %d", code)
	}
	res.Error = err.Error()
	log.Warn("workload failed", "reason", ExitReason(code, ctx.Err() != nil), "exit_code", code, "err", err)
	return res, &ExitError{Workload: w.Name, Command: w.Command, ExitCode: code, Err: err}
}

// exec returns the exit code, -1 when the process was killed or the wait
// failed, and -2 when the command never started.
func (r *Runner) exec(ctx context.Context, w config.Workload) (int, error) {
	if w.Image != "" {
		dir := r.Dir
		if dir == "" {
			dir, _ = os.Getwd()
		}
		out, err := r.Container(ctx, &docker.RunOpts{
			Image:   w.Image,
			Command: []string{"sh", "-c", w.Command},
			WorkDir: dir,
			Output:  r.Stdout,
		})
		if err != nil {
			return -1, err
		}
		return out.ExitCode, nil
	}

	cmd := exec.CommandContext(ctx, r.Shell, "-c", w.Command)
	cmd.Dir = r.Dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	// Cancellation kills the whole process group, so children of compound
	// commands do not outlive the workload.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay
	if err := cmd.Start(); err != nil {
		return -2, err
	}
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
