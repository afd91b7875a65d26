// Package kernel drives the memorizer control files under debugfs.
//
// Every operation is a single open/write or open/read of one control entry.
// Operations are serialized, so the run controller and the resource monitor
// can share one Debugfs value.
package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

const (
	EntryClearObjectList  = "clear_object_list"
	EntryPrintLiveObj     = "print_live_obj"
	EntryEnabled          = "memorizer_enabled"
	EntryLogAccess        = "memorizer_log_access"
	EntryClearPrintedList = "clear_printed_list"
	EntryShowStats        = "show_stats"
	EntryKmap             = "kmap"
)

// OpError names the control entry and what the write or read was meant to do.
type OpError struct {
	Effect string
	Entry  string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Effect, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ExecFunc runs an external command and returns its combined output.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

type Options struct {
	// Dir is the memorizer debugfs directory.
	Dir string
	// Group receives recursive rwx access in EnablePermissions.
	Group string
	Sudo  bool
	// Exec defaults to os/exec.
	Exec   ExecFunc
	Logger *slog.Logger
}

type Debugfs struct {
	dir   string
	group string
	sudo  bool
	exec  ExecFunc
	log   *slog.Logger
	mu    sync.Mutex
}

func New(opts Options) *Debugfs {
	d := &Debugfs{
		dir:   opts.Dir,
		group: opts.Group,
		sudo:  opts.Sudo,
		exec:  opts.Exec,
		log:   opts.Logger,
	}
	if d.exec == nil {
		d.exec = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		}
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}
	d.log = d.log.With("component", "kernel")
	return d
}

func (d *Debugfs) ClearObjectList() error {
	return d.write(EntryClearObjectList, true, "clear object list")
}

func (d *Debugfs) SetLiveObjectDump(enabled bool) error {
	return d.write(EntryPrintLiveObj, enabled, toggle(enabled, "live object dumping"))
}

func (d *Debugfs) SetAllocationTracking(enabled bool) error {
	return d.write(EntryEnabled, enabled, toggle(enabled, "allocation tracking"))
}

func (d *Debugfs) SetAccessTracking(enabled bool) error {
	return d.write(EntryLogAccess, enabled, toggle(enabled, "access tracking"))
}

func (d *Debugfs) ClearPrintedList() error {
	return d.write(EntryClearPrintedList, true, "clear printed list")
}

// DrainBuffer appends the current kmap contents to dest and returns the number
// of bytes appended. The caller clears the printed list afterwards.
func (d *Debugfs) DrainBuffer(dest string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	effect := "append kmap to " + dest
	src, err := os.Open(d.path(EntryKmap))
	if err != nil {
		return 0, &OpError{Effect: effect, Entry: EntryKmap, Err: err}
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return 0, &OpError{Effect: effect, Entry: EntryKmap, Err: err}
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, &OpError{Effect: effect, Entry: EntryKmap, Err: err}
	}
	d.log.Debug("drained kmap", "bytes", n, "dest", dest)
	return n, nil
}

// DumpStats copies show_stats to w without interpreting it.
func (d *Debugfs) DumpStats(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path(EntryShowStats))
	if err != nil {
		return &OpError{Effect: "display memorizer stats", Entry: EntryShowStats, Err: err}
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return &OpError{Effect: "display memorizer stats", Entry: EntryShowStats, Err: err}
	}
	return nil
}

func (d *Debugfs) write(entry string, on bool, effect string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	value := "0"
	if on {
		value = "1"
	}
	// No O_CREATE: a missing entry means the memorizer is not loaded.
	f, err := os.OpenFile(d.path(entry), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return &OpError{Effect: effect, Entry: entry, Err: err}
	}
	_, err = f.WriteString(value)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &OpError{Effect: effect, Entry: entry, Err: err}
	}
	d.log.Debug("wrote control entry", "entry", entry, "value", value)
	return nil
}

func (d *Debugfs) path(entry string) string {
	return filepath.Join(d.dir, entry)
}

func toggle(on bool, what string) string {
	if on {
		return "enable " + what
	}
	return "disable " + what
}
