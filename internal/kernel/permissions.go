package kernel

import (
	"context"
	"fmt"
	"strings"
)

// EnablePermissions hands the configured group recursive rwx access over each
// path, the way the memorizer docs set up /opt and /sys/kernel/debug.
func (d *Debugfs) EnablePermissions(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := d.run(ctx, "change group permissions of "+p, "chgrp", "-R", d.group, p); err != nil {
			return err
		}
		if err := d.run(ctx, "grant wrx permissions to "+p, "chmod", "-R", "g+wrx", p); err != nil {
			return err
		}
		d.log.Info("granted group access", "group", d.group, "path", p)
	}
	return nil
}

func (d *Debugfs) run(ctx context.Context, effect string, name string, args ...string) error {
	if d.sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	out, err := d.exec(ctx, name, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			err = fmt.Errorf("%s: %w", msg, err)
		}
		return &OpError{Effect: effect, Entry: name, Err: err}
	}
	return nil
}
