package vmm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Workspace materializes a Config's chroot directory tree on disk: it
// creates the directory structure the jailer expects, copies the kernel,
// initrd, and drive images into it, and clears stale state left over from
// a previous run of the same vm id.
type Workspace struct {
	log *logrus.Entry
}

// NewWorkspace returns a Workspace that logs under the given entry.
func NewWorkspace(log *logrus.Entry) *Workspace {
	return &Workspace{log: log.WithField("component", "workspace")}
}

// Prepare creates the workspace directory and copies every required file
// into it. File copies are idempotent: an existing destination of the
// right name is left untouched, so re-running Prepare after a partial
// failure never re-copies a multi-gigabyte rootfs unnecessarily. Kernel,
// initrd, and drive copies run concurrently since they are independent.
func (w *Workspace) Prepare(ctx context.Context, cfg *Config) error {
	dir := cfg.WorkspaceDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("vmm: create workspace dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.HostSocketPath()), 0755); err != nil {
		return fmt.Errorf("vmm: create socket dir: %w", err)
	}

	w.log.WithField("vm_id", cfg.VMID).WithField("dir", dir).Debug("materializing workspace")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return copyIfAbsent(gctx, cfg.SrcKernelImagePath, cfg.HostKernelImagePath())
	})

	if cfg.SrcInitrdPath != "" {
		g.Go(func() error {
			return copyIfAbsent(gctx, cfg.SrcInitrdPath, cfg.HostInitrdPath())
		})
	}

	for _, d := range cfg.Drives {
		d := d
		g.Go(func() error {
			return copyIfAbsent(gctx, d.SrcPath, cfg.HostDrivePath(d))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return nil
}

// CleanStaleState removes the control socket, vsock socket, and dev/ tree
// left behind by a previous jailer invocation for this vm id. Absent paths
// are not an error; this must run before every start so a crashed previous
// attempt never makes a fresh jailer fail to bind its socket.
func (w *Workspace) CleanStaleState(cfg *Config) error {
	paths := []string{
		cfg.HostSocketPath(),
		filepath.Join(cfg.WorkspaceDir(), "dev"),
	}
	if p := cfg.HostVSockPath(); p != "" {
		paths = append(paths, p)
	}

	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("vmm: clean stale state at %s: %w", p, err)
		}
	}
	return nil
}

func copyIfAbsent(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("vmm: stat %s: %w", dst, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("vmm: open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("vmm: create dir for %s: %w", dst, err)
	}

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("vmm: create %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("vmm: copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vmm: close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("vmm: finalize %s: %w", dst, err)
	}
	return nil
}
