package vmm

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// processObserver answers liveness and kill queries about a single tracked
// PID. gopsutil's process-table scans are synchronous OS calls; each
// method dispatches onto its own goroutine so a caller driving an event
// loop of its own is never blocked by a slow /proc walk.
type processObserver struct{}

func newProcessObserver() *processObserver {
	return &processObserver{}
}

// IsRunning reports whether pid is currently a live process.
func (o *processObserver) IsRunning(ctx context.Context, pid int) (bool, error) {
	type result struct {
		running bool
		err     error
	}
	out := make(chan result, 1)
	go func() {
		running, err := process.PidExists(int32(pid))
		out <- result{running: running, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-out:
		return r.running, r.err
	}
}

// Kill sends the default termination signal to pid.
func (o *processObserver) Kill(ctx context.Context, pid int) error {
	out := make(chan error, 1)
	go func() {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			out <- &ProcessNotRunningError{PID: pid}
			return
		}
		if err := p.Kill(); err != nil {
			out <- &ProcessNotKilledError{PID: pid, Err: err}
			return
		}
		out <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-out:
		return err
	}
}
