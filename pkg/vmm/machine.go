// Package vmm implements the host-side lifecycle of a single Firecracker
// microVM: config construction, chroot workspace materialization, jailer
// spawning, REST configuration, and the create/start/shutdown/delete state
// machine that ties them together.
package vmm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Status is the Machine's coarse lifecycle state.
type Status int

const (
	StatusShutoff Status = iota
	StatusRunning
)

func (s Status) String() string {
	if s == StatusRunning {
		return "Running"
	}
	return "Shutoff"
}

// gracefulShutdownWait is how long Delete waits after asking the guest to
// power off before it resorts to a force kill.
const gracefulShutdownWait = 10 * time.Second

// Machine coordinates one microVM through Shutoff -> Running -> Shutoff.
// It owns its workspace directory exclusively until Delete completes; two
// Machines must never be driven concurrently against the same vm id.
type Machine struct {
	cfg *Config
	log *logrus.Entry

	workspace *Workspace
	launcher  *launcher
	observer  *processObserver
	client    *controlClient
	sequencer *sequencer

	status Status
	pid    int
}

// Create materializes cfg's workspace and returns a Machine in state
// Shutoff. No process is spawned yet.
func Create(ctx context.Context, cfg *Config, log *logrus.Entry) (*Machine, error) {
	entry := log.WithField("vm_id", cfg.VMID.String())
	ws := NewWorkspace(entry)

	if err := ws.Prepare(ctx, cfg); err != nil {
		return nil, fmt.Errorf("vmm: create: %w", err)
	}

	client := newControlClient(cfg.HostSocketPath())

	m := &Machine{
		cfg:       cfg,
		log:       entry,
		workspace: ws,
		launcher:  newLauncher(entry),
		observer:  newProcessObserver(),
		client:    client,
		sequencer: newSequencer(client, entry),
		status:    StatusShutoff,
	}

	entry.Info("vm created")
	return m, nil
}

// Connect reattaches to an already-running Machine. The caller asserts pid
// is correct; Connect performs no verification of its own.
func Connect(cfg *Config, pid int, log *logrus.Entry) *Machine {
	entry := log.WithField("vm_id", cfg.VMID.String())
	client := newControlClient(cfg.HostSocketPath())
	return &Machine{
		cfg:       cfg,
		log:       entry,
		workspace: NewWorkspace(entry),
		launcher:  newLauncher(entry),
		observer:  newProcessObserver(),
		client:    client,
		sequencer: newSequencer(client, entry),
		status:    StatusRunning,
		pid:       pid,
	}
}

// Start spawns the jailer, waits for its control socket, runs the
// configuration sequence, and issues InstanceStart. If any step after
// spawn fails, Start makes a best-effort ForceShutdown, logs whatever
// error that produces, and returns the original failure; state returns to
// Shutoff.
func (m *Machine) Start(ctx context.Context) error {
	if m.status == StatusRunning {
		return ErrProcessAlreadyRunning
	}

	if err := m.workspace.CleanStaleState(m.cfg); err != nil {
		return fmt.Errorf("vmm: start: %w", err)
	}

	result, err := m.launcher.launch(ctx, m.cfg, m.client)
	if err != nil {
		return fmt.Errorf("vmm: start: %w", err)
	}

	m.pid = result.firecrackerPID
	m.status = StatusRunning

	if err := m.sequencer.configure(ctx, m.cfg); err != nil {
		m.rollback(ctx)
		return fmt.Errorf("vmm: start: configure: %w", err)
	}

	if err := m.client.send(ctx, http.MethodPut, "/actions", actionPayload{ActionType: actionInstanceStart}); err != nil {
		m.rollback(ctx)
		return fmt.Errorf("vmm: start: instance start: %w", err)
	}

	m.log.WithField("pid", m.pid).Info("vm started")
	return nil
}

// rollback is the best-effort cleanup Start performs when it fails after
// the jailer has already spawned. Its own errors are swallowed: the
// caller sees only the original failure.
func (m *Machine) rollback(ctx context.Context) {
	if err := m.ForceShutdown(ctx); err != nil {
		m.log.WithError(err).Warn("rollback after failed start did not fully succeed")
	}
}

// Shutdown requests a graceful guest power-off via SendCtrlAltDel. It does
// not change Machine's observed state; the guest may take time to exit or
// may ignore the request entirely.
func (m *Machine) Shutdown(ctx context.Context) error {
	return m.client.send(ctx, http.MethodPut, "/actions", actionPayload{ActionType: actionSendCtrlAltDel})
}

// ForceShutdown kills the tracked jailed process (or, in Tmux mode, the
// tmux session) and transitions state to Shutoff.
func (m *Machine) ForceShutdown(ctx context.Context) error {
	if m.status != StatusRunning {
		return ErrProcessNotStarted
	}

	var err error
	if _, ok := m.cfg.JailerCfg.Mode.(tmuxMode); ok {
		err = runTmuxKill(ctx, m.tmuxSessionName())
	} else {
		err = m.observer.Kill(ctx, m.pid)
	}

	m.status = StatusShutoff
	m.pid = 0
	return err
}

func (m *Machine) tmuxSessionName() string {
	if mode, ok := m.cfg.JailerCfg.Mode.(tmuxMode); ok && mode.session != "" {
		return mode.session
	}
	return m.cfg.VMID.String()
}

// Delete consumes the Machine: if running, it attempts a graceful
// Shutdown, waits gracefulShutdownWait if that request was accepted (the
// wait is skipped when it failed), then ForceShutdown (each error logged, not propagated,
// so cleanup always proceeds), then removes the VM's entire directory
// tree. Only the final removal's error is returned to the caller.
func (m *Machine) Delete(ctx context.Context) error {
	var merr *multierror.Error

	if m.status == StatusRunning {
		if err := m.Shutdown(ctx); err != nil {
			m.log.WithError(err).Warn("graceful shutdown during delete failed")
			merr = multierror.Append(merr, err)
		} else {
			select {
			case <-ctx.Done():
			case <-time.After(gracefulShutdownWait):
			}
		}

		if m.status == StatusRunning {
			if err := m.ForceShutdown(ctx); err != nil {
				m.log.WithError(err).Warn("force shutdown during delete failed")
				merr = multierror.Append(merr, err)
			}
		}
	}

	if merr.ErrorOrNil() != nil {
		m.log.WithError(merr).Warn("delete proceeding despite cleanup errors")
	}

	if err := os.RemoveAll(m.cfg.VMDir()); err != nil {
		return fmt.Errorf("vmm: delete: remove vm dir: %w", err)
	}

	m.log.Info("vm deleted")
	return nil
}

// State returns the Machine's current coarse status.
func (m *Machine) State() Status {
	return m.status
}

// Config returns the Config this Machine was built from.
func (m *Machine) Config() *Config {
	return m.cfg
}

// PID returns the tracked firecracker PID and whether one is currently
// known; it is only ever non-zero while State() == StatusRunning.
func (m *Machine) PID() (int, bool) {
	if m.status != StatusRunning {
		return 0, false
	}
	return m.pid, true
}
