package vmm

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

const (
	socketPollInterval = 100 * time.Millisecond
	socketPollTimeout  = 10 * time.Second
)

// launcher spawns the jailer process for a Config and waits for its
// control socket to answer.
type launcher struct {
	log *logrus.Entry
}

func newLauncher(log *logrus.Entry) *launcher {
	return &launcher{log: log.WithField("component", "launcher")}
}

// jailerArgs builds the argv passed to the jailer binary, in the exact
// positional order the jailer requires.
func jailerArgs(cfg *Config) []string {
	args := []string{}
	if _, ok := cfg.JailerCfg.Mode.(daemonMode); ok {
		args = append(args, "--daemonize")
	}
	args = append(args,
		"--id", cfg.VMID.String(),
		"--exec-file", cfg.JailerCfg.ExecFile,
		"--uid", strconv.Itoa(cfg.JailerCfg.UID),
		"--gid", strconv.Itoa(cfg.JailerCfg.GID),
		"--chroot-base-dir", cfg.JailerCfg.ChrootBaseDir,
	)
	if cfg.JailerCfg.NumaNode != nil {
		args = append(args, "--node", strconv.Itoa(*cfg.JailerCfg.NumaNode))
	}
	if cfg.NetNS != "" {
		args = append(args, "--netns", cfg.NetNS)
	}
	args = append(args, "--", "--api-sock", cfg.SocketPath)
	return args
}

// launchResult carries what the launcher learned about the spawned
// process: the firecracker PID rediscovered from the process table. The
// immediate child's PID (which, for Daemon mode, is not the firecracker
// PID) is not kept.
type launchResult struct {
	firecrackerPID int
}

// launch spawns the jailer per cfg.JailerCfg.Mode, waits for the control
// socket to answer, and rediscovers the real firecracker PID from the
// process table.
func (l *launcher) launch(ctx context.Context, cfg *Config, client *controlClient) (*launchResult, error) {
	binary, err := exec.LookPath(cfg.JailerCfg.JailerBinary)
	if err != nil {
		binary = cfg.JailerCfg.JailerBinary
	}

	cmd := exec.CommandContext(ctx, binary, jailerArgs(cfg)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	isTmux := false
	tmuxSession := ""

	switch mode := cfg.JailerCfg.Mode.(type) {
	case attachedMode:
		cmd.Stdin = os.Stdin
		if mode.stdio.Stdin != nil {
			cmd.Stdin = mode.stdio.Stdin
		}
		cmd.Stdout = orDefault(mode.stdio.Stdout, os.Stdout)
		cmd.Stderr = orDefault(mode.stdio.Stderr, os.Stderr)
	case daemonMode:
		// The jailer itself detaches stdio under --daemonize; the
		// immediate child's own streams are irrelevant.
	case tmuxMode:
		isTmux = true
		tmuxSession = mode.session
		if tmuxSession == "" {
			tmuxSession = cfg.VMID.String()
		}
		tmuxArgs := append([]string{"new-session", "-d", "-s", tmuxSession, binary}, jailerArgs(cfg)...)
		cmd = exec.CommandContext(ctx, "tmux", tmuxArgs...)
	default:
		return nil, fmt.Errorf("vmm: unknown jailer mode %T", mode)
	}

	l.log.WithFields(logrus.Fields{"vm_id": cfg.VMID.String(), "args": cmd.Args}).Debug("spawning jailer")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("vmm: spawn jailer: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	waitErr := client.waitForSocket(ctx, socketPollTimeout, socketPollInterval)

	// In Tmux mode the spawned cmd is the tmux client ("new-session -d"),
	// which detaches and exits with status 0 as soon as the session is
	// created. That exit says nothing about whether the jailer running
	// inside the session is alive, so it must never be read as the
	// jailer having crashed; liveness there comes only from the socket
	// wait and the process-table scan below.
	if !isTmux {
		select {
		case exitErr := <-exited:
			status := 0
			if ee, ok := exitErr.(*exec.ExitError); ok {
				status = ee.ExitCode()
			}
			return nil, &ProcessExitedImmediatelyError{ExitStatus: status}
		default:
		}
	}

	if waitErr != nil {
		l.killSpawned(cfg, cmd, exited, isTmux, tmuxSession)
		return nil, waitErr
	}

	pid, err := l.findFirecrackerPID(cfg)
	if err != nil {
		l.killSpawned(cfg, cmd, exited, isTmux, tmuxSession)
		return nil, err
	}
	return &launchResult{firecrackerPID: pid}, nil
}

// killSpawned makes a best-effort attempt to tear down whatever launch
// spawned after a failure past cmd.Start(), so a failed Start never leaves
// an orphaned jailer or firecracker process behind. It runs on its own
// timeout rather than the caller's ctx, since cleanup must still happen
// when the failure was ctx expiring in the first place. It also drains
// exited so the cmd.Wait() goroutine above is never left blocked forever.
func (l *launcher) killSpawned(cfg *Config, cmd *exec.Cmd, exited <-chan error, isTmux bool, tmuxSession string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if isTmux {
		// cmd is the tmux client and has already exited; the jailer, if
		// it ever started, lives on inside the tmux session.
		if err := runTmuxKill(cleanupCtx, tmuxSession); err != nil {
			l.log.WithError(err).Warn("failed to kill tmux session after failed start")
		}
	} else if cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			l.log.WithError(err).Warn("failed to kill spawned jailer after failed start")
		}
	}

	// In Daemon mode the real firecracker process may have already
	// forked away from the one spawned directly above; sweep the
	// process table for anything still matching this vm id and kill it
	// too, regardless of how many matches turn up.
	for _, pid := range l.matchingPIDs(cfg) {
		if err := newProcessObserver().Kill(cleanupCtx, pid); err != nil {
			l.log.WithField("pid", pid).WithError(err).Warn("failed to kill orphaned firecracker process")
		}
	}

	select {
	case <-exited:
	case <-cleanupCtx.Done():
	}
}

// findFirecrackerPID scans the host process table for the single process
// whose cmdline contains the VM's id and whose executable matches the
// configured exec_file.
func (l *launcher) findFirecrackerPID(cfg *Config) (int, error) {
	matches := l.matchingPIDs(cfg)
	if len(matches) != 1 {
		return 0, ErrFailedToStart
	}
	return matches[0], nil
}

// matchingPIDs scans the process table for every process running
// cfg.JailerCfg.ExecFile with the VM's id present on its command line. It
// returns nil rather than an error on scan failure: findFirecrackerPID
// treats that the same as "no match", and best-effort cleanup callers are
// happy to find nothing to kill.
func (l *launcher) matchingPIDs(cfg *Config) []int {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	var matches []int
	for _, p := range procs {
		exe, err := p.Exe()
		if err != nil || exe != cfg.JailerCfg.ExecFile {
			continue
		}
		cmdline, err := p.CmdlineSlice()
		if err != nil {
			continue
		}
		for _, arg := range cmdline {
			if arg == cfg.VMID.String() {
				matches = append(matches, int(p.Pid))
				break
			}
		}
	}
	return matches
}

func orDefault(w io.Writer, def *os.File) io.Writer {
	if w != nil {
		return w
	}
	return def
}
