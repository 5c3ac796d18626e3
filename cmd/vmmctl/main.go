// vmmctl is the command-line harness for the Firecracker microVM lifecycle
// engine. It loads a TOML config file, builds a vmm.Config from it, and
// drives a single vmm.Machine through one lifecycle operation.
//
// Usage:
//
//	vmmctl create --config vm.toml
//	vmmctl start --config vm.toml --pid-file vm.pid
//	vmmctl status --config vm.toml --pid-file vm.pid
//	vmmctl shutdown --config vm.toml --pid-file vm.pid
//	vmmctl force-shutdown --config vm.toml --pid-file vm.pid
//	vmmctl delete --config vm.toml --pid-file vm.pid
//
// Build: go build -o vmmctl ./cmd/vmmctl
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/pipeops/firecracker-vmm/pkg/config"
	"github.com/pipeops/firecracker-vmm/pkg/vmm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}
	if cmd == "--version" || cmd == "version" {
		fmt.Printf("vmmctl version %s\n", version)
		return
	}

	configPath, pidFile, rest := parseFlags(args)
	if configPath == "" {
		fatal("--config is required")
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		fatal("%v", err)
	}
	config.LoadFromEnv(cfg)
	cfg.ApplyToLogger(log)

	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}

	vmCfg, err := cfg.ToVMMConfig()
	if err != nil {
		fatal("building vm config: %v", err)
	}

	entry := logrus.NewEntry(log).WithField("vm_id", vmCfg.VMID.String())

	var cmdErr error
	switch cmd {
	case "create":
		cmdErr = cmdCreate(ctx, vmCfg, entry)
	case "start":
		cmdErr = cmdStart(ctx, vmCfg, entry, pidFile)
	case "status":
		cmdErr = cmdStatus(ctx, vmCfg, entry, pidFile)
	case "shutdown":
		cmdErr = cmdShutdown(ctx, vmCfg, entry, pidFile)
	case "force-shutdown":
		cmdErr = cmdForceShutdown(ctx, vmCfg, entry, pidFile)
	case "delete":
		cmdErr = cmdDelete(ctx, vmCfg, entry, pidFile)
	default:
		fatal("unknown command: %s", cmd)
	}

	if cmdErr != nil {
		fatal("%v", cmdErr)
	}

	_ = rest
}

func cmdCreate(ctx context.Context, cfg *vmm.Config, log *logrus.Entry) error {
	m, err := vmm.Create(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	fmt.Printf("created %s (state: %s)\n", cfg.VMID, m.State())
	return nil
}

func cmdStart(ctx context.Context, cfg *vmm.Config, log *logrus.Entry, pidFile string) error {
	m, err := vmm.Create(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	pid, _ := m.PID()
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
			log.WithError(err).Warn("failed to write pid file")
		}
	}
	fmt.Printf("started %s (pid %d)\n", cfg.VMID, pid)
	return nil
}

func cmdStatus(ctx context.Context, cfg *vmm.Config, log *logrus.Entry, pidFile string) error {
	m, err := connectFromPIDFile(cfg, log, pidFile)
	if err != nil {
		return err
	}
	pid, _ := m.PID()
	fmt.Printf("%s: %s (pid %d)\n", cfg.VMID, m.State(), pid)
	return nil
}

func cmdShutdown(ctx context.Context, cfg *vmm.Config, log *logrus.Entry, pidFile string) error {
	m, err := connectFromPIDFile(cfg, log, pidFile)
	if err != nil {
		return err
	}
	if err := m.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Printf("sent shutdown to %s\n", cfg.VMID)
	return nil
}

func cmdForceShutdown(ctx context.Context, cfg *vmm.Config, log *logrus.Entry, pidFile string) error {
	m, err := connectFromPIDFile(cfg, log, pidFile)
	if err != nil {
		return err
	}
	if err := m.ForceShutdown(ctx); err != nil {
		return fmt.Errorf("force-shutdown: %w", err)
	}
	fmt.Printf("force-stopped %s\n", cfg.VMID)
	return nil
}

func cmdDelete(ctx context.Context, cfg *vmm.Config, log *logrus.Entry, pidFile string) error {
	var m *vmm.Machine
	if pidFile != "" {
		if pm, err := connectFromPIDFile(cfg, log, pidFile); err == nil {
			m = pm
		}
	}
	if m == nil {
		created, err := vmm.Create(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("create (for delete): %w", err)
		}
		m = created
	}
	if err := m.Delete(ctx); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if pidFile != "" {
		os.Remove(pidFile)
	}
	fmt.Printf("deleted %s\n", cfg.VMID)
	return nil
}

func connectFromPIDFile(cfg *vmm.Config, log *logrus.Entry, pidFile string) (*vmm.Machine, error) {
	if pidFile == "" {
		return nil, fmt.Errorf("--pid-file is required for this command")
	}
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return nil, fmt.Errorf("reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing pid file: %w", err)
	}
	return vmm.Connect(cfg, pid, log), nil
}

func parseFlags(args []string) (configPath, pidFile string, rest []string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				fatal("--config requires a value")
			}
			configPath = args[i+1]
			i++
		case "--pid-file":
			if i+1 >= len(args) {
				fatal("--pid-file requires a value")
			}
			pidFile = args[i+1]
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	return configPath, pidFile, rest
}

func printUsage() {
	fmt.Println(`vmmctl - Firecracker microVM lifecycle CLI

Usage:
  vmmctl <command> --config <file> [--pid-file <file>]

Commands:
  create          Materialize the jailer workspace, leave the VM Shutoff
  start           Create (if needed) and launch the jailer+firecracker process
  status          Report the pid from --pid-file as Running (liveness is not checked)
  shutdown        Send a graceful SendCtrlAltDel action
  force-shutdown  Kill the tracked process immediately
  delete          Shut down (best effort) and remove the VM's directory tree
  version         Show version
  help            Show this help

Flags:
  --config, -c <file>   Path to a TOML config file (required)
  --pid-file <file>     Path used to persist/recover the tracked PID

Examples:
  vmmctl create --config vm.toml
  vmmctl start --config vm.toml --pid-file vm.pid
  vmmctl delete --config vm.toml --pid-file vm.pid
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
