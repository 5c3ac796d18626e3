package vmm

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/sirupsen/logrus"
)

// Note: Start() drives a real jailer+firecracker process pair and is not
// exercised here; covering it would require those binaries on the test
// host. jailerArgs() (TestJailerArgsDeterministicOrder) and the sequencer
// ordering tests cover everything Start() does short of the actual spawn.

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return logrus.NewEntry(log)
}

func TestCreateMaterializesWorkspaceAndStartsShutoff(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	m, err := Create(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if m.State() != StatusShutoff {
		t.Fatalf("State() = %v, want Shutoff", m.State())
	}
	if _, err := os.Stat(cfg.HostKernelImagePath()); err != nil {
		t.Fatalf("kernel not materialized: %v", err)
	}
	if pid, ok := m.PID(); ok || pid != 0 {
		t.Fatalf("PID() = (%d, %v), want (0, false) while Shutoff", pid, ok)
	}
}

func TestForceShutdownRequiresRunning(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	m, err := Create(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.ForceShutdown(context.Background()); !errors.Is(err, ErrProcessNotStarted) {
		t.Fatalf("got %v, want ErrProcessNotStarted", err)
	}
}

func TestConnectForceShutdownKillsTrackedProcess(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	sleeper := exec.Command("sleep", "30")
	if err := sleeper.Start(); err != nil {
		t.Skipf("cannot spawn a test process on this host: %v", err)
	}
	defer sleeper.Process.Kill()

	m := Connect(cfg, sleeper.Process.Pid, testLogger())
	if m.State() != StatusRunning {
		t.Fatalf("State() = %v, want Running", m.State())
	}
	if pid, ok := m.PID(); !ok || pid != sleeper.Process.Pid {
		t.Fatalf("PID() = (%d, %v), want (%d, true)", pid, ok, sleeper.Process.Pid)
	}

	if err := m.ForceShutdown(context.Background()); err != nil {
		t.Fatalf("ForceShutdown: %v", err)
	}
	if m.State() != StatusShutoff {
		t.Fatalf("State() after ForceShutdown = %v, want Shutoff", m.State())
	}

	if pid, ok := m.PID(); ok || pid != 0 {
		t.Fatalf("PID() after ForceShutdown = (%d, %v), want (0, false)", pid, ok)
	}

	sleeper.Wait()
}

func TestDeleteRemovesVMDirectoryWhenShutoff(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	m, err := Create(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Delete(context.Background()); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(cfg.VMDir()); !os.IsNotExist(err) {
		t.Fatalf("expected vm dir to be removed, stat err = %v", err)
	}
}
