package vmm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testConfig(t *testing.T, chrootBase string) *Config {
	t.Helper()

	kernel := filepath.Join(t.TempDir(), "vmlinux")
	if err := os.WriteFile(kernel, []byte("kernel-bytes"), 0644); err != nil {
		t.Fatalf("write fake kernel: %v", err)
	}

	drive := filepath.Join(filepath.Dir(kernel), "rootfs.ext4")
	if err := os.WriteFile(drive, []byte("drive-bytes"), 0644); err != nil {
		t.Fatalf("write fake drive: %v", err)
	}

	id, _ := ParseVmId("test-vm")
	cfg, err := NewBuilder().
		WithVMID(id).
		WithKernelImagePath(kernel).
		JailerConfig().WithChrootBaseDir(chrootBase).WithExecFile("/usr/bin/firecracker").Build().
		AddDrive().WithDriveID("rootfs").WithSrcPath(drive).WithRootDevice(true).Build().
		Build()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	return cfg
}

func TestWorkspacePrepareCreatesFiles(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ws := NewWorkspace(logrus.NewEntry(logrus.StandardLogger()))

	if err := ws.Prepare(context.Background(), cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if _, err := os.Stat(cfg.HostKernelImagePath()); err != nil {
		t.Fatalf("kernel not copied: %v", err)
	}
	if _, err := os.Stat(cfg.HostDrivePath(cfg.Drives[0])); err != nil {
		t.Fatalf("drive not copied: %v", err)
	}
}

func TestWorkspacePrepareIsIdempotent(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ws := NewWorkspace(logrus.NewEntry(logrus.StandardLogger()))

	if err := ws.Prepare(context.Background(), cfg); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}

	info1, err := os.Stat(cfg.HostKernelImagePath())
	if err != nil {
		t.Fatalf("stat after first prepare: %v", err)
	}

	// Force the mtime backwards so a re-copy would be detectable.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(cfg.HostKernelImagePath(), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := ws.Prepare(context.Background(), cfg); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}

	info2, err := os.Stat(cfg.HostKernelImagePath())
	if err != nil {
		t.Fatalf("stat after second prepare: %v", err)
	}

	if info2.ModTime().After(info1.ModTime().Add(time.Minute)) {
		t.Fatalf("kernel file was re-copied on second Prepare: mtime moved from %v to %v", info1.ModTime(), info2.ModTime())
	}
	if !info2.ModTime().Equal(past) {
		t.Fatalf("expected mtime to remain at the forced value %v, got %v", past, info2.ModTime())
	}
}

func TestCleanStaleStateRemovesSocketAndDevTree(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ws := NewWorkspace(logrus.NewEntry(logrus.StandardLogger()))

	if err := ws.Prepare(context.Background(), cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	sock := cfg.HostSocketPath()
	if err := os.MkdirAll(filepath.Dir(sock), 0755); err != nil {
		t.Fatalf("mkdir socket dir: %v", err)
	}
	if err := os.WriteFile(sock, []byte{}, 0644); err != nil {
		t.Fatalf("create stale socket: %v", err)
	}

	devDir := filepath.Join(cfg.WorkspaceDir(), "dev")
	if err := os.MkdirAll(devDir, 0755); err != nil {
		t.Fatalf("mkdir dev: %v", err)
	}

	if err := ws.CleanStaleState(cfg); err != nil {
		t.Fatalf("CleanStaleState: %v", err)
	}

	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("expected stale socket to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(devDir); !os.IsNotExist(err) {
		t.Fatalf("expected dev tree to be removed, stat err = %v", err)
	}
}

func TestCleanStaleStateToleratesAbsentPaths(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ws := NewWorkspace(logrus.NewEntry(logrus.StandardLogger()))

	if err := ws.Prepare(context.Background(), cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ws.CleanStaleState(cfg); err != nil {
		t.Fatalf("CleanStaleState on fresh workspace should not error: %v", err)
	}
}
