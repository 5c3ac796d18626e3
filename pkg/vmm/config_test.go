package vmm

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuilderDerivesWorkspacePaths(t *testing.T) {
	id, _ := ParseVmId("00000000-0000-0000-0000-000000000001")
	cfg, err := NewBuilder().
		WithVMID(id).
		WithKernelImagePath("/tmp/k").
		WithSocketPath("/run/firecracker.socket").
		JailerConfig().
		WithExecFile("/usr/bin/firecracker").
		WithChrootBaseDir("/srv/jailer").
		Build().
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantWorkspace := filepath.Join("/srv/jailer", "firecracker", id.String(), "root")
	if got := cfg.WorkspaceDir(); got != wantWorkspace {
		t.Fatalf("WorkspaceDir() = %q, want %q", got, wantWorkspace)
	}

	wantSocket := filepath.Join(wantWorkspace, "run", "firecracker.socket")
	if got := cfg.HostSocketPath(); got != wantSocket {
		t.Fatalf("HostSocketPath() = %q, want %q", got, wantSocket)
	}

	wantVMDir := filepath.Join("/srv/jailer", "firecracker", id.String())
	if got := cfg.VMDir(); got != wantVMDir {
		t.Fatalf("VMDir() = %q, want %q", got, wantVMDir)
	}
}

func TestBuilderRejectsInvalidJailerExecPath(t *testing.T) {
	_, err := NewBuilder().
		WithKernelImagePath("/tmp/k").
		JailerConfig().WithExecFile("").Build().
		Build()
	if !errors.Is(err, ErrInvalidJailerExecPath) {
		t.Fatalf("got %v, want ErrInvalidJailerExecPath", err)
	}
}

func TestBuilderRejectsMultipleRootDrives(t *testing.T) {
	b := NewBuilder().WithKernelImagePath("/tmp/k")
	b = b.AddDrive().WithDriveID("a").WithSrcPath("/tmp/a.ext4").WithRootDevice(true).Build()
	b = b.AddDrive().WithDriveID("b").WithSrcPath("/tmp/b.ext4").WithRootDevice(true).Build()

	_, err := b.Build()
	if !errors.Is(err, ErrMultipleRootDrives) {
		t.Fatalf("got %v, want ErrMultipleRootDrives", err)
	}
}

func TestBuilderRejectsInvalidDrivePath(t *testing.T) {
	b := NewBuilder().WithKernelImagePath("/tmp/k")
	b = b.AddDrive().WithDriveID("a").WithSrcPath("").Build()

	_, err := b.Build()
	if !errors.Is(err, ErrInvalidDrivePath) {
		t.Fatalf("got %v, want ErrInvalidDrivePath", err)
	}
}

func TestBuilderGeneratesIdWhenUnset(t *testing.T) {
	cfg, err := NewBuilder().WithKernelImagePath("/tmp/k").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VMID.IsZero() {
		t.Fatal("expected a generated vm id")
	}
}

func TestNestedBuildersReturnToParent(t *testing.T) {
	builder := NewBuilder().WithKernelImagePath("/tmp/k")
	afterMachine := builder.MachineConfig().WithVcpuCount(2).WithMemSizeMib(256).Build()
	if afterMachine != builder {
		t.Fatal("MachineBuilder.Build() did not return the same parent builder")
	}

	cfg, err := afterMachine.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MachineCfg.VcpuCount != 2 || cfg.MachineCfg.MemSizeMib != 256 {
		t.Fatalf("machine config not applied: %+v", cfg.MachineCfg)
	}
}

func TestBuilderRejectsInvalidVcpuCount(t *testing.T) {
	cases := []struct {
		name string
		n    int64
	}{
		{"zero", 0},
		{"too many", 33},
		{"odd above one", 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBuilder().
				WithKernelImagePath("/tmp/k").
				MachineConfig().WithVcpuCount(tc.n).Build().
				Build()
			if !errors.Is(err, ErrInvalidVcpuCount) {
				t.Fatalf("got %v, want ErrInvalidVcpuCount", err)
			}
		})
	}
}

func TestBuilderAcceptsValidVcpuCounts(t *testing.T) {
	for _, n := range []int64{1, 2, 32} {
		_, err := NewBuilder().
			WithKernelImagePath("/tmp/k").
			MachineConfig().WithVcpuCount(n).Build().
			Build()
		if err != nil {
			t.Fatalf("vcpu count %d: unexpected error: %v", n, err)
		}
	}
}

func TestGuestAndHostPathsAreDerivedNotStored(t *testing.T) {
	cfg, err := NewBuilder().
		WithKernelImagePath("/tmp/vmlinux").
		WithInitrdPath("/tmp/initrd.img").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GuestKernelImagePath() != "/kernel" {
		t.Fatalf("GuestKernelImagePath() = %q, want /kernel", cfg.GuestKernelImagePath())
	}
	if cfg.GuestInitrdPath() != "/initrd.img" {
		t.Fatalf("GuestInitrdPath() = %q, want /initrd.img", cfg.GuestInitrdPath())
	}
}
