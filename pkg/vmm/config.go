package vmm

import (
	"os"
	"path/filepath"
	"strings"
)

// LogLevel names a Firecracker log verbosity, independent of the
// orchestrator's own logrus output. It is stored in Config only; neither
// the jailer argv nor the configuration sequence sends it to Firecracker.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarning
	LogLevelInfo // default
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "Error"
	case LogLevelWarning:
		return "Warning"
	case LogLevelDebug:
		return "Debug"
	default:
		return "Info"
	}
}

const guestKernelImageName = "kernel"

// Config is the immutable, validated description of one microVM. It is
// built exclusively through Builder; once Build() succeeds the returned
// Config is safe to share across goroutines for reading.
type Config struct {
	VMID VmId

	// SocketPath is guest-relative, e.g. "/run/firecracker.socket". The
	// host-absolute counterpart is always derived, never stored
	// separately (see HostSocketPath).
	SocketPath string

	SrcKernelImagePath string
	SrcInitrdPath      string
	KernelArgs         string

	Drives        []Drive
	NetIfaces     []NetIface
	VSock         *VSock
	MachineCfg    MachineConfig
	JailerCfg     Jailer

	LogPath      string
	LogFifo      string
	MetricsPath  string
	MetricsFifo  string
	LogLevel     LogLevel
	NetNS        string
}

// GuestKernelImagePath is the fixed chroot-relative name the kernel is
// copied to.
func (c *Config) GuestKernelImagePath() string {
	return "/" + guestKernelImageName
}

// GuestInitrdPath returns the chroot-relative initrd path, or "" if unset.
func (c *Config) GuestInitrdPath() string {
	if c.SrcInitrdPath == "" {
		return ""
	}
	return "/" + filepath.Base(c.SrcInitrdPath)
}

// jailDir is chroot_base_dir/basename(exec_file)/vm_id — the per-VM
// directory the jailer owns; its "root" subdirectory is the chroot itself.
func (c *Config) jailDir() string {
	return filepath.Join(c.JailerCfg.ChrootBaseDir, filepath.Base(c.JailerCfg.ExecFile), c.VMID.String())
}

// VMDir is the parent of WorkspaceDir; Delete removes this entire tree.
func (c *Config) VMDir() string {
	return c.jailDir()
}

// WorkspaceDir is the chroot root as seen from the host.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.jailDir(), "root")
}

// HostSocketPath is the host-absolute path to the control socket.
func (c *Config) HostSocketPath() string {
	return filepath.Join(c.WorkspaceDir(), strings.TrimPrefix(c.SocketPath, "/"))
}

// HostKernelImagePath is the host-absolute path the kernel is copied to.
func (c *Config) HostKernelImagePath() string {
	return filepath.Join(c.WorkspaceDir(), guestKernelImageName)
}

// HostInitrdPath is the host-absolute path the initrd is copied to, or ""
// if no initrd is configured.
func (c *Config) HostInitrdPath() string {
	if c.SrcInitrdPath == "" {
		return ""
	}
	return filepath.Join(c.WorkspaceDir(), filepath.Base(c.SrcInitrdPath))
}

// HostDrivePath is the host-absolute path a given drive is copied to.
func (c *Config) HostDrivePath(d Drive) string {
	return filepath.Join(c.WorkspaceDir(), filepath.Base(d.SrcPath))
}

// HostVSockPath is the host-absolute path of the vsock UDS, or "" if vsock
// is not configured.
func (c *Config) HostVSockPath() string {
	if c.VSock == nil {
		return ""
	}
	return filepath.Join(c.WorkspaceDir(), strings.TrimPrefix(c.VSock.UDSPath, "/"))
}

// Builder assembles a Config through a layered fluent API: the top-level
// builder yields nested builders for jailer, machine, and each drive, each
// of which hands control back to the parent on Build().
type Builder struct {
	vmID VmId

	socketPath         string
	srcKernelImagePath string
	srcInitrdPath      string
	kernelArgs         string

	drives    []Drive
	netIfaces []NetIface
	vsock     *VSock
	machine   MachineConfig
	jailer    Jailer

	logPath     string
	logFifo     string
	metricsPath string
	metricsFifo string
	logLevel    LogLevel
	netNS       string
}

// NewBuilder returns a Builder seeded with the same defaults the jailer CLI
// itself assumes: socket at /run/firecracker.socket, chroot base
// /srv/jailer, firecracker at /usr/bin/firecracker, Info-level logging.
func NewBuilder() *Builder {
	return &Builder{
		socketPath: "/run/firecracker.socket",
		logLevel:   LogLevelInfo,
		machine: MachineConfig{
			MemSizeMib: 128,
			VcpuCount:  1,
		},
		jailer: Jailer{
			UID:           os.Geteuid(),
			GID:           os.Getegid(),
			ExecFile:      "/usr/bin/firecracker",
			JailerBinary:  "jailer",
			ChrootBaseDir: "/srv/jailer",
			Mode:          Daemon(),
		},
	}
}

// WithVMID pins an explicit VmId; if never called, Build generates one.
func (b *Builder) WithVMID(id VmId) *Builder {
	b.vmID = id
	return b
}

// WithSocketPath overrides the guest-relative control socket path.
func (b *Builder) WithSocketPath(path string) *Builder {
	b.socketPath = path
	return b
}

// WithKernelImagePath sets the host-side source kernel image.
func (b *Builder) WithKernelImagePath(path string) *Builder {
	b.srcKernelImagePath = path
	return b
}

// WithInitrdPath sets the optional host-side source initrd.
func (b *Builder) WithInitrdPath(path string) *Builder {
	b.srcInitrdPath = path
	return b
}

// WithKernelArgs sets the kernel command line.
func (b *Builder) WithKernelArgs(args string) *Builder {
	b.kernelArgs = args
	return b
}

// AddNetworkInterface appends one network interface in insertion order.
func (b *Builder) AddNetworkInterface(iface NetIface) *Builder {
	b.netIfaces = append(b.netIfaces, iface)
	return b
}

// WithVSock sets the optional vsock device.
func (b *Builder) WithVSock(vsock VSock) *Builder {
	b.vsock = &vsock
	return b
}

// WithNetNS sets the path to an existing network namespace handle for the
// jailer to join.
func (b *Builder) WithNetNS(path string) *Builder {
	b.netNS = path
	return b
}

// WithLogPath, WithLogFifo, WithMetricsPath, WithMetricsFifo, and
// WithLogLevel record Firecracker log/metrics settings in the Config. They
// are not passed on: neither the jailer argv nor the configuration
// sequence transmits them.
func (b *Builder) WithLogPath(path string) *Builder     { b.logPath = path; return b }
func (b *Builder) WithLogFifo(path string) *Builder     { b.logFifo = path; return b }
func (b *Builder) WithMetricsPath(path string) *Builder { b.metricsPath = path; return b }
func (b *Builder) WithMetricsFifo(path string) *Builder { b.metricsFifo = path; return b }
func (b *Builder) WithLogLevel(level LogLevel) *Builder { b.logLevel = level; return b }

// JailerConfig returns a nested builder for the jailer parameters.
func (b *Builder) JailerConfig() JailerBuilder {
	return JailerBuilder{parent: b, cfg: b.jailer}
}

// MachineConfig returns a nested builder for the machine parameters.
func (b *Builder) MachineConfig() MachineBuilder {
	return MachineBuilder{parent: b, cfg: b.machine}
}

// AddDrive returns a nested builder for one drive; its Build() appends the
// finished Drive to this Builder's drive list, in insertion order.
func (b *Builder) AddDrive() DriveBuilder {
	return DriveBuilder{parent: b, cfg: Drive{}}
}

// DriveBuilder configures one Drive, nested inside Builder.
type DriveBuilder struct {
	parent *Builder
	cfg    Drive
}

// WithDriveID sets the drive's unique identifier within the Config.
func (b DriveBuilder) WithDriveID(id string) DriveBuilder {
	b.cfg.DriveID = id
	return b
}

// WithSrcPath sets the host-side source file for this drive.
func (b DriveBuilder) WithSrcPath(path string) DriveBuilder {
	b.cfg.SrcPath = path
	return b
}

// WithReadOnly marks the drive read-only in the guest.
func (b DriveBuilder) WithReadOnly(ro bool) DriveBuilder {
	b.cfg.IsReadOnly = ro
	return b
}

// WithRootDevice marks this drive as the root device. At most one drive in
// a Config may set this.
func (b DriveBuilder) WithRootDevice(isRoot bool) DriveBuilder {
	b.cfg.IsRootDevice = isRoot
	return b
}

// WithPartUUID sets the partition UUID passed to the kernel command line;
// ignored unless the drive is the root device.
func (b DriveBuilder) WithPartUUID(uuid string) DriveBuilder {
	b.cfg.PartUUID = uuid
	return b
}

// Build finalizes this drive and appends it to the parent Builder.
func (b DriveBuilder) Build() *Builder {
	b.parent.drives = append(b.parent.drives, b.cfg)
	return b.parent
}

// Build validates the accumulated state and freezes it into a Config.
func (b *Builder) Build() (*Config, error) {
	if filepath.Base(b.jailer.ExecFile) == "." || b.jailer.ExecFile == "" {
		return nil, ErrInvalidJailerExecPath
	}
	if b.jailer.ChrootBaseDir == "" {
		return nil, ErrInvalidChrootBasePath
	}
	if b.socketPath == "" {
		return nil, ErrInvalidSocketPath
	}
	if b.srcInitrdPath != "" && filepath.Base(b.srcInitrdPath) == "." {
		return nil, ErrInvalidInitrdPath
	}
	if n := b.machine.VcpuCount; n < 1 || n > 32 || (n > 1 && n%2 != 0) {
		return nil, ErrInvalidVcpuCount
	}

	rootCount := 0
	for _, d := range b.drives {
		if filepath.Base(d.SrcPath) == "." || d.SrcPath == "" {
			return nil, ErrInvalidDrivePath
		}
		if d.IsRootDevice {
			rootCount++
		}
	}
	if rootCount > 1 {
		return nil, ErrMultipleRootDrives
	}

	vmID := b.vmID
	if vmID.IsZero() {
		vmID = NewVmId()
	}

	if b.jailer.Mode == nil {
		b.jailer.Mode = Daemon()
	}

	return &Config{
		VMID:               vmID,
		SocketPath:         b.socketPath,
		SrcKernelImagePath: b.srcKernelImagePath,
		SrcInitrdPath:      b.srcInitrdPath,
		KernelArgs:         b.kernelArgs,
		Drives:             append([]Drive(nil), b.drives...),
		NetIfaces:          append([]NetIface(nil), b.netIfaces...),
		VSock:              b.vsock,
		MachineCfg:         b.machine,
		JailerCfg:          b.jailer,
		LogPath:            b.logPath,
		LogFifo:            b.logFifo,
		MetricsPath:        b.metricsPath,
		MetricsFifo:        b.metricsFifo,
		LogLevel:           b.logLevel,
		NetNS:              b.netNS,
	}, nil
}
