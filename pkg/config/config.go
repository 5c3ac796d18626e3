// Package config loads the configuration for one microVM from a TOML file,
// layered with environment variable overrides, and turns it into a
// vmm.Config via the builder.
//
// Configuration is organized into sections matching the domain components:
// - Runtime: control socket path and shutdown timing
// - Kernel: guest kernel image, initrd, and boot args
// - Machine: vCPU/memory/SMT parameters
// - Jailer: chroot, uid/gid, launch mode
// - Drives, Network, VSock: device lists
// - Log: logrus output configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/pipeops/firecracker-vmm/pkg/vmm"
)

// Config holds everything needed to build one vmm.Config.
type Config struct {
	Runtime RuntimeConfig `toml:"runtime"`
	Kernel  KernelConfig  `toml:"kernel"`
	Machine MachineConfig `toml:"machine"`
	Jailer  JailerConfig  `toml:"jailer"`
	Drives  []DriveConfig `toml:"drive"`
	Network []NetConfig   `toml:"network"`
	VSock   *VSockConfig  `toml:"vsock"`
	Log     LogConfig     `toml:"log"`
}

// RuntimeConfig holds general runtime settings.
type RuntimeConfig struct {
	// SocketPath is the guest-relative control socket path.
	SocketPath string `toml:"socket_path"`

	// ShutdownTimeout is loaded from the file and environment but is not
	// consulted by cmd/vmmctl or pkg/vmm; Machine.Delete always waits a
	// fixed 10 seconds after a graceful shutdown before forcing one.
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// KernelConfig holds the guest kernel settings.
type KernelConfig struct {
	ImagePath  string `toml:"image_path"`
	InitrdPath string `toml:"initrd_path"`
	Args       string `toml:"args"`
}

// MachineConfig holds guest machine parameters.
type MachineConfig struct {
	VcpuCount       int64  `toml:"vcpu_count"`
	MemSizeMib      int64  `toml:"mem_size_mib"`
	SMT             bool   `toml:"smt"`
	TrackDirtyPages bool   `toml:"track_dirty_pages"`
	CPUTemplate     string `toml:"cpu_template"`
}

// JailerConfig holds jailer launch parameters.
type JailerConfig struct {
	UID      int  `toml:"uid"`
	GID      int  `toml:"gid"`
	NumaNode *int `toml:"numa_node"`

	ExecFile      string `toml:"exec_file"`
	JailerBinary  string `toml:"jailer_binary"`
	ChrootBaseDir string `toml:"chroot_base_dir"`

	// Mode selects the launch mode: "attached", "daemon", or "tmux".
	Mode string `toml:"mode"`
	// TmuxSession names the session when Mode == "tmux"; empty defaults
	// to the vm id at launch time.
	TmuxSession string `toml:"tmux_session"`
}

// DriveConfig describes one block device.
type DriveConfig struct {
	ID         string `toml:"id"`
	Path       string `toml:"path"`
	ReadOnly   bool   `toml:"read_only"`
	RootDevice bool   `toml:"root_device"`
	PartUUID   string `toml:"part_uuid"`
}

// NetConfig describes one network interface.
type NetConfig struct {
	HostIfName string `toml:"host_if_name"`
	VMIfName   string `toml:"vm_if_name"`
	MacAddress string `toml:"mac_address"`
}

// VSockConfig describes the optional vsock device.
type VSockConfig struct {
	GuestCID uint32 `toml:"guest_cid"`
	UDSPath  string `toml:"uds_path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `toml:"level"`

	// Format is the log format: text, json.
	Format string `toml:"format"`

	// File is the optional log file path.
	File string `toml:"file"`
}

// Default returns a Config with sensible defaults, mirroring vmm.NewBuilder's
// socket, machine, and jailer defaults, plus a default kernel command line
// that vmm.NewBuilder does not set.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			SocketPath:      "/run/firecracker.socket",
			ShutdownTimeout: 10 * time.Second,
		},
		Kernel: KernelConfig{
			Args: "console=ttyS0 reboot=k panic=1 pci=off quiet",
		},
		Machine: MachineConfig{
			VcpuCount:  1,
			MemSizeMib: 128,
		},
		Jailer: JailerConfig{
			UID:           os.Geteuid(),
			GID:           os.Getegid(),
			ExecFile:      "/usr/bin/firecracker",
			JailerBinary:  "jailer",
			ChrootBaseDir: "/srv/jailer",
			Mode:          "daemon",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile decodes a TOML file on top of Default(). A missing file is
// not an error; it yields the defaults unchanged.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies FCVMM_-prefixed environment variable overrides on top
// of an already-loaded Config.
func LoadFromEnv(cfg *Config) {
	loadEnvString(&cfg.Runtime.SocketPath, "FCVMM_SOCKET_PATH")
	loadEnvDuration(&cfg.Runtime.ShutdownTimeout, "FCVMM_SHUTDOWN_TIMEOUT")

	loadEnvString(&cfg.Kernel.ImagePath, "FCVMM_KERNEL_IMAGE_PATH")
	loadEnvString(&cfg.Kernel.InitrdPath, "FCVMM_KERNEL_INITRD_PATH")
	loadEnvString(&cfg.Kernel.Args, "FCVMM_KERNEL_ARGS")

	loadEnvInt64(&cfg.Machine.VcpuCount, "FCVMM_MACHINE_VCPU_COUNT")
	loadEnvInt64(&cfg.Machine.MemSizeMib, "FCVMM_MACHINE_MEM_SIZE_MIB")
	loadEnvBool(&cfg.Machine.SMT, "FCVMM_MACHINE_SMT")

	loadEnvInt(&cfg.Jailer.UID, "FCVMM_JAILER_UID")
	loadEnvInt(&cfg.Jailer.GID, "FCVMM_JAILER_GID")
	loadEnvString(&cfg.Jailer.ExecFile, "FCVMM_JAILER_EXEC_FILE")
	loadEnvString(&cfg.Jailer.JailerBinary, "FCVMM_JAILER_BINARY")
	loadEnvString(&cfg.Jailer.ChrootBaseDir, "FCVMM_JAILER_CHROOT_BASE_DIR")
	loadEnvString(&cfg.Jailer.Mode, "FCVMM_JAILER_MODE")

	loadEnvString(&cfg.Log.Level, "FCVMM_LOG_LEVEL")
	loadEnvString(&cfg.Log.Format, "FCVMM_LOG_FORMAT")
	loadEnvString(&cfg.Log.File, "FCVMM_LOG_FILE")
}

// Validate checks the loaded configuration for misconfiguration before it
// is handed to the builder, so bad input fails with a config-level message
// rather than a builder error deep inside vmm.
func (c *Config) Validate() error {
	if c.Kernel.ImagePath == "" {
		return fmt.Errorf("config: kernel.image_path is required")
	}
	if _, err := os.Stat(c.Kernel.ImagePath); err != nil {
		return fmt.Errorf("config: kernel image not found: %s", c.Kernel.ImagePath)
	}
	if c.Machine.VcpuCount < 1 || c.Machine.VcpuCount > 32 {
		return fmt.Errorf("config: machine.vcpu_count must be in [1, 32], got %d", c.Machine.VcpuCount)
	}
	if c.Machine.VcpuCount > 1 && c.Machine.VcpuCount%2 != 0 {
		return fmt.Errorf("config: machine.vcpu_count above 1 must be even, got %d", c.Machine.VcpuCount)
	}

	rootCount := 0
	for _, d := range c.Drives {
		if d.Path == "" {
			return fmt.Errorf("config: drive %q has no path", d.ID)
		}
		if d.RootDevice {
			rootCount++
		}
	}
	if rootCount > 1 {
		return fmt.Errorf("config: more than one drive marked root_device")
	}

	switch c.Jailer.Mode {
	case "attached", "daemon", "tmux":
	default:
		return fmt.Errorf("config: invalid jailer.mode %q (must be attached, daemon, or tmux)", c.Jailer.Mode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("config: invalid log.level %q", c.Log.Level)
	}

	return nil
}

// ApplyToLogger configures a logrus.Logger's level, formatter, and output
// from this Config's Log section.
func (c *Config) ApplyToLogger(log *logrus.Logger) {
	switch c.Log.Level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	switch c.Log.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if c.Log.File == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.Log.File), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	log.SetOutput(f)
}

// ToVMMConfig builds a vmm.Config from this Config by driving vmm.Builder.
func (c *Config) ToVMMConfig() (*vmm.Config, error) {
	b := vmm.NewBuilder().
		WithSocketPath(c.Runtime.SocketPath).
		WithKernelImagePath(c.Kernel.ImagePath).
		WithInitrdPath(c.Kernel.InitrdPath).
		WithKernelArgs(c.Kernel.Args)

	b = b.MachineConfig().
		WithVcpuCount(c.Machine.VcpuCount).
		WithMemSizeMib(c.Machine.MemSizeMib).
		WithSMT(c.Machine.SMT).
		WithTrackDirtyPages(c.Machine.TrackDirtyPages).
		WithCPUTemplate(c.Machine.CPUTemplate).
		Build()

	jailerBuilder := b.JailerConfig().
		WithUID(c.Jailer.UID).
		WithGID(c.Jailer.GID).
		WithExecFile(c.Jailer.ExecFile).
		WithJailerBinary(c.Jailer.JailerBinary).
		WithChrootBaseDir(c.Jailer.ChrootBaseDir)
	if c.Jailer.NumaNode != nil {
		jailerBuilder = jailerBuilder.WithNumaNode(*c.Jailer.NumaNode)
	}

	mode, err := jailerMode(c.Jailer)
	if err != nil {
		return nil, err
	}
	b = jailerBuilder.WithMode(mode).Build()

	for _, d := range c.Drives {
		b = b.AddDrive().
			WithDriveID(d.ID).
			WithSrcPath(d.Path).
			WithReadOnly(d.ReadOnly).
			WithRootDevice(d.RootDevice).
			WithPartUUID(d.PartUUID).
			Build()
	}

	for _, n := range c.Network {
		b = b.AddNetworkInterface(vmm.NetIface{
			HostIfName: n.HostIfName,
			VMIfName:   n.VMIfName,
			MacAddress: n.MacAddress,
		})
	}

	if c.VSock != nil {
		b = b.WithVSock(vmm.VSock{GuestCID: c.VSock.GuestCID, UDSPath: c.VSock.UDSPath})
	}

	return b.Build()
}

func jailerMode(jc JailerConfig) (vmm.JailerMode, error) {
	switch jc.Mode {
	case "attached":
		return vmm.Attached(vmm.Stdio{}), nil
	case "daemon":
		return vmm.Daemon(), nil
	case "tmux":
		return vmm.Tmux(jc.TmuxSession), nil
	default:
		return nil, fmt.Errorf("config: invalid jailer.mode %q", jc.Mode)
	}
}

func loadEnvString(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func loadEnvBool(target *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val == "true" || val == "1" || val == "yes"
	}
}

func loadEnvInt(target *int, key string) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*target = i
		}
	}
}

func loadEnvInt64(target *int64, key string) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*target = i
		}
	}
}

func loadEnvDuration(target *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*target = d
		}
	}
}
