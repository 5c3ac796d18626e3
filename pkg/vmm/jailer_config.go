package vmm

import "io"

// Jailer holds the parameters passed to the jailer binary.
type Jailer struct {
	UID            int
	GID            int
	NumaNode       *int
	ExecFile       string
	JailerBinary   string
	ChrootBaseDir  string
	Mode           JailerMode
}

// JailerMode is a closed sum type selecting how the jailer process is
// launched. The only implementations are the unexported types constructed
// by Attached, Daemon, and Tmux below.
type JailerMode interface {
	isJailerMode()
}

// Stdio overrides the standard streams of an attached jailer process. Any
// nil field falls back to the caller's own os.Stdin/Stdout/Stderr.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type attachedMode struct {
	stdio Stdio
}

func (attachedMode) isJailerMode() {}

// Attached runs the jailer as a direct child, optionally with redirected
// standard streams.
func Attached(stdio Stdio) JailerMode {
	return attachedMode{stdio: stdio}
}

type daemonMode struct{}

func (daemonMode) isJailerMode() {}

// Daemon runs the jailer with --daemonize; its stdio is redirected to
// /dev/null.
func Daemon() JailerMode {
	return daemonMode{}
}

type tmuxMode struct {
	session string
}

func (tmuxMode) isJailerMode() {}

// Tmux runs the jailer inside a detached tmux session. An empty session
// name defaults to the VM's id at launch time.
func Tmux(session string) JailerMode {
	return tmuxMode{session: session}
}

// JailerBuilder configures jailer parameters, nested inside Builder.
type JailerBuilder struct {
	parent *Builder
	cfg    Jailer
}

// WithUID sets the UID the jailed process runs as.
func (b JailerBuilder) WithUID(uid int) JailerBuilder {
	b.cfg.UID = uid
	return b
}

// WithGID sets the GID the jailed process runs as.
func (b JailerBuilder) WithGID(gid int) JailerBuilder {
	b.cfg.GID = gid
	return b
}

// WithNumaNode pins the jailer to a NUMA node.
func (b JailerBuilder) WithNumaNode(node int) JailerBuilder {
	n := node
	b.cfg.NumaNode = &n
	return b
}

// WithExecFile sets the path to the firecracker binary the jailer execs.
func (b JailerBuilder) WithExecFile(path string) JailerBuilder {
	b.cfg.ExecFile = path
	return b
}

// WithJailerBinary sets the jailer binary itself (PATH-resolved if bare).
func (b JailerBuilder) WithJailerBinary(path string) JailerBuilder {
	b.cfg.JailerBinary = path
	return b
}

// WithChrootBaseDir sets the base directory under which chroot trees are
// created.
func (b JailerBuilder) WithChrootBaseDir(path string) JailerBuilder {
	b.cfg.ChrootBaseDir = path
	return b
}

// WithMode sets the launch mode (Attached, Daemon, or Tmux).
func (b JailerBuilder) WithMode(mode JailerMode) JailerBuilder {
	b.cfg.Mode = mode
	return b
}

// Build finalizes the jailer configuration and returns the parent builder.
func (b JailerBuilder) Build() *Builder {
	b.parent.jailer = b.cfg
	return b.parent
}
