package vmm

// MachineConfig holds the guest machine parameters sent via PUT /machine-config.
type MachineConfig struct {
	SMT             bool
	TrackDirtyPages bool
	MemSizeMib      int64
	VcpuCount       int64
	CPUTemplate     string
}

type machinePayload struct {
	SMT             bool   `json:"smt"`
	TrackDirtyPages bool   `json:"track_dirty_pages"`
	MemSizeMib      int64  `json:"mem_size_mib"`
	VcpuCount       int64  `json:"vcpu_count"`
	CPUTemplate     string `json:"cpu_template,omitempty"`
}

// MachineBuilder configures MachineConfig parameters, nested inside Builder.
type MachineBuilder struct {
	parent *Builder
	cfg    MachineConfig
}

// WithSMT toggles simultaneous multithreading (x86 only, ignored elsewhere).
func (b MachineBuilder) WithSMT(enabled bool) MachineBuilder {
	b.cfg.SMT = enabled
	return b
}

// WithTrackDirtyPages enables live-migration dirty page tracking.
func (b MachineBuilder) WithTrackDirtyPages(enabled bool) MachineBuilder {
	b.cfg.TrackDirtyPages = enabled
	return b
}

// WithMemSizeMib sets guest memory size in MiB.
func (b MachineBuilder) WithMemSizeMib(mib int64) MachineBuilder {
	b.cfg.MemSizeMib = mib
	return b
}

// WithVcpuCount sets the vCPU count. Must be 1..32; values above 1 must be
// even. Enforced by Builder.Build on the parent.
func (b MachineBuilder) WithVcpuCount(n int64) MachineBuilder {
	b.cfg.VcpuCount = n
	return b
}

// WithCPUTemplate sets an optional CPU template name (e.g. "C3", "T2").
func (b MachineBuilder) WithCPUTemplate(template string) MachineBuilder {
	b.cfg.CPUTemplate = template
	return b
}

// Build finalizes the machine configuration and returns the parent builder.
func (b MachineBuilder) Build() *Builder {
	b.parent.machine = b.cfg
	return b.parent
}
