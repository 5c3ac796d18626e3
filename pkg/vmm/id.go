package vmm

import (
	"fmt"

	"github.com/google/uuid"
)

// maxVmIdLen is the longest string form a VmId may take; it bounds the
// length of paths derived from it (chroot dir, jailer --id argument).
const maxVmIdLen = 64

// VmId stably identifies one microVM for its entire lifetime. It drives the
// jailer --id argument and the chroot subtree name.
type VmId struct {
	value string
}

// NewVmId generates a fresh random VmId.
func NewVmId() VmId {
	return VmId{value: uuid.New().String()}
}

// ParseVmId validates and wraps a caller-supplied id string.
func ParseVmId(s string) (VmId, error) {
	if s == "" {
		return VmId{}, fmt.Errorf("vmm: empty vm id")
	}
	if len(s) > maxVmIdLen {
		return VmId{}, fmt.Errorf("vmm: vm id %q exceeds %d characters", s, maxVmIdLen)
	}
	return VmId{value: s}, nil
}

// String returns the id's canonical string form.
func (id VmId) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id VmId) IsZero() bool {
	return id.value == ""
}
