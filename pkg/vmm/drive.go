package vmm

import "path/filepath"

// Drive describes one block device attached to the guest.
type Drive struct {
	DriveID      string
	SrcPath      string
	IsReadOnly   bool
	IsRootDevice bool
	PartUUID     string
}

// guestPath returns the chroot-relative path the drive is copied to: its
// basename, rooted at "/" the same way Config.GuestKernelImagePath and
// Config.GuestInitrdPath are — path_on_host is always rewritten to a flat
// guest basename, never the host's directory structure.
func (d Drive) guestPath() string {
	return "/" + filepath.Base(d.SrcPath)
}

type drivePayload struct {
	DriveID      string `json:"drive_id"`
	IsReadOnly   bool   `json:"is_read_only"`
	IsRootDevice bool   `json:"is_root_device"`
	PartUUID     string `json:"part_uuid,omitempty"`
	PathOnHost   string `json:"path_on_host"`
}
