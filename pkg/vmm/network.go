package vmm

// NetIface describes one network interface attached to the guest. The host
// side (TAP device, namespace membership) is the caller's responsibility;
// the engine only forwards the names and MAC to the Firecracker API.
type NetIface struct {
	// HostIfName is the TAP device name on the host.
	HostIfName string
	// VMIfName is the interface identifier used in the API path and
	// inside the guest.
	VMIfName string
	// MacAddress is optional; Firecracker assigns one if empty.
	MacAddress string
}

type netIfacePayload struct {
	IfaceID    string `json:"iface_id"`
	HostDevName string `json:"host_dev_name"`
	GuestMac   string `json:"guest_mac,omitempty"`
}
