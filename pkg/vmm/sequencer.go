package vmm

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// sequencer issues the ordered REST configuration calls against a freshly
// started VMM: machine-config, boot-source, drives, network interfaces,
// vsock — in that order, each awaiting the previous.
type sequencer struct {
	client *controlClient
	log    *logrus.Entry
}

func newSequencer(client *controlClient, log *logrus.Entry) *sequencer {
	return &sequencer{client: client, log: log.WithField("component", "sequencer")}
}

func (s *sequencer) configure(ctx context.Context, cfg *Config) error {
	if err := s.client.send(ctx, http.MethodPut, "/machine-config", machinePayload{
		SMT:             cfg.MachineCfg.SMT,
		TrackDirtyPages: cfg.MachineCfg.TrackDirtyPages,
		MemSizeMib:      cfg.MachineCfg.MemSizeMib,
		VcpuCount:       cfg.MachineCfg.VcpuCount,
		CPUTemplate:     cfg.MachineCfg.CPUTemplate,
	}); err != nil {
		return err
	}

	boot := bootSourcePayload{
		KernelImagePath: cfg.GuestKernelImagePath(),
		BootArgs:        cfg.KernelArgs,
		InitrdPath:      cfg.GuestInitrdPath(),
	}
	if err := s.client.send(ctx, http.MethodPut, "/boot-source", boot); err != nil {
		return err
	}

	for _, d := range cfg.Drives {
		payload := drivePayload{
			DriveID:      d.DriveID,
			IsReadOnly:   d.IsReadOnly,
			IsRootDevice: d.IsRootDevice,
			PartUUID:     d.PartUUID,
			PathOnHost:   d.guestPath(),
		}
		if err := s.client.send(ctx, http.MethodPut, "/drives/"+d.DriveID, payload); err != nil {
			return err
		}
	}

	// Only the first configured interface is transmitted to the API; see
	// the Open Question decision recorded for network interfaces.
	if len(cfg.NetIfaces) > 0 {
		iface := cfg.NetIfaces[0]
		payload := netIfacePayload{
			IfaceID:     iface.VMIfName,
			HostDevName: iface.HostIfName,
			GuestMac:    iface.MacAddress,
		}
		if err := s.client.send(ctx, http.MethodPut, "/network-interfaces/"+iface.VMIfName, payload); err != nil {
			return err
		}
		if len(cfg.NetIfaces) > 1 {
			s.log.WithField("configured", len(cfg.NetIfaces)).Warn("only the first network interface was transmitted to the API")
		}
	}

	if cfg.VSock != nil {
		payload := vsockPayload{GuestCID: cfg.VSock.GuestCID, UDSPath: cfg.VSock.UDSPath}
		if err := s.client.send(ctx, http.MethodPut, "/vsock", payload); err != nil {
			return err
		}
	}

	return nil
}

type bootSourcePayload struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args,omitempty"`
	InitrdPath      string `json:"initrd_path,omitempty"`
}

type actionPayload struct {
	ActionType string `json:"action_type"`
}

const (
	actionInstanceStart  = "InstanceStart"
	actionSendCtrlAltDel = "SendCtrlAltDel"
	actionFlushMetrics   = "FlushMetrics"
)
