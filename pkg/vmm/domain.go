/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vmm

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"k8s.io/utils/ptr"
	"libvirt.org/go/libvirtxml"
)

var (
	errUnmarshalDomainXML = errors.New("failed to unmarshal domain XML")
	errMarshalDomainXML   = errors.New("failed to marshal domain XML")
	errMarshalDiskXML     = errors.New("failed to marshal disk XML")
	errInvalidDisk        = errors.New("invalid disk config")
	errNoInterface        = errors.New("guest has no network interface")
	errInvalidAddress     = errors.New("invalid device address")
	errUnmarshalCapsXML   = errors.New("failed to unmarshal capabilities XML")
	errNoHostCPU          = errors.New("capabilities do not describe the host CPU")
	errUnmarshalCPUXML    = errors.New("failed to unmarshal CPU XML")
)

// GuestXMLOptions describes how a guest definition is rewritten before a
// migration.
type GuestXMLOptions struct {
	// DiskCache is applied to every disk with a driver. Live migration of
	// non-shared storage requires "none". Empty leaves disks untouched.
	DiskCache string
	// CPU replaces the guest CPU definition.
	CPU *libvirtxml.DomainCPU
	// RemoveVideo drops every video and graphics device.
	RemoveVideo bool
	// Sound, Watchdog and Smartcard replace every device of their kind.
	Sound     *libvirtxml.DomainSound
	Watchdog  *libvirtxml.DomainWatchdog
	Smartcard *libvirtxml.DomainSmartcard
	// Interface overrides the model and the address of the first interface.
	// Nil fields are left untouched.
	Interface *libvirtxml.DomainInterface
}

// PrepareGuestXML rewrites a domain definition according to opts.
func PrepareGuestXML(domainXML string, opts GuestXMLOptions) (string, error) {
	dom := &libvirtxml.Domain{}
	if err := dom.Unmarshal(domainXML); err != nil {
		return "", errors.Join(err, errUnmarshalDomainXML)
	}

	if opts.DiskCache != "" && dom.Devices != nil {
		for i := range dom.Devices.Disks {
			disk := &dom.Devices.Disks[i]
			if disk.Device == "cdrom" || disk.Device == "floppy" {
				continue
			}
			if disk.Driver == nil {
				disk.Driver = &libvirtxml.DomainDiskDriver{Name: "qemu"}
			}
			disk.Driver.Cache = opts.DiskCache
		}
	}

	if opts.CPU != nil {
		dom.CPU = opts.CPU
	}

	if opts.RemoveVideo && dom.Devices != nil {
		dom.Devices.Videos = nil
		dom.Devices.Graphics = nil
	}

	if opts.Sound != nil || opts.Watchdog != nil || opts.Smartcard != nil {
		if dom.Devices == nil {
			dom.Devices = &libvirtxml.DomainDeviceList{}
		}
		if opts.Sound != nil {
			dom.Devices.Sounds = []libvirtxml.DomainSound{*opts.Sound}
		}
		if opts.Watchdog != nil {
			dom.Devices.Watchdogs = []libvirtxml.DomainWatchdog{*opts.Watchdog}
		}
		if opts.Smartcard != nil {
			dom.Devices.Smartcards = []libvirtxml.DomainSmartcard{*opts.Smartcard}
		}
	}

	if opts.Interface != nil {
		if dom.Devices == nil || len(dom.Devices.Interfaces) == 0 {
			return "", errNoInterface
		}
		iface := &dom.Devices.Interfaces[0]
		if opts.Interface.Model != nil {
			iface.Model = opts.Interface.Model
		}
		if opts.Interface.Address != nil {
			iface.Address = opts.Interface.Address
		}
	}

	out, err := dom.Marshal()
	if err != nil {
		return "", errors.Join(err, errMarshalDomainXML)
	}
	return out, nil
}

// DiskSources returns the file paths backing the guest disks. Removable
// media are skipped: they are never copied by a storage migration.
func DiskSources(domainXML string) ([]string, error) {
	dom := &libvirtxml.Domain{}
	if err := dom.Unmarshal(domainXML); err != nil {
		return nil, errors.Join(err, errUnmarshalDomainXML)
	}
	if dom.Devices == nil {
		return nil, nil
	}

	var out []string
	for _, disk := range dom.Devices.Disks {
		if disk.Device == "cdrom" || disk.Device == "floppy" {
			continue
		}
		if disk.Source != nil && disk.Source.File != nil && disk.Source.File.File != "" {
			out = append(out, disk.Source.File.File)
		}
	}
	return out, nil
}

// DiskConfig describes a file-backed disk to hot-plug.
type DiskConfig struct {
	Path string
	// Target is the guest device name, e.g. "vdb".
	Target string
	// Bus defaults to "virtio".
	Bus string
	// Format defaults to "qcow2".
	Format string
	// Cache defaults to "none".
	Cache string
	// Device is "disk" (default) or "cdrom".
	Device   string
	ReadOnly bool
}

// DiskXML renders cfg as a <disk> element for "virsh attach-device".
func DiskXML(cfg DiskConfig) (string, error) {
	if cfg.Path == "" || cfg.Target == "" {
		return "", fmt.Errorf("%w: path and target are required", errInvalidDisk)
	}

	disk := libvirtxml.DomainDisk{
		Device: defaultString(cfg.Device, "disk"),
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  defaultString(cfg.Format, "qcow2"),
			Cache: defaultString(cfg.Cache, "none"),
		},
		Source: &libvirtxml.DomainDiskSource{
			File: ptr.To(libvirtxml.DomainDiskSourceFile{File: cfg.Path}),
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: cfg.Target,
			Bus: defaultString(cfg.Bus, "virtio"),
		},
	}
	if cfg.ReadOnly || disk.Device == "cdrom" {
		disk.ReadOnly = ptr.To(libvirtxml.DomainDiskReadOnly{})
	}

	out, err := disk.Marshal()
	if err != nil {
		return "", errors.Join(err, errMarshalDiskXML)
	}
	return out, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ParsePCIAddress parses a comma separated list of key=value pairs such as
// "type=pci,domain=0x0000,bus=0x00,slot=0x0b,function=0x0". Values are read
// as Go integer literals, so both hex and decimal are accepted.
func ParsePCIAddress(s string) (*libvirtxml.DomainAddress, error) {
	pci := &libvirtxml.DomainAddressPCI{}
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not key=value", errInvalidAddress, kv)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		var field **uint
		switch key {
		case "type":
			if value != "pci" {
				return nil, fmt.Errorf("%w: unsupported type %q", errInvalidAddress, value)
			}
			continue
		case "domain":
			field = &pci.Domain
		case "bus":
			field = &pci.Bus
		case "slot":
			field = &pci.Slot
		case "function":
			field = &pci.Function
		default:
			return nil, fmt.Errorf("%w: unknown key %q", errInvalidAddress, key)
		}

		n, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return nil, errors.Join(err, fmt.Errorf("%w: %s", errInvalidAddress, key))
		}
		*field = ptr.To(uint(n))
	}

	if pci.Slot == nil {
		return nil, fmt.Errorf("%w: slot is required", errInvalidAddress)
	}
	return &libvirtxml.DomainAddress{PCI: pci}, nil
}

// HostCPUXML extracts the host <cpu> element of a "virsh capabilities"
// document, without its vendor, for "virsh cpu-baseline".
func HostCPUXML(capsXML string) (string, error) {
	caps := &libvirtxml.Caps{}
	if err := caps.Unmarshal(capsXML); err != nil {
		return "", errors.Join(err, errUnmarshalCapsXML)
	}
	if caps.Host.CPU == nil {
		return "", errNoHostCPU
	}

	cpu := *caps.Host.CPU
	cpu.Vendor = ""

	out, err := xml.MarshalIndent(cpu, "", "  ")
	if err != nil {
		return "", errors.Join(err, errMarshalDomainXML)
	}
	return string(out), nil
}

// ParseCPU reads a guest <cpu> element such as the one printed by
// "virsh cpu-baseline".
func ParseCPU(cpuXML string) (*libvirtxml.DomainCPU, error) {
	cpu := &libvirtxml.DomainCPU{}
	if err := cpu.Unmarshal(cpuXML); err != nil {
		return nil, errors.Join(err, errUnmarshalCPUXML)
	}
	return cpu, nil
}
