package scenario

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"k8s.io/utils/ptr"
	"libvirt.org/go/libvirtxml"
)

// Request builds the migration request of the scenario. It assumes the
// scenario passed Validate.
func (s *Scenario) Request() (migration.Request, error) {
	m := s.Migration

	maxDowntime, err := m.MaxDowntime.Duration()
	if err != nil {
		return migration.Request{}, fmt.Errorf("migration.maxDowntime: %w", err)
	}
	compCache, err := m.CompressionCache.Bytes()
	if err != nil {
		return migration.Request{}, fmt.Errorf("migration.compressionCache: %w", err)
	}
	timeout, err := m.Timeout.Duration()
	if err != nil {
		return migration.Request{}, fmt.Errorf("migration.timeout: %w", err)
	}
	extra, err := SplitArgs(m.Extra)
	if err != nil {
		return migration.Request{}, fmt.Errorf("migration.extra: %w", err)
	}

	pattern := m.OutputPattern
	if pattern == "" && m.Verbose {
		pattern = DefaultOutputPattern
	}
	var outputPattern *regexp.Regexp
	if pattern != "" {
		if outputPattern, err = regexp.Compile(pattern); err != nil {
			return migration.Request{}, fmt.Errorf("migration.outputPattern: %w", err)
		}
	}

	return migration.Request{
		Domain:           s.Domain,
		DestinationURI:   s.Destination.URI,
		DestName:         m.DestName,
		Live:             m.Live,
		Persistent:       m.Persistent,
		Unsafe:           m.Unsafe,
		UndefineSource:   m.UndefineSource,
		Verbose:          m.Verbose,
		P2P:              m.P2P,
		Tunnelled:        m.Tunnelled,
		Compressed:       m.Compressed,
		AutoConverge:     m.AutoConverge,
		PostCopy:         m.PostCopy,
		CopyStorageAll:   m.CopyStorageAll,
		CopyStorageInc:   m.CopyStorageInc,
		Offline:          m.Offline,
		AbortOnError:     m.AbortOnError,
		Bandwidth:        m.Bandwidth,
		MaxDowntime:      maxDowntime,
		CompressionCache: compCache,
		ExtraArgs:        extra,
		OutputPattern:    outputPattern,
		Background:       m.Background,
		Timeout:          timeout,
	}, nil
}

// Options builds the rewrite of the guest definition. A baseline CPU is left
// to the caller, which needs both hosts to compute it.
func (g *GuestXMLSpec) Options() (vmm.GuestXMLOptions, error) {
	opts := vmm.GuestXMLOptions{
		DiskCache:   g.DiskCache,
		RemoveVideo: g.RemoveVideo,
	}

	if cpu := g.CPU; cpu != nil && !cpu.Baseline {
		opts.CPU = &libvirtxml.DomainCPU{
			Mode:  defaultString(cpu.Mode, "custom"),
			Match: defaultString(cpu.Match, "exact"),
			Model: &libvirtxml.DomainCPUModel{
				Value:    cpu.Model,
				Fallback: defaultString(cpu.Fallback, "allow"),
			},
			Vendor: cpu.Vendor,
		}
		names := make([]string, 0, len(cpu.Features))
		for name := range cpu.Features {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			opts.CPU.Features = append(opts.CPU.Features, libvirtxml.DomainCPUFeature{
				Name:   name,
				Policy: cpu.Features[name],
			})
		}
	}

	if g.SoundModel != "" {
		opts.Sound = &libvirtxml.DomainSound{Model: g.SoundModel}
	}

	if w := g.Watchdog; w != nil {
		opts.Watchdog = &libvirtxml.DomainWatchdog{Model: w.Model, Action: defaultString(w.Action, "none")}
	}

	if sc := g.Smartcard; sc != nil {
		switch sc.Mode {
		case SmartcardHost:
			opts.Smartcard = &libvirtxml.DomainSmartcard{Host: &libvirtxml.DomainSmartcardHost{}}
		case SmartcardPassthrough:
			opts.Smartcard = &libvirtxml.DomainSmartcard{
				Passthrough: &libvirtxml.DomainChardevSource{
					SpiceVMC: &libvirtxml.DomainChardevSourceSpiceVMC{},
				},
			}
		default:
			return vmm.GuestXMLOptions{}, fmt.Errorf("setup.guestXML.smartcard.mode: unsupported mode %q", sc.Mode)
		}
	}

	if iface := g.Interface; iface != nil {
		opts.Interface = &libvirtxml.DomainInterface{}
		if iface.Model != "" {
			opts.Interface.Model = ptr.To(libvirtxml.DomainInterfaceModel{Type: iface.Model})
		}
		if iface.Address != "" {
			addr, err := vmm.ParsePCIAddress(iface.Address)
			if err != nil {
				return vmm.GuestXMLOptions{}, fmt.Errorf("setup.guestXML.interface.address: %w", err)
			}
			opts.Interface.Address = addr
		}
	}

	return opts, nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// SplitArgs splits a shell-quoted argument string. An empty string yields
// no arguments.
func SplitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return shellquote.Split(s)
}

// ParseSpeed parses a setspeed value in MiB/s.
func ParseSpeed(value string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 10, 64)
}

// ParseDowntime parses a setmaxdowntime value. A bare integer is read as
// milliseconds, as virsh does.
func ParseDowntime(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseUint(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

// ParseSize parses a size such as "64MiB" or "1G" into bytes.
func ParseSize(value string) (uint64, error) {
	return humanize.ParseBytes(strings.TrimSpace(value))
}
