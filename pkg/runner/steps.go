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
package runner

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/alexandremahdhaoui/virtmig/pkg/fixture"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
)

var errUnknownHost = errors.New("unknown host")

// steps turns the scenario setup into fixture steps, in acquisition order:
// generated PKI, transport, security mode, daemon configuration, storage,
// destination images, guest definition, hot-plugged disks, then helper
// processes.
func (r *run) steps() ([]fixture.Step, error) {
	s := r.scenario
	var steps []fixture.Step

	tunnel := &fixture.Tunnel{
		Transport: fixture.TransportSSH,
		Dest:      r.dest.Host,
	}
	if s.Transport != "" {
		tunnel.Transport = fixture.Transport(s.Transport)
	}
	if s.TLS != nil {
		for _, c := range s.TLS.Certs {
			tunnel.Certs = append(tunnel.Certs, fixture.CertFile{Local: c.Local, Remote: c.Remote})
		}
		if s.TLS.Generate {
			validity, err := s.TLS.Validity.Duration()
			if err != nil {
				return nil, fmt.Errorf("tls.validity: %w", err)
			}
			steps = append(steps, &fixture.GeneratedPKI{
				Source:      r.e.deps.Source,
				Dest:        r.dest.Host,
				ServerNames: serverNames(r.dest.Address, s.Destination.URI),
				Validity:    validity,
			})
		}
	}
	steps = append(steps, tunnel)

	for _, se := range s.Setup.SELinux {
		host, err := r.host(se.Host)
		if err != nil {
			return nil, err
		}
		steps = append(steps, &fixture.SecurityMode{Host: host, Mode: fixture.SELinuxMode(se.Mode)})
	}

	for _, c := range s.Setup.ConfigEdits {
		host, err := r.host(c.Host)
		if err != nil {
			return nil, err
		}
		steps = append(steps, &fixture.ConfigEdit{
			Host:     host,
			Path:     c.Path,
			Settings: c.Settings,
			Service:  c.Service,
		})
	}

	for _, m := range s.Setup.Mounts {
		host, err := r.host(m.Host)
		if err != nil {
			return nil, err
		}
		steps = append(steps, &fixture.Mount{
			Host:    host,
			Source:  m.Source,
			Target:  m.Target,
			FSType:  m.FSType,
			Options: m.Options,
		})
	}

	for i, d := range s.Setup.DiskImages {
		host, err := r.host(d.Host)
		if err != nil {
			return nil, err
		}
		size, err := d.Size.Bytes()
		if err != nil {
			return nil, fmt.Errorf("setup.diskImages[%d].size: %w", i, err)
		}
		steps = append(steps, &fixture.DiskImage{
			Host:        host,
			Path:        d.Path,
			Format:      d.Format,
			Size:        size,
			BackingFile: d.BackingFile,
		})
	}

	if s.Migration.CreateTargetImages {
		steps = append(steps, &fixture.DestinationImages{
			Virsh:  r.e.deps.SourceDomains,
			Domain: s.Domain,
			Source: r.e.deps.Source,
			Dest:   r.dest.Host,
		})
	}

	if g := s.Setup.GuestXML; g != nil {
		opts, err := g.Options()
		if err != nil {
			return nil, err
		}
		guest := &fixture.GuestXML{
			Virsh:   r.e.deps.SourceDomains,
			Domain:  s.Domain,
			Options: opts,
			TempDir: r.e.tempDir,
		}
		if g.CPU != nil && g.CPU.Baseline {
			guest.Baseline = &fixture.CPUBaseline{
				Virsh:   r.e.deps.SourceDomains,
				Hosts:   []fixture.Host{r.e.deps.Source, r.dest.Host},
				TempDir: r.e.tempDir,
			}
		}
		steps = append(steps, guest)
	}

	for _, a := range s.Setup.AttachDisks {
		steps = append(steps, &fixture.AttachDevice{
			Virsh:  r.e.deps.SourceDomains,
			Domain: s.Domain,
			Disk: vmm.DiskConfig{
				Path:   a.Path,
				Target: a.Target,
				Bus:    a.Bus,
				Format: a.Format,
				Cache:  a.Cache,
				Device: a.Device,
			},
			TempDir: r.e.tempDir,
		})
	}

	for i, p := range s.Setup.Processes {
		host, err := r.host(p.Host)
		if err != nil {
			return nil, err
		}
		args, err := scenario.SplitArgs(p.Command)
		if err != nil {
			return nil, fmt.Errorf("setup.processes[%d].command: %w", i, err)
		}
		steps = append(steps, &fixture.Process{Host: host, Command: args})
	}

	return steps, nil
}

// serverNames lists the destination address and the URI host once each.
func serverNames(address, uri string) []string {
	var names []string
	if address != "" {
		names = append(names, address)
	}
	if u, err := url.Parse(uri); err == nil && u.Hostname() != "" && u.Hostname() != address {
		names = append(names, u.Hostname())
	}
	return names
}

func (r *run) host(name string) (fixture.Host, error) {
	switch name {
	case scenario.HostSource:
		return r.e.deps.Source, nil
	case scenario.HostDestination:
		return r.dest.Host, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownHost, name)
	}
}
