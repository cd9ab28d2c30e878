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

package fixture

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
	"libvirt.org/go/libvirtxml"
)

var errNoBaselineHosts = errors.New("cpu baseline needs at least one host")

// CPUBaseliner computes the CPU model shared by the <cpu> elements of a file.
type CPUBaseliner interface {
	CPUBaseline(ctx context.Context, path string) (string, error)
}

// CPUBaseline computes a guest CPU that every host in Hosts can run, so a
// guest can migrate between hosts of different vendors.
type CPUBaseline struct {
	Virsh CPUBaseliner
	Hosts []Host
	// TempDir holds the concatenated host CPU descriptions. Defaults to
	// os.TempDir().
	TempDir string
}

func (b *CPUBaseline) Compute(ctx context.Context) (*libvirtxml.DomainCPU, error) {
	if len(b.Hosts) == 0 {
		return nil, errNoBaselineHosts
	}

	cpus := make([]string, 0, len(b.Hosts))
	for _, h := range b.Hosts {
		caps, err := h.Run(ctx, "virsh", "capabilities")
		if err != nil {
			return nil, err
		}
		cpu, err := vmm.HostCPUXML(caps)
		if err != nil {
			return nil, errors.Join(err, errHostCommand)
		}
		cpus = append(cpus, cpu)
	}

	path, err := writeTemp(b.TempDir, "virtmig-cpus-*.xml", strings.Join(cpus, "\n"))
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	out, err := b.Virsh.CPUBaseline(ctx, path)
	if err != nil {
		return nil, err
	}
	return vmm.ParseCPU(out)
}
