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
	"fmt"
	"os"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
)

// Definer reads and (re)defines persistent guest definitions.
type Definer interface {
	DumpXML(ctx context.Context, domain string) (string, error)
	Define(ctx context.Context, path string) error
}

// GuestXML rewrites the persistent definition of Domain before migration.
// Release defines the original XML again.
type GuestXML struct {
	Virsh   Definer
	Domain  string
	Options vmm.GuestXMLOptions
	// Baseline, when set, replaces Options.CPU with the computed baseline.
	Baseline *CPUBaseline
	// TempDir holds the backup and the rewritten XML. Defaults to
	// os.TempDir().
	TempDir string
}

func (g *GuestXML) Name() string        { return "guest-xml/" + g.Domain }
func (g *GuestXML) Kind() registry.Kind { return registry.KindModifiedConfig }

func (g *GuestXML) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	original, err := g.Virsh.DumpXML(ctx, g.Domain)
	if err != nil {
		return nil, err
	}

	opts := g.Options
	if g.Baseline != nil {
		cpu, err := g.Baseline.Compute(ctx)
		if err != nil {
			return nil, err
		}
		opts.CPU = cpu
	}

	prepared, err := vmm.PrepareGuestXML(original, opts)
	if err != nil {
		return nil, err
	}
	if prepared == original {
		return nil, nil
	}

	backup, err := writeTemp(g.TempDir, fmt.Sprintf("virtmig-%s-orig-*.xml", g.Domain), original)
	if err != nil {
		return nil, err
	}
	restore := func(ctx context.Context) error {
		if err := g.Virsh.Define(ctx, backup); err != nil {
			return err
		}
		return os.Remove(backup)
	}

	path, err := writeTemp(g.TempDir, fmt.Sprintf("virtmig-%s-*.xml", g.Domain), prepared)
	if err != nil {
		_ = os.Remove(backup)
		return nil, err
	}
	defer os.Remove(path)

	if err := g.Virsh.Define(ctx, path); err != nil {
		// A failed define leaves the original in place, restoring is harmless.
		return restore, err
	}
	return restore, nil
}
