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
	"log/slog"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
)

// DomainRemover removes a guest from a hypervisor.
type DomainRemover interface {
	DomainExists(ctx context.Context, domain string) (bool, error)
	Destroy(ctx context.Context, domain string) error
	Undefine(ctx context.Context, domain string) error
}

// DestinationCleanup is registered before launch. Its release removes the
// migrated guest from the destination so the next scenario starts clean.
// Acquire has no side effect.
type DestinationCleanup struct {
	Destination DomainRemover
	Domain      string
}

func (d *DestinationCleanup) Name() string        { return "destination/" + d.Domain }
func (d *DestinationCleanup) Kind() registry.Kind { return registry.KindDomain }

func (d *DestinationCleanup) Acquire(context.Context) (registry.ReleaseFunc, error) {
	return d.release, nil
}

func (d *DestinationCleanup) release(ctx context.Context) error {
	exists, err := d.Destination.DomainExists(ctx, d.Domain)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	// A shut off or transient guest cannot be destroyed.
	if err := d.Destination.Destroy(ctx, d.Domain); err != nil {
		slog.DebugContext(ctx, "destroy failed", "domain", d.Domain, "err", err)
	}

	if err := d.Destination.Undefine(ctx, d.Domain); err != nil {
		// a transient guest disappears on destroy
		if exists, existsErr := d.Destination.DomainExists(ctx, d.Domain); existsErr == nil && !exists {
			return nil
		}
		return err
	}
	return nil
}
