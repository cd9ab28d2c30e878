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
	"context"
	"fmt"

	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
)

const stateRunning = "running"

// check runs the post-migration checks of a completed job and returns the
// first one that does not hold.
func (r *run) check(ctx context.Context) error {
	domain := r.req.Domain

	for _, name := range r.scenario.Checks {
		var err error
		switch name {
		case scenario.CheckDestinationRunning:
			err = r.expectState(ctx, r.dest.Domains, r.req.TargetName(), true)
		case scenario.CheckSourceGone:
			err = r.expectState(ctx, r.e.deps.SourceDomains, domain, false)
		case scenario.CheckSourceUndefined:
			var exists bool
			if exists, err = r.e.deps.SourceDomains.DomainExists(ctx, domain); err == nil && exists {
				err = fmt.Errorf("domain %s is still defined on the source", domain)
			}
		default:
			err = fmt.Errorf("unknown check %q", name)
		}

		details := map[string]any{"check": name, "passed": err == nil}
		if err != nil {
			details["error"] = err.Error()
		}
		r.record(EventCheck, details)

		if err != nil {
			return fmt.Errorf("%w: %s: %w", errCheckFailed, name, err)
		}
	}
	return nil
}

// expectState checks whether domain is running on d. A domain that no
// longer exists counts as not running.
func (r *run) expectState(ctx context.Context, d Domains, domain string, running bool) error {
	exists, err := d.DomainExists(ctx, domain)
	if err != nil {
		return err
	}

	state := "undefined"
	if exists {
		if state, err = d.DomainState(ctx, domain); err != nil {
			return err
		}
	}

	if (state == stateRunning) != running {
		return fmt.Errorf("domain %s is %s", domain, state)
	}
	return nil
}
