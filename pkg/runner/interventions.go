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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/fixture"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"golang.org/x/sync/errgroup"
)

var errUnknownAction = errors.New("unknown intervention action")

// intervene schedules every intervention relative to now, which is when
// the job was observed running. Interventions whose delay has not elapsed
// when jobCtx ends are skipped. The returned function waits for all of
// them, and for the partitions they heal, and returns the first failure.
func (r *run) intervene(jobCtx context.Context) func() error {
	var g errgroup.Group

	for i, iv := range r.scenario.Interventions {
		g.Go(func() error {
			after, err := iv.After.Duration()
			if err != nil {
				return fmt.Errorf("interventions[%d].after: %w", i, err)
			}

			timer := time.NewTimer(after)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-jobCtx.Done():
				slog.DebugContext(jobCtx, "job ended before intervention", "action", iv.Action)
				return nil
			}

			if info, err := r.e.deps.Backend.JobInfo(jobCtx, r.scenario.Domain); err == nil {
				r.snapshot(info)
			}

			details, err := r.apply(jobCtx, iv)
			if err = r.ignoreEnded(err); err != nil {
				r.record(EventInterventionFailed, map[string]any{"action": iv.Action, "error": err.Error()})
				return fmt.Errorf("intervention %s: %w", iv.Action, err)
			}

			if details == nil {
				details = map[string]any{}
			}
			details["action"] = iv.Action
			r.record(EventIntervention, details)
			return nil
		})
	}

	return func() error {
		err := g.Wait()
		r.heals.Wait()
		return err
	}
}

func (r *run) apply(ctx context.Context, iv scenario.InterventionSpec) (map[string]any, error) {
	slog.InfoContext(ctx, "applying intervention", "action", iv.Action, "value", iv.Value)

	switch iv.Action {
	case scenario.ActionCancel:
		// The cancel must run to completion even though the job ending
		// cancels ctx.
		o, err := r.ctrl.Cancel(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return map[string]any{"phase": o.Phase}, nil

	case scenario.ActionAbort:
		return nil, r.ctrl.Abort(ctx)

	case scenario.ActionSetSpeed:
		speed, err := scenario.ParseSpeed(iv.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bandwidth": speed}, r.ctrl.SetMaxSpeed(ctx, speed)

	case scenario.ActionSetMaxDowntime:
		downtime, err := scenario.ParseDowntime(iv.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"maxDowntime": downtime.String()}, r.ctrl.SetMaxDowntime(ctx, downtime)

	case scenario.ActionSetCompCache:
		size, err := scenario.ParseSize(iv.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"compressionCache": size}, r.ctrl.SetCompressionCache(ctx, size)

	case scenario.ActionGetCompCache:
		size, err := r.ctrl.CompressionCache(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"compressionCache": size}, nil

	case scenario.ActionPartition:
		return r.partition(ctx, iv)

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAction, iv.Action)
	}
}

// partition drops traffic toward the destination. The rule is registered
// like any fixture; with a duration it is healed early, making the
// teardown release a no-op.
func (r *run) partition(ctx context.Context, iv scenario.InterventionSpec) (map[string]any, error) {
	address := iv.Address
	if address == "" {
		var err error
		if address, err = r.resolve(ctx, r.dest.Address); err != nil {
			return nil, err
		}
	}

	fw, err := r.e.deps.Firewall(address)
	if err != nil {
		return nil, err
	}

	heal, err := fixture.Acquire(ctx, r.reg, &fixture.Partition{Address: address, Firewall: fw})
	if err != nil {
		return nil, err
	}
	details := map[string]any{"address": address}

	duration, err := iv.Duration.Duration()
	if err != nil || duration <= 0 || heal == nil {
		return details, err
	}
	details["duration"] = duration.String()

	r.heals.Add(1)
	go func() {
		defer r.heals.Done()

		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		if err := heal(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "failed to heal partition", "address", address, "error", err.Error())
			return
		}
		r.record(EventPartitionHealed, map[string]any{"address": address})
	}()

	return details, nil
}

func (r *run) resolve(ctx context.Context, host string) (string, error) {
	addrs, err := r.e.deps.Resolve(ctx, host)
	if err != nil {
		return "", errors.Join(err, fmt.Errorf("host=%s", host), errResolve)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: no address for %s", errResolve, host)
	}
	return addrs[0], nil
}
