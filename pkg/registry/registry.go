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

// Package registry tracks the side-effecting resources acquired while a
// scenario is set up, and releases them in reverse acquisition order.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
)

var errReleasePanicked = errors.New("release panicked")

// Kind tags what a Resource represents.
type Kind string

const (
	KindTunnel               Kind = "tunnel"
	KindMount                Kind = "mount"
	KindAttachedDevice       Kind = "attached-device"
	KindCreatedFile          Kind = "created-file"
	KindModifiedConfig       Kind = "modified-config"
	KindSecurityModeOverride Kind = "security-mode-override"
	KindSpawnedProcess       Kind = "spawned-process"
	// KindDomain is a guest left on the destination host by a migration.
	KindDomain Kind = "domain"
)

// ReleaseFunc undoes the acquisition of a single resource.
type ReleaseFunc func(ctx context.Context) error

// Resource is one acquired resource together with the way to release it.
type Resource struct {
	Kind       Kind
	Name       string
	AcquiredAt time.Time
	Release    ReleaseFunc
}

func (r Resource) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.Name)
}

// Failure records a release that returned an error or panicked.
type Failure struct {
	Resource Resource
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("releasing %s: %s", f.Resource, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Registry is an ordered set of acquired resources. It is safe for
// concurrent use so that a signal-driven teardown cannot race a late Register.
type Registry struct {
	mu        sync.Mutex
	resources []Resource

	metrics *Metrics
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics reports release failures to m.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock overrides the clock used to stamp AcquiredAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends res. It never fails; a zero AcquiredAt is stamped with
// the current time.
func (r *Registry) Register(res Resource) {
	if res.AcquiredAt.IsZero() {
		res.AcquiredAt = r.now()
	}

	r.mu.Lock()
	r.resources = append(r.resources, res)
	r.mu.Unlock()

	slog.Debug("registered resource", "kind", res.Kind, "name", res.Name)
}

// Len returns the number of resources not yet released.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resources)
}

// Kinds returns the kinds of the pending resources in registration order.
func (r *Registry) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Kind, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res.Kind)
	}
	return out
}

// ReleaseAll drains the registry and releases every resource in reverse
// registration order. A failing or panicking release never prevents the
// others from running. The failures are returned, not raised; calling
// ReleaseAll again releases nothing and returns nil.
func (r *Registry) ReleaseAll(ctx context.Context) []Failure {
	r.mu.Lock()
	pending := r.resources
	r.resources = nil
	r.mu.Unlock()

	var failures []Failure
	for _, res := range slices.Backward(pending) {
		if err := release(ctx, res); err != nil {
			slog.ErrorContext(ctx, "failed to release resource",
				"kind", res.Kind,
				"name", res.Name,
				"error", err.Error(),
			)
			r.metrics.releaseFailed(res.Kind)
			failures = append(failures, Failure{Resource: res, Err: err})
			continue
		}

		slog.DebugContext(ctx, "released resource", "kind", res.Kind, "name", res.Name)
	}

	return failures
}

func release(ctx context.Context, res Resource) (err error) {
	if res.Release == nil {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errReleasePanicked, p)
		}
	}()

	return res.Release(ctx)
}

// Err combines failures into a single error, or returns nil when there are
// none.
func Err(failures []Failure) error {
	var err error
	for _, f := range failures {
		err = multierr.Append(err, f)
	}
	return err
}
