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

// Package fixture implements the setup steps of a migration scenario. Each
// Step acquires one resource and hands back the function that releases it,
// which Apply registers into a registry.Registry.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
)

// Step is a named acquire/release pair.
type Step interface {
	Name() string
	Kind() registry.Kind
	// Acquire performs the side effect. The returned release undoes it and
	// may be nil when there is nothing to undo. When Acquire fails after a
	// partial side effect it returns a non-nil release together with the
	// error.
	Acquire(ctx context.Context) (registry.ReleaseFunc, error)
}

// Apply acquires steps in order and registers each release as soon as it
// exists. It stops at the first failure, which is wrapped in
// migration.ErrSetup. Already-registered resources are left for the
// caller's teardown.
func Apply(ctx context.Context, reg *registry.Registry, steps ...Step) error {
	for _, step := range steps {
		if _, err := Acquire(ctx, reg, step); err != nil {
			return err
		}
	}
	return nil
}

// Acquire acquires a single step and registers its release. The returned
// release is the registered one, so calling it early (e.g. healing a
// partition mid-migration) makes the later teardown a no-op.
func Acquire(ctx context.Context, reg *registry.Registry, step Step) (registry.ReleaseFunc, error) {
	slog.InfoContext(ctx, "acquiring resource", "step", step.Name(), "kind", step.Kind())

	release, err := step.Acquire(ctx)
	if release != nil {
		release = Once(release)
		reg.Register(registry.Resource{
			Kind:    step.Kind(),
			Name:    step.Name(),
			Release: release,
		})
	}
	if err != nil {
		return release, errors.Join(fmt.Errorf("step %q", step.Name()), err, migration.ErrSetup)
	}
	return release, nil
}

// Once makes release safe to call several times; only the first call runs.
func Once(release registry.ReleaseFunc) registry.ReleaseFunc {
	var (
		once sync.Once
		err  error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			err = release(ctx)
		})
		return err
	}
}

// Func adapts plain functions into a Step.
type Func struct {
	StepName string
	StepKind registry.Kind
	Fn       func(ctx context.Context) (registry.ReleaseFunc, error)
}

func (f Func) Name() string        { return f.StepName }
func (f Func) Kind() registry.Kind { return f.StepKind }

func (f Func) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	return f.Fn(ctx)
}
