// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/alexandremahdhaoui/virtmig/internal/util/ssh"
	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/execcontext"
	"github.com/alexandremahdhaoui/virtmig/pkg/fixture"
	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/alexandremahdhaoui/virtmig/pkg/runner"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"github.com/alexandremahdhaoui/virtmig/pkg/virsh"
	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
)

const (
	sshAwaitTimeout  = 30 * time.Second
	sshAwaitInterval = 2 * time.Second
)

var (
	errNoDestinationHost = errors.New("cannot determine destination host")
	errNoCredentials     = errors.New("no SSH credentials for the destination")
)

// wiring owns the long-lived collaborators of a run invocation.
type wiring struct {
	executor *runner.Executor
	closers  []func() error
}

func (w *wiring) Close() error {
	var errs []error
	for _, c := range w.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func newWiring(cfg *Config, metrics *Metrics) (*wiring, error) {
	execCtx := execcontext.Sudo(cfg.Sudo)
	local := command.NewLocal(execCtx)

	source := virsh.New(local, virsh.WithBinary(cfg.VirshBinary), virsh.WithConnectURI(cfg.SourceURI))

	w := &wiring{}

	var backend runner.Backend = source
	if cfg.Backend == BackendLibvirt {
		v, err := vmm.NewVMM(vmm.WithConnectURI(cfg.SourceURI))
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, v.Close)
		backend = v
	}

	deps := runner.Dependencies{
		Runner:        local,
		Source:        fixture.NewLocalHost(local),
		SourceDomains: source,
		Backend:       backend,
		Builder:       source,
		Destination:   destinationFunc(cfg, local),
	}

	opts := []runner.Option{
		runner.WithControllerOptions(
			migration.WithConfig(cfg.MigrationConfig()),
			migration.WithMetrics(metrics.Migration),
		),
		runner.WithRegistryOptions(registry.WithMetrics(metrics.Resources)),
	}
	if cfg.TempDir != "" {
		opts = append(opts, runner.WithTempDir(cfg.TempDir))
	}

	w.executor = runner.New(deps, opts...)
	return w, nil
}

// destinationFunc reaches the destination through SSH for fixtures and
// through virsh with the scenario URI for guest management.
func destinationFunc(cfg *Config, local command.Runner) runner.DestinationFunc {
	return func(ctx context.Context, s *scenario.Scenario) (*runner.Destination, error) {
		host, err := destinationHost(s, cfg.Destination.Host)
		if err != nil {
			return nil, err
		}

		var client *ssh.Client
		switch {
		case cfg.Destination.Password != "":
			client = ssh.NewPasswordClient(host, cfg.Destination.User, cfg.Destination.Password, cfg.Destination.Port)
		case cfg.Destination.PrivateKeyPath != "":
			client, err = ssh.NewClient(host, cfg.Destination.User, cfg.Destination.PrivateKeyPath, cfg.Destination.Port)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errNoCredentials
		}

		if err := client.AwaitServer(ctx, sshAwaitTimeout, sshAwaitInterval); err != nil {
			return nil, err
		}

		return &runner.Destination{
			Host:    fixture.NewRemoteHost(client, execcontext.Sudo(cfg.Sudo)),
			Domains: virsh.New(local, virsh.WithBinary(cfg.VirshBinary), virsh.WithConnectURI(s.Destination.URI)),
			Address: host,
		}, nil
	}
}

// destinationHost picks the scenario host, then the URI host, then fallback.
func destinationHost(s *scenario.Scenario, fallback string) (string, error) {
	if s.Destination.Host != "" {
		return s.Destination.Host, nil
	}
	u, err := url.Parse(s.Destination.URI)
	if err == nil && u.Hostname() != "" {
		return u.Hostname(), nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: uri=%s", errNoDestinationHost, s.Destination.URI)
}
