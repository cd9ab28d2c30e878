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
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/opencontainers/selinux/go-selinux"
)

// SELinuxMode is an enforcing mode as printed by getenforce.
type SELinuxMode string

const (
	SELinuxEnforcing  SELinuxMode = "Enforcing"
	SELinuxPermissive SELinuxMode = "Permissive"
	SELinuxDisabled   SELinuxMode = "Disabled"
)

var errUnknownSELinuxMode = errors.New("unknown SELinux mode")

// SELinux is the local SELinux state. It is satisfied by the go-selinux
// package through LocalSELinux.
type SELinux interface {
	Mode() SELinuxMode
	SetMode(mode SELinuxMode) error
}

type localSELinux struct{}

// LocalSELinux reads and changes the SELinux mode of this host.
func LocalSELinux() SELinux { return localSELinux{} }

func (localSELinux) Mode() SELinuxMode {
	if !selinux.GetEnabled() {
		return SELinuxDisabled
	}
	switch selinux.EnforceMode() {
	case selinux.Enforcing:
		return SELinuxEnforcing
	case selinux.Permissive:
		return SELinuxPermissive
	default:
		return SELinuxDisabled
	}
}

func (localSELinux) SetMode(mode SELinuxMode) error {
	switch mode {
	case SELinuxEnforcing:
		return selinux.SetEnforceMode(selinux.Enforcing)
	case SELinuxPermissive:
		return selinux.SetEnforceMode(selinux.Permissive)
	default:
		return fmt.Errorf("%w: %q", errUnknownSELinuxMode, mode)
	}
}

// SecurityMode switches SELinux to Mode on Host and restores the previous
// mode on release. A host with SELinux disabled, or already in Mode, is
// left alone.
type SecurityMode struct {
	Host Host
	Mode SELinuxMode
	// Local is used when Host is local. Defaults to LocalSELinux().
	Local SELinux
}

func (s *SecurityMode) Name() string {
	return fmt.Sprintf("selinux/%s:%s", s.Host.Name(), strings.ToLower(string(s.Mode)))
}
func (s *SecurityMode) Kind() registry.Kind { return registry.KindSecurityModeOverride }

func (s *SecurityMode) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	if s.Mode != SELinuxEnforcing && s.Mode != SELinuxPermissive {
		return nil, fmt.Errorf("%w: %q", errUnknownSELinuxMode, s.Mode)
	}

	prev, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if prev == SELinuxDisabled || prev == s.Mode {
		return nil, nil
	}

	if err := s.set(ctx, s.Mode); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return s.set(ctx, prev)
	}, nil
}

func (s *SecurityMode) current(ctx context.Context) (SELinuxMode, error) {
	if s.Host.Local() {
		return s.local().Mode(), nil
	}

	out, err := s.Host.Run(ctx, "getenforce")
	if err != nil {
		return "", err
	}
	mode := SELinuxMode(strings.TrimSpace(out))
	switch mode {
	case SELinuxEnforcing, SELinuxPermissive, SELinuxDisabled:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownSELinuxMode, mode)
	}
}

func (s *SecurityMode) set(ctx context.Context, mode SELinuxMode) error {
	if s.Host.Local() {
		return s.local().SetMode(mode)
	}

	value := "0"
	if mode == SELinuxEnforcing {
		value = "1"
	}
	_, err := s.Host.Run(ctx, "setenforce", value)
	return err
}

func (s *SecurityMode) local() SELinux {
	if s.Local != nil {
		return s.Local
	}
	return LocalSELinux()
}
