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
	"os"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"go.uber.org/multierr"
)

type Transport string

const (
	TransportSSH Transport = "ssh"
	TransportTCP Transport = "tcp"
	TransportTLS Transport = "tls"
)

var errUnknownTransport = errors.New("unknown transport")

// CertFile is a local certificate or key installed on the destination.
type CertFile struct {
	Local  string
	Remote string
}

// Tunnel prepares the destination daemon to accept a migration over the
// given transport. ssh only checks that the destination answers; tcp and tls
// start the matching libvirtd socket unit, tls first installs the
// certificates that are missing on the destination. Certs may be empty for
// tls when a GeneratedPKI step runs first.
type Tunnel struct {
	Transport Transport
	Dest      Host
	Certs     []CertFile
}

func (t *Tunnel) Name() string        { return fmt.Sprintf("tunnel/%s/%s", t.Transport, t.Dest.Name()) }
func (t *Tunnel) Kind() registry.Kind { return registry.KindTunnel }

func (t *Tunnel) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	switch t.Transport {
	case TransportSSH:
		_, err := t.Dest.Run(ctx, "true")
		return nil, err
	case TransportTCP:
		return t.startSocket(ctx, "libvirtd-tcp.socket", nil)
	case TransportTLS:
		installed, err := t.installCerts(ctx)
		removeCerts := func(ctx context.Context) error {
			var errs error
			for _, path := range installed {
				if _, err := t.Dest.Run(ctx, "rm", "-f", path); err != nil {
					errs = multierr.Append(errs, err)
				}
			}
			return errs
		}
		if err != nil {
			return removeCerts, err
		}
		return t.startSocket(ctx, "libvirtd-tls.socket", removeCerts)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownTransport, t.Transport)
	}
}

// startSocket starts unit and returns a release stopping it, then running
// after when set.
func (t *Tunnel) startSocket(ctx context.Context, unit string, after registry.ReleaseFunc) (registry.ReleaseFunc, error) {
	stop := func(ctx context.Context) error {
		_, err := t.Dest.Run(ctx, "systemctl", "stop", unit)
		if after != nil {
			err = multierr.Append(err, after(ctx))
		}
		return err
	}

	if _, err := t.Dest.Run(ctx, "systemctl", "start", unit); err != nil {
		if after != nil {
			return after, err
		}
		return nil, err
	}
	return stop, nil
}

// installCerts copies the certificates absent on the destination and
// returns the paths it created.
func (t *Tunnel) installCerts(ctx context.Context) ([]string, error) {
	var installed []string
	for _, cert := range t.Certs {
		if _, err := t.Dest.Run(ctx, "test", "-e", cert.Remote); err == nil {
			continue
		}

		data, err := os.ReadFile(cert.Local)
		if err != nil {
			return installed, err
		}
		if err := installFile(ctx, t.Dest, cert.Remote, data); err != nil {
			return installed, err
		}
		installed = append(installed, cert.Remote)
	}
	return installed, nil
}
