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
	"time"

	"github.com/alexandremahdhaoui/virtmig/internal/util/certutil"
	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"go.uber.org/multierr"
)

// Default locations where libvirtd and the virsh client look up their PKI.
const (
	LibvirtCACert     = "/etc/pki/CA/cacert.pem"
	LibvirtServerCert = "/etc/pki/libvirt/servercert.pem"
	LibvirtServerKey  = "/etc/pki/libvirt/private/serverkey.pem"
	LibvirtClientCert = "/etc/pki/libvirt/clientcert.pem"
	LibvirtClientKey  = "/etc/pki/libvirt/private/clientkey.pem"
)

var errPKIExists = errors.New("refusing to replace existing libvirt PKI")

// GeneratedPKI issues a throwaway CA, a server certificate for the
// destination and a client certificate for the source, and installs them at
// the libvirt default paths. It refuses to run when any of those files
// already exists so that no host PKI is ever overwritten.
type GeneratedPKI struct {
	Source Host
	Dest   Host
	// ServerNames are the DNS names and IPs the destination is reached by.
	ServerNames []string
	Validity    time.Duration
}

func (p *GeneratedPKI) Name() string        { return "pki/" + p.Dest.Name() }
func (p *GeneratedPKI) Kind() registry.Kind { return registry.KindCreatedFile }

type pkiFile struct {
	host    Host
	path    string
	data    []byte
	private bool
}

func (p *GeneratedPKI) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	files, err := p.issue()
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if _, err := f.host.Run(ctx, "test", "-e", f.path); err == nil {
			return nil, fmt.Errorf("%w: %s exists on %s", errPKIExists, f.path, f.host.Name())
		}
	}

	var installed []pkiFile
	release := func(ctx context.Context) error {
		var errs error
		for _, f := range installed {
			if _, err := f.host.Run(ctx, "rm", "-f", f.path); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}

	for _, f := range files {
		if err := installFile(ctx, f.host, f.path, f.data); err != nil {
			return release, err
		}
		installed = append(installed, f)
		if f.private {
			if _, err := f.host.Run(ctx, "chmod", "600", f.path); err != nil {
				return release, err
			}
		}
	}

	return release, nil
}

func (p *GeneratedPKI) issue() ([]pkiFile, error) {
	ca, err := certutil.NewCA("virtmig migration CA", p.Validity)
	if err != nil {
		return nil, err
	}

	serverCN := p.Dest.Name()
	if len(p.ServerNames) > 0 {
		serverCN = p.ServerNames[0]
	}
	serverKey, serverCert, err := ca.NewCertifiedKeyPEM(serverCN, p.ServerNames...)
	if err != nil {
		return nil, err
	}
	clientKey, clientCert, err := ca.NewCertifiedKeyPEM("virtmig client")
	if err != nil {
		return nil, err
	}

	return []pkiFile{
		{host: p.Dest, path: LibvirtCACert, data: ca.Cert()},
		{host: p.Dest, path: LibvirtServerCert, data: serverCert},
		{host: p.Dest, path: LibvirtServerKey, data: serverKey, private: true},
		{host: p.Source, path: LibvirtCACert, data: ca.Cert()},
		{host: p.Source, path: LibvirtClientCert, data: clientCert},
		{host: p.Source, path: LibvirtClientKey, data: clientKey, private: true},
	}, nil
}

// installFile creates the parent directory of path on h and writes data.
func installFile(ctx context.Context, h Host, path string, data []byte) error {
	if _, err := h.Run(ctx, "mkdir", "-p", dir(path)); err != nil {
		return err
	}
	return h.WriteFile(ctx, path, data)
}
