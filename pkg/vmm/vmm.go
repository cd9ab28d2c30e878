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

// Package vmm talks to libvirt through its C API. VMM is the libvirt
// backend of the migration job query and control interfaces, and the
// package prepares guest XML with libvirtxml.
package vmm

import (
	"errors"
	"fmt"
	"log/slog"

	"libvirt.org/go/libvirt"
)

const DefaultURI = "qemu:///system"

var (
	errConnectLibvirt        = errors.New("failed to connect to libvirt")
	errLibvirtNotInitialized = errors.New("libvirt connection is not initialized")
	errLookupDomain          = errors.New("failed to look up domain")
)

// domain is the subset of *libvirt.Domain used by VMM.
type domain interface {
	GetJobStats(flags libvirt.DomainGetJobStatsFlags) (*libvirt.DomainJobInfo, error)
	AbortJob() error
	MigrateSetMaxSpeed(speed uint64, flags uint32) error
	MigrateSetMaxDowntime(downtime uint64, flags uint32) error
	MigrateSetCompressionCache(size uint64, flags uint32) error
	MigrateGetCompressionCache(flags uint32) (uint64, error)
	GetState() (libvirt.DomainState, int, error)
	Free() error
}

// VMM holds one libvirt connection.
type VMM struct {
	uri    string
	conn   *libvirt.Connect
	lookup func(name string) (domain, error)
}

// VMMOption is a function that modifies VMM configuration
type VMMOption func(*VMM)

// WithConnectURI sets the libvirt connection URI. Defaults to qemu:///system.
func WithConnectURI(uri string) VMMOption {
	return func(v *VMM) {
		v.uri = uri
	}
}

// NewVMM connects to libvirt.
func NewVMM(opts ...VMMOption) (*VMM, error) {
	v := &VMM{uri: DefaultURI}
	for _, opt := range opts {
		opt(v)
	}

	conn, err := libvirt.NewConnect(v.uri)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("uri=%s", v.uri), errConnectLibvirt)
	}
	v.conn = conn
	v.lookup = func(name string) (domain, error) {
		return conn.LookupDomainByName(name)
	}

	slog.Debug("connected to libvirt", "uri", v.uri)
	return v, nil
}

// Close closes the libvirt connection.
func (v *VMM) Close() error {
	if v.conn == nil {
		return nil
	}
	_, err := v.conn.Close()
	return err
}

// withDomain looks name up, runs fn and frees the domain handle.
func (v *VMM) withDomain(name string, fn func(dom domain) error) error {
	if v.lookup == nil {
		return errLibvirtNotInitialized
	}

	dom, err := v.lookup(name)
	if err != nil {
		return errors.Join(err, fmt.Errorf("domain=%s", name), errLookupDomain)
	}
	defer func() {
		if err := dom.Free(); err != nil {
			slog.Warn("failed to free domain handle", "domain", name, "error", err.Error())
		}
	}()

	return fn(dom)
}
