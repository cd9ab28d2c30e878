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

// Package virsh drives libvirt through the virsh command line. Client
// implements the migration job query and control interfaces and renders
// migration requests into "virsh migrate" invocations.
package virsh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
)

const DefaultBinary = "virsh"

var (
	ErrVirsh        = errors.New("virsh command failed")
	errParseJobInfo = errors.New("cannot parse domjobinfo output")
	errParseSize    = errors.New("cannot parse size")
)

// Client runs virsh commands against one connection URI.
type Client struct {
	runner     command.Runner
	binary     string
	connectURI string
}

type Option func(*Client)

func WithBinary(binary string) Option {
	return func(c *Client) {
		c.binary = binary
	}
}

// WithConnectURI makes every command run with "--connect uri".
func WithConnectURI(uri string) Option {
	return func(c *Client) {
		c.connectURI = uri
	}
}

func New(runner command.Runner, opts ...Option) *Client {
	c := &Client{
		runner: runner,
		binary: DefaultBinary,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectURI returns the URI the client talks to, empty for the default.
func (c *Client) ConnectURI() string {
	return c.connectURI
}

func (c *Client) args(args ...string) []string {
	if c.connectURI == "" {
		return args
	}
	return append([]string{"--connect", c.connectURI}, args...)
}

// run executes a virsh subcommand and returns its stdout. A non-zero exit
// status is an error carrying stderr.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	res, err := c.runner.Run(ctx, c.binary, c.args(args...)...)
	if err != nil {
		return "", errors.Join(err, ErrVirsh)
	}
	if !res.Success() {
		return "", errors.Join(
			fmt.Errorf("virsh %s: exit status %d: %s", args[0], res.ExitCode, strings.TrimSpace(res.Stderr)),
			ErrVirsh,
		)
	}
	return res.Stdout, nil
}

// JobInfo implements migration.JobQuerier.
func (c *Client) JobInfo(ctx context.Context, domain string) (*migration.JobInfo, error) {
	out, err := c.run(ctx, "domjobinfo", domain)
	if err != nil {
		return nil, err
	}
	return ParseJobInfo(out)
}

// AbortJob implements migration.JobControl.
func (c *Client) AbortJob(ctx context.Context, domain string) error {
	_, err := c.run(ctx, "domjobabort", domain)
	return err
}

// SetMaxSpeed implements migration.JobControl.
func (c *Client) SetMaxSpeed(ctx context.Context, domain string, mibps uint64) error {
	_, err := c.run(ctx, "migrate-setspeed", domain, strconv.FormatUint(mibps, 10))
	return err
}

// SetMaxDowntime implements migration.JobControl.
func (c *Client) SetMaxDowntime(ctx context.Context, domain string, downtime time.Duration) error {
	_, err := c.run(ctx, "migrate-setmaxdowntime", domain, strconv.FormatInt(downtime.Milliseconds(), 10))
	return err
}

// SetCompressionCache implements migration.JobControl.
func (c *Client) SetCompressionCache(ctx context.Context, domain string, size uint64) error {
	_, err := c.run(ctx, "migrate-compcache", domain, "--size", strconv.FormatUint(size, 10))
	return err
}

// CompressionCache implements migration.JobControl.
func (c *Client) CompressionCache(ctx context.Context, domain string) (uint64, error) {
	out, err := c.run(ctx, "migrate-compcache", domain)
	if err != nil {
		return 0, err
	}
	return ParseCompressionCache(out)
}

// DomainState returns the first word of "virsh domstate", e.g. "running".
func (c *Client) DomainState(ctx context.Context, domain string) (string, error) {
	out, err := c.run(ctx, "domstate", domain)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", errors.Join(fmt.Errorf("empty domstate output for %q", domain), ErrVirsh)
	}
	return fields[0], nil
}

// DomainExists reports whether domain is defined on the connection.
func (c *Client) DomainExists(ctx context.Context, domain string) (bool, error) {
	out, err := c.run(ctx, "list", "--all", "--name")
	if err != nil {
		return false, err
	}
	for _, name := range strings.Fields(out) {
		if name == domain {
			return true, nil
		}
	}
	return false, nil
}

// DumpXML returns the persistent definition of domain.
func (c *Client) DumpXML(ctx context.Context, domain string) (string, error) {
	return c.run(ctx, "dumpxml", "--inactive", domain)
}

// Define (re)defines a domain from the XML file at path.
func (c *Client) Define(ctx context.Context, path string) error {
	_, err := c.run(ctx, "define", path)
	return err
}

// AttachDevice hot-plugs the device described by the XML file at path.
func (c *Client) AttachDevice(ctx context.Context, domain, path string) error {
	_, err := c.run(ctx, "attach-device", domain, path, "--live")
	return err
}

// DetachDevice unplugs the device described by the XML file at path.
func (c *Client) DetachDevice(ctx context.Context, domain, path string) error {
	_, err := c.run(ctx, "detach-device", domain, path, "--live")
	return err
}

// CPUBaseline returns the guest <cpu> element every CPU described in the
// file at path can run.
func (c *Client) CPUBaseline(ctx context.Context, path string) (string, error) {
	return c.run(ctx, "cpu-baseline", path)
}

func (c *Client) Destroy(ctx context.Context, domain string) error {
	_, err := c.run(ctx, "destroy", domain)
	return err
}

func (c *Client) Undefine(ctx context.Context, domain string) error {
	_, err := c.run(ctx, "undefine", domain)
	return err
}

// MigrateCommand implements migration.CommandBuilder. Tunables that virsh
// migrate cannot take on its command line (max downtime, compression cache)
// are left to the job control side channel.
func (c *Client) MigrateCommand(req migration.Request) (string, []string) {
	args := []string{"migrate"}

	flags := []struct {
		set  bool
		flag string
	}{
		{req.Live, "--live"},
		{req.Offline, "--offline"},
		{req.P2P, "--p2p"},
		{req.Tunnelled, "--tunnelled"},
		{req.Persistent, "--persistent"},
		{req.UndefineSource, "--undefinesource"},
		{req.Unsafe, "--unsafe"},
		{req.Verbose, "--verbose"},
		{req.Compressed, "--compressed"},
		{req.AutoConverge, "--auto-converge"},
		{req.PostCopy, "--postcopy"},
		{req.CopyStorageAll, "--copy-storage-all"},
		{req.CopyStorageInc, "--copy-storage-inc"},
		{req.AbortOnError, "--abort-on-error"},
	}
	for _, f := range flags {
		if f.set {
			args = append(args, f.flag)
		}
	}

	if req.Bandwidth > 0 {
		args = append(args, "--bandwidth", strconv.FormatUint(req.Bandwidth, 10))
	}
	if req.DestName != "" {
		args = append(args, "--dname", req.DestName)
	}

	args = append(args, req.ExtraArgs...)
	args = append(args, req.Domain, req.DestinationURI)

	return c.binary, c.args(args...)
}
