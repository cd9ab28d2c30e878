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
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/alexandremahdhaoui/virtmig/internal/util/ssh"
	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/execcontext"
)

var (
	errHostCommand = errors.New("host command failed")
	errParsePid    = errors.New("cannot parse pid of remote process")
)

// StopFunc stops a process started through Host.Start.
type StopFunc func(ctx context.Context) error

// Host is where a step applies its side effect: the local source host or a
// remote destination host.
type Host interface {
	Name() string
	Local() bool
	// Run executes cmd and returns its stdout. A non-zero exit is an error
	// carrying stderr.
	Run(ctx context.Context, cmd ...string) (string, error)
	// Start launches cmd in the background.
	Start(ctx context.Context, cmd ...string) (StopFunc, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// LocalHost runs commands through a command.Runner.
type LocalHost struct {
	runner command.Runner
}

func NewLocalHost(runner command.Runner) *LocalHost {
	return &LocalHost{runner: runner}
}

func (h *LocalHost) Name() string { return "localhost" }
func (h *LocalHost) Local() bool  { return true }

func (h *LocalHost) Run(ctx context.Context, cmd ...string) (string, error) {
	if len(cmd) == 0 {
		return "", command.ErrEmptyCommand
	}
	res, err := h.runner.Run(ctx, cmd[0], cmd[1:]...)
	if err != nil {
		return "", errors.Join(err, errHostCommand)
	}
	if !res.Success() {
		return res.Stdout, errors.Join(
			fmt.Errorf("%s: exit status %d: %s", cmd[0], res.ExitCode, strings.TrimSpace(res.Stderr)),
			errHostCommand,
		)
	}
	return res.Stdout, nil
}

func (h *LocalHost) Start(ctx context.Context, cmd ...string) (StopFunc, error) {
	if len(cmd) == 0 {
		return nil, command.ErrEmptyCommand
	}
	proc, err := h.runner.Start(ctx, cmd[0], cmd[1:]...)
	if err != nil {
		return nil, err
	}
	return func(context.Context) error {
		if err := proc.Kill(); err != nil {
			return err
		}
		<-proc.Done()
		return nil
	}, nil
}

func (h *LocalHost) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile keeps the permissions of an existing file.
func (h *LocalHost) WriteFile(_ context.Context, path string, data []byte) error {
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return os.WriteFile(path, data, perm)
}

// RemoteHost runs commands over SSH.
type RemoteHost struct {
	client  ssh.RemoteHost
	execCtx execcontext.Context
}

func NewRemoteHost(client ssh.RemoteHost, execCtx execcontext.Context) *RemoteHost {
	if execCtx == nil {
		execCtx = execcontext.Empty()
	}
	return &RemoteHost{client: client, execCtx: execCtx}
}

func (h *RemoteHost) Name() string { return h.client.Address() }
func (h *RemoteHost) Local() bool  { return false }

func (h *RemoteHost) Run(_ context.Context, cmd ...string) (string, error) {
	if len(cmd) == 0 {
		return "", command.ErrEmptyCommand
	}
	stdout, stderr, err := h.client.Run(h.execCtx, cmd...)
	if err != nil {
		status, _ := ssh.ExitStatus(err)
		return stdout, errors.Join(
			err,
			fmt.Errorf("host=%s %s: exit status %d: %s", h.Name(), cmd[0], status, strings.TrimSpace(stderr)),
			errHostCommand,
		)
	}
	return stdout, nil
}

// Start runs cmd under nohup and stops it by pid.
func (h *RemoteHost) Start(ctx context.Context, cmd ...string) (StopFunc, error) {
	if len(cmd) == 0 {
		return nil, command.ErrEmptyCommand
	}
	script := fmt.Sprintf("nohup %s >/dev/null 2>&1 & echo $!", shellescape.QuoteCommand(cmd))
	out, err := h.Run(ctx, "sh", "-c", script)
	if err != nil {
		return nil, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("output=%q", out), errParsePid)
	}

	return func(ctx context.Context) error {
		_, err := h.Run(ctx, "kill", strconv.Itoa(pid))
		return err
	}, nil
}

// ReadFile copies path to a local temporary file and reads it.
func (h *RemoteHost) ReadFile(ctx context.Context, path string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "virtmig-remote-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, filepath.Base(path))
	if err := h.client.CopyFromRemote(ctx, path, local); err != nil {
		return nil, err
	}
	return os.ReadFile(local)
}

// WriteFile writes data to a local temporary file and copies it to path.
func (h *RemoteHost) WriteFile(ctx context.Context, path string, data []byte) error {
	dir, err := os.MkdirTemp("", "virtmig-remote-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return err
	}
	return h.client.CopyToRemote(ctx, local, path)
}
