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

package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/alexandremahdhaoui/virtmig/pkg/execcontext"
	"golang.org/x/sync/errgroup"
)

// Local runs commands on this host through an execcontext.Context.
type Local struct {
	execCtx execcontext.Context
}

// NewLocal returns a Runner applying execCtx (env vars, sudo) to every command.
func NewLocal(execCtx execcontext.Context) *Local {
	if execCtx == nil {
		execCtx = execcontext.Empty()
	}
	return &Local{execCtx: execCtx}
}

// Run implements Runner.
func (l *Local) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if name == "" {
		return Result{}, ErrEmptyCommand
	}

	cmd := exec.CommandContext(ctx, name, args...)
	execcontext.ApplyToCmd(l.execCtx, cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.DebugContext(ctx, "running command", "cmd", execcontext.FormatCmd(l.execCtx, append([]string{name}, args...)...))

	err := cmd.Run()
	res := Result{
		ExitCode: exitCode(cmd, err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, errors.Join(err, fmt.Errorf("cmd=%s", name), ErrRunCommand)
	}

	return res, nil
}

// Start implements Runner. The process is not bound to ctx: it keeps running
// until it exits on its own or is signalled/killed through the handle.
func (l *Local) Start(ctx context.Context, name string, args ...string) (Process, error) {
	if name == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(name, args...)
	execcontext.ApplyToCmd(l.execCtx, cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Join(err, ErrStartProcess)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Join(err, ErrStartProcess)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Join(err, fmt.Errorf("cmd=%s", name), ErrStartProcess)
	}

	slog.DebugContext(ctx, "started background command",
		"cmd", execcontext.FormatCmd(l.execCtx, append([]string{name}, args...)...),
		"pid", cmd.Process.Pid,
	)

	p := &localProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go p.collect(stdout, stderr)

	return p, nil
}

type localProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	result Result
	err    error
}

// collect drains both pipes concurrently, then reaps the process.
func (p *localProcess) collect(stdout, stderr io.Reader) {
	var outBuf, errBuf bytes.Buffer

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})
	drainErr := g.Wait()

	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.result = Result{
		ExitCode: exitCode(p.cmd, waitErr),
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.err = waitErr
	} else if drainErr != nil {
		p.err = drainErr
	}
	p.mu.Unlock()

	close(p.done)
}

func (p *localProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *localProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	// Signal 0 only checks that the process exists.
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (p *localProcess) Signal(sig os.Signal) error {
	if !p.Alive() {
		return ErrProcessExited
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrProcessExited
		}
		return errors.Join(err, fmt.Errorf("pid=%d signal=%s", p.Pid(), sig), ErrSignalProcess)
	}
	return nil
}

func (p *localProcess) Done() <-chan struct{} {
	return p.done
}

func (p *localProcess) Wait() (Result, error) {
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

func (p *localProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Join(err, fmt.Errorf("pid=%d", p.Pid()), ErrKillProcess)
	}
	return nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
