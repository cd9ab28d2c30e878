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

// Package command dispatches local commands either synchronously or as
// managed background processes.
package command

import (
	"context"
	"errors"
	"os"
	"strings"
)

var (
	ErrEmptyCommand  = errors.New("command name is required")
	ErrStartProcess  = errors.New("failed to start process")
	ErrProcessExited = errors.New("process already exited")
	ErrSignalProcess = errors.New("failed to signal process")
	ErrKillProcess   = errors.New("failed to kill process")
	ErrRunCommand    = errors.New("failed to run command")
)

// Result holds the exit status and captured output of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Clean reports whether the command exited with status 0 and wrote nothing
// to stderr.
func (r Result) Clean() bool {
	return r.Success() && strings.TrimSpace(r.Stderr) == ""
}

// Runner runs commands on the local host.
type Runner interface {
	// Run executes the command and blocks until it exits. A non-zero exit
	// status is reported through Result.ExitCode, not as an error; err is
	// only set when the command could not be run at all.
	Run(ctx context.Context, name string, args ...string) (Result, error)

	// Start launches the command in the background.
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// Process is a handle on a background command.
type Process interface {
	Pid() int
	// Alive reports whether the process has not exited yet.
	Alive() bool
	Signal(sig os.Signal) error
	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}
	// Wait blocks until the process exits and returns its captured output.
	// It may be called several times; every call returns the same Result.
	Wait() (Result, error)
	Kill() error
}
