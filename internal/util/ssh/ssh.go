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

// Package ssh runs commands on and copies files to a remote host. Setup,
// monitoring and teardown all go through the same Runner.
package ssh

import (
	"context"
	"errors"

	"github.com/alexandremahdhaoui/virtmig/pkg/execcontext"
	"golang.org/x/crypto/ssh"
)

// Runner defines the interface for executing commands on a remote host.
type Runner interface {
	Run(ctx execcontext.Context, cmd ...string) (stdout, stderr string, err error)
}

// Copier transfers single files to and from a remote host.
type Copier interface {
	CopyToRemote(ctx context.Context, localPath, remotePath string) error
	CopyFromRemote(ctx context.Context, remotePath, localPath string) error
}

// RemoteHost is a Runner that can also copy files.
type RemoteHost interface {
	Runner
	Copier
	Address() string
}

// ExitStatus returns the exit status carried by an error returned from Run.
// ok is false when the command did not run to completion on the remote side.
func ExitStatus(err error) (status int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return -1, false
}
