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

package migration

import "errors"

var (
	// ErrSetup means a prerequisite step failed before any migration attempt.
	ErrSetup = errors.New("scenario setup failed")
	// ErrLaunch means the job never reached RUNNING.
	ErrLaunch = errors.New("migration job failed to launch")
	// ErrDaemon wraps a failed job query or control call.
	ErrDaemon = errors.New("daemon call failed")
	// ErrTimeout means the job did not finish within the request timeout.
	ErrTimeout = errors.New("migration job timed out")
	// ErrUnexpectedOutcome means the observed phase contradicts the expectation.
	ErrUnexpectedOutcome = errors.New("unexpected migration outcome")
	// ErrTeardown means at least one resource failed to release.
	ErrTeardown = errors.New("teardown failed")
	// ErrNotRunning is returned by operations only valid while the job is RUNNING.
	ErrNotRunning = errors.New("migration job is not running")
	// ErrAbortUnconfirmed means an acknowledged abort was not reflected in the
	// job process error output.
	ErrAbortUnconfirmed = errors.New("abort acknowledged but cancellation not reported by the job")
	// ErrJobInProgress is returned when Launch is called twice on one Controller.
	ErrJobInProgress = errors.New("controller already owns a migration job")

	errInvalidRequest   = errors.New("invalid migration request")
	errPollCeiling      = errors.New("no job observed within the poll ceiling")
	errTerminated       = errors.New("job process terminated during teardown")
	errNoCommandBuilder = errors.New("migration command builder is required")
)
